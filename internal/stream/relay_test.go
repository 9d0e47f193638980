package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingWriter records each Write call separately.
type countingWriter struct {
	chunks []string
	failAt int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.failAt > 0 && len(w.chunks) == w.failAt {
		return 0, errors.New("broken pipe")
	}
	w.chunks = append(w.chunks, string(p))
	return len(p), nil
}

func TestStream_OneRunePerWrite(t *testing.T) {
	w := &countingWriter{}
	r := NewRelay(0)

	n, err := r.Stream(context.Background(), w, "hé🎵")

	require.NoError(t, err)
	assert.Equal(t, len("hé🎵"), n)
	assert.Equal(t, []string{"h", "é", "🎵"}, w.chunks)
}

func TestStream_FlushesRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	r := NewRelay(time.Microsecond)

	_, err := r.Stream(context.Background(), rec, "sound(\"bd\")")

	require.NoError(t, err)
	assert.True(t, rec.Flushed)
	assert.Equal(t, "sound(\"bd\")", rec.Body.String())
}

func TestStream_CancelStopsEarly(t *testing.T) {
	w := &countingWriter{}
	r := NewRelay(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := r.Stream(ctx, w, strings.Repeat("x", 1000))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, len(w.chunks), 1000)
	assert.NotEmpty(t, w.chunks)
}

func TestStream_AlreadyCancelled(t *testing.T) {
	w := &countingWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := NewRelay(0).Stream(ctx, w, "abc")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}

func TestStream_WriteError(t *testing.T) {
	w := &countingWriter{failAt: 2}

	n, err := NewRelay(0).Stream(context.Background(), w, "abcdef")

	assert.Error(t, err)
	assert.Equal(t, 2, n)
}

func TestStream_Empty(t *testing.T) {
	w := &countingWriter{}

	n, err := NewRelay(0).Stream(context.Background(), w, "")

	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, w.chunks)
}
