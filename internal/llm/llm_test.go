package llm

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	text  string
	err   error
	delay time.Duration

	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

// =========================================================================
// FALLBACK TESTS
// =========================================================================

func TestFallback_Success(t *testing.T) {
	p := &fakeProvider{text: "here is a beat"}
	f := NewFallback(p, time.Second, testLogger())

	res := f.Complete(context.Background(), "beat please")

	assert.Equal(t, "here is a beat", res.Text)
	assert.False(t, res.Fallback)
	assert.NoError(t, res.Err)
	assert.Equal(t, "fake", res.Provider)
	assert.Equal(t, 1, p.calls)
}

func TestFallback_ProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("503 overloaded")}
	f := NewFallback(p, time.Second, testLogger())

	res := f.Complete(context.Background(), "beat please")

	assert.Equal(t, FallbackText, res.Text)
	assert.True(t, res.Fallback)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, p.calls, "failures are not retried")
}

func TestFallback_EmptyResponse(t *testing.T) {
	f := NewFallback(&fakeProvider{}, time.Second, testLogger())

	res := f.Complete(context.Background(), "beat please")

	assert.True(t, res.Fallback)
	assert.ErrorIs(t, res.Err, ErrEmptyResponse)
}

func TestFallback_Timeout(t *testing.T) {
	p := &fakeProvider{text: "too late", delay: time.Second}
	f := NewFallback(p, 20*time.Millisecond, testLogger())

	start := time.Now()
	res := f.Complete(context.Background(), "beat please")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, res.Fallback)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestFallback_NoProvider(t *testing.T) {
	f := NewFallback(nil, 0, testLogger())

	text, err := f.Generate(context.Background(), "beat please")

	assert.NoError(t, err)
	assert.Equal(t, FallbackText, text)
	assert.Equal(t, "none", f.Name())
}

func TestFallbackText_HasRunnableCode(t *testing.T) {
	assert.Contains(t, FallbackText, "```javascript\nsetcpm(120)\nsound(\"bd sd hh, cr sd hh bd\")\n```")
}

func TestFallbackFor(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		tempo    int
		wantCode string
	}{
		{"plain", "drum loop", 0, "setcpm(120)\nsound(\"bd sd hh, cr sd hh bd\")"},
		{"keeps tempo", "a 90 bpm groove", 90, "setcpm(90)\nsound(\"bd sd hh, cr sd hh bd\")"},
		{"busy", "Something FAST and loud", 0, "setcpm(120)\nsound(\"bd sd hh cr, bd bd sd hh\")"},
		{"sparse", "a chill beat at 80", 80, "setcpm(80)\nsound(\"bd ~ sd ~, ~ hh ~ hh\")"},
		{"whole words only", "rocket launch", 0, "setcpm(120)\nsound(\"bd sd hh, cr sd hh bd\")"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackFor(tt.message, tt.tempo)
			assert.Contains(t, got, "```javascript\n"+tt.wantCode+"\n```")
		})
	}
	assert.Equal(t, FallbackText, FallbackFor("", 0))
}
