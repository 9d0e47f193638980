// Package stream relays a finished model reply to the client one character at a
// time, so the UI can render it progressively.
package stream

import (
	"context"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

// DefaultInterval is the pause between characters.
const DefaultInterval = 10 * time.Millisecond

type Relay struct {
	Interval time.Duration
}

func NewRelay(interval time.Duration) *Relay {
	if interval < 0 {
		interval = 0
	}
	return &Relay{Interval: interval}
}

// Stream writes text to w rune by rune, flushing after each one when w is an
// http.Flusher. It returns the number of bytes written. A cancelled context stops
// the relay between characters and returns ctx.Err(); write errors (usually a
// disconnected client) are returned as is.
func (r *Relay) Stream(ctx context.Context, w io.Writer, text string) (int, error) {
	flusher, _ := w.(http.Flusher)

	var ticker *time.Ticker
	if r.Interval > 0 {
		ticker = time.NewTicker(r.Interval)
		defer ticker.Stop()
	}

	var buf [utf8.UTFMax]byte
	written := 0
	for i, ch := range text {
		if i > 0 && ticker != nil {
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return written, err
		}

		n := utf8.EncodeRune(buf[:], ch)
		m, err := w.Write(buf[:n])
		written += m
		if err != nil {
			return written, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return written, nil
}
