// Package llm talks to the text generation model.
//
// Providers (gemini, openrouter) implement a single blocking call. Callers
// normally go through Fallback, which applies the one fixed request timeout and
// turns every failure into a canned reply, so the chat UI always has something to
// show. There are no retries.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/sakif/jamflow/internal/metrics"
)

// Provider generates a completion for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyResponse is returned when the model answered without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrNotConfigured is returned by Fallback when no provider was wired, e.g. the
// API key is missing.
var ErrNotConfigured = errors.New("llm: no provider configured")

// FallbackText is sent whenever the model could not be used. FallbackFor gives
// the same reply shaped to a message.
const FallbackText = fallbackIntro + "```javascript\nsetcpm(120)\nsound(\"bd sd hh, cr sd hh bd\")\n```"

const (
	fallbackIntro = "Sorry, I couldn't reach the music model just now. " +
		"Here's a simple beat to keep you going while I recover:\n\n"
	fallbackTempo = 120

	patternBusy   = "bd sd hh cr, bd bd sd hh"
	patternSparse = "bd ~ sd ~, ~ hh ~ hh"
	patternPlain  = "bd sd hh, cr sd hh bd"
)

var (
	busyWords   = map[string]bool{"fast": true, "energetic": true, "rock": true}
	sparseWords = map[string]bool{"slow": true, "chill": true, "ambient": true}
)

// FallbackFor is the canned reply for message. It keeps the tempo the message
// asked for (tempo <= 0 means 120) and picks a busier or sparser beat from its
// wording.
func FallbackFor(message string, tempo int) string {
	if tempo <= 0 {
		tempo = fallbackTempo
	}
	pattern := patternPlain
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if busyWords[w] {
			pattern = patternBusy
			break
		}
		if sparseWords[w] {
			pattern = patternSparse
			break
		}
	}
	return fmt.Sprintf("%s```javascript\nsetcpm(%d)\nsound(%q)\n```", fallbackIntro, tempo, pattern)
}

// DefaultTimeout bounds one model call.
const DefaultTimeout = 30 * time.Second

// Result describes one completed call.
type Result struct {
	Text     string
	Provider string
	Fallback bool // Text is FallbackText; callers may reshape it with FallbackFor
	Err      error
	Duration time.Duration
}

// Fallback wraps a provider with a timeout and the canned reply.
type Fallback struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFallback wraps provider. A nil provider is allowed: every call then returns
// the fallback text.
func NewFallback(provider Provider, timeout time.Duration, logger *slog.Logger) *Fallback {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fallback{provider: provider, timeout: timeout, logger: logger}
}

// Name reports the wrapped provider.
func (f *Fallback) Name() string {
	if f.provider == nil {
		return "none"
	}
	return f.provider.Name()
}

// Generate implements Provider. It never returns an error.
func (f *Fallback) Generate(ctx context.Context, prompt string) (string, error) {
	return f.Complete(ctx, prompt).Text, nil
}

// Complete calls the provider once and reports what happened. Result.Err holds the
// provider error for logging; it is never shown to users.
func (f *Fallback) Complete(ctx context.Context, prompt string) Result {
	name := f.Name()
	if f.provider == nil {
		metrics.RecordLLMRequest(name, "fallback", 0)
		return Result{Text: FallbackText, Provider: name, Fallback: true, Err: ErrNotConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	text, err := f.provider.Generate(ctx, prompt)
	elapsed := time.Since(start)
	if err == nil && text == "" {
		err = ErrEmptyResponse
	}

	if err != nil {
		f.logger.Warn("llm call failed, sending fallback reply",
			slog.String("provider", name),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		metrics.RecordLLMRequest(name, "fallback", elapsed)
		return Result{Text: FallbackText, Provider: name, Fallback: true, Err: err, Duration: elapsed}
	}

	metrics.RecordLLMRequest(name, "ok", elapsed)
	f.logger.Debug("llm call succeeded",
		slog.String("provider", name),
		slog.Duration("duration", elapsed),
		slog.Int("chars", len(text)),
	)
	return Result{Text: text, Provider: name, Duration: elapsed}
}
