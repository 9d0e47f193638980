package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sakif/jamflow/internal/apperror"
	"github.com/sakif/jamflow/internal/llm"
	"github.com/sakif/jamflow/internal/prompt"
	"github.com/sakif/jamflow/internal/segment"
)

const (
	MaxMessageLength = 4000 // bytes
	MaxHistoryTurns  = 50
)

// Completer runs one model call. *llm.Fallback implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) llm.Result
}

// PromptBuilder turns a message into a model prompt. *prompt.Builder implements it.
type PromptBuilder interface {
	Build(ctx context.Context, message string, history []prompt.Turn) *prompt.Prompt
}

// Reply is a finished assistant answer plus the metadata sent as headers.
type Reply struct {
	Text        string            `json:"text"`
	Intent      prompt.Intent     `json:"responseType"`
	Confidence  float64           `json:"confidence"`
	Complexity  prompt.Complexity `json:"complexity"`
	Tempo       int               `json:"tempo,omitempty"`
	Instruments []string          `json:"instruments"`
	Entries     int               `json:"knowledgeEntries"`
	Fallback    bool              `json:"fallback"`
	Segments    []segment.Segment `json:"segments"`
}

// AssistantService answers chat messages with the LLM.
type AssistantService struct {
	builder PromptBuilder
	llm     Completer
	logger  *slog.Logger
}

func NewAssistantService(builder PromptBuilder, completer Completer, logger *slog.Logger) *AssistantService {
	return &AssistantService{builder: builder, llm: completer, logger: logger}
}

// Reply builds the prompt for message, calls the model once and describes the
// result. Model failures never surface here: the completer answers with the
// fallback text instead.
func (s *AssistantService) Reply(ctx context.Context, message string, history []prompt.Turn) (*Reply, error) {
	message = strings.TrimSpace(message)
	if err := validateText("message", message, MaxMessageLength); err != nil {
		return nil, err
	}
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	for i, t := range history {
		if t.Role != "user" && t.Role != "assistant" {
			return nil, apperror.ValidationFailed("history",
				fmt.Sprintf("history[%d].role must be \"user\" or \"assistant\"", i))
		}
	}

	p := s.builder.Build(ctx, message, history)
	res := s.llm.Complete(ctx, p.Text)
	if res.Fallback {
		res.Text = llm.FallbackFor(message, p.Analysis.Tempo)
	}

	segments := segment.Split(res.Text)
	code := segment.Code(segments)

	tempo := prompt.DetectTempo(code)
	if tempo == 0 {
		tempo = p.Analysis.Tempo
	}

	reply := &Reply{
		Text:        res.Text,
		Intent:      p.Analysis.Intent,
		Confidence:  p.Analysis.Confidence,
		Complexity:  p.Analysis.Complexity,
		Tempo:       tempo,
		Instruments: mergeSorted(prompt.DetectInstruments(code), p.Analysis.Instruments),
		Entries:     p.Entries,
		Fallback:    res.Fallback,
		Segments:    segments,
	}
	if reply.Segments == nil {
		reply.Segments = []segment.Segment{}
	}

	s.logger.Info("assistant replied",
		slog.String("intent", string(reply.Intent)),
		slog.String("provider", res.Provider),
		slog.Bool("fallback", res.Fallback),
		slog.Int("entries", p.Entries),
		slog.Duration("llmDuration", res.Duration),
	)
	return reply, nil
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
