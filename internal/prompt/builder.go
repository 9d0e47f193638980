// Package prompt turns a chat message into an LLM prompt.
//
// There is no vector search: a keyword analysis decides whether the user wants
// music or just conversation, and music prompts get knowledge base entries whose
// text contains one of the message's words, plus a fixed Strudel syntax reference.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sakif/jamflow/internal/knowledge"
	"github.com/sakif/jamflow/internal/metrics"
)

// Searcher finds knowledge entries for a set of terms. *knowledge.Base implements it.
type Searcher interface {
	Search(ctx context.Context, terms []string, limit int) ([]knowledge.Entry, error)
}

// Turn is one earlier exchange line sent along with the new message.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Prompt is a built prompt together with the analysis that shaped it.
type Prompt struct {
	Text     string
	Analysis Analysis
	Entries  int // knowledge entries included
}

const (
	// maxHistoryTurns keeps the prompt bounded on long chats.
	maxHistoryTurns = 6
	// maxExamplesPerEntry limits code examples quoted from one entry.
	maxExamplesPerEntry = 5
)

// entryBudget is how many knowledge entries each complexity tier may use.
var entryBudget = map[Complexity]int{
	ComplexitySimple:       10,
	ComplexityIntermediate: 20,
	ComplexityAdvanced:     knowledge.MaxEntries,
}

// Builder assembles prompts. It is safe for concurrent use.
type Builder struct {
	kb     Searcher
	vocab  *Vocabulary
	logger *slog.Logger
}

// NewBuilder returns a Builder using the embedded vocabulary. kb may be nil, in
// which case music prompts carry only the syntax reference.
func NewBuilder(kb Searcher, logger *slog.Logger) *Builder {
	return &Builder{kb: kb, vocab: defaultVocabulary, logger: logger}
}

// Build analyses message and returns the prompt to send to the model.
// Knowledge base failures degrade to a prompt without documentation context.
func (b *Builder) Build(ctx context.Context, message string, history []Turn) *Prompt {
	analysis := b.vocab.Analyze(message)

	if analysis.Intent == IntentConversation {
		return &Prompt{
			Text:     conversationPrompt(message, history),
			Analysis: analysis,
		}
	}

	var entries []knowledge.Entry
	if b.kb != nil {
		var err error
		entries, err = b.kb.Search(ctx, analysis.Terms, entryBudget[analysis.Complexity])
		if err != nil {
			b.logger.Warn("knowledge search failed, continuing without context",
				slog.String("error", err.Error()),
			)
			entries = nil
		}
	}
	if len(entries) > knowledge.MaxEntries {
		entries = entries[:knowledge.MaxEntries]
	}
	metrics.RecordKnowledgeMatches(len(entries))

	b.logger.Debug("music prompt built",
		slog.String("complexity", string(analysis.Complexity)),
		slog.Int("entries", len(entries)),
		slog.Int("terms", len(analysis.Terms)),
	)

	return &Prompt{
		Text:     musicPrompt(message, history, analysis, entries),
		Analysis: analysis,
		Entries:  len(entries),
	}
}

func musicPrompt(message string, history []Turn, a Analysis, entries []knowledge.Entry) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nREQUEST ANALYSIS:\n")
	fmt.Fprintf(&sb, "- Complexity: %s\n", a.Complexity)
	fmt.Fprintf(&sb, "- Instruments: %s\n", orDefault(strings.Join(a.Instruments, ", "), "general"))
	if a.Tempo > 0 {
		fmt.Fprintf(&sb, "- Requested tempo: %d bpm\n", a.Tempo)
	}
	if len(a.Functions) > 0 {
		fmt.Fprintf(&sb, "- Functions mentioned: %s\n", strings.Join(a.Functions, ", "))
	}

	sb.WriteString("\n")
	sb.WriteString(syntaxReference)

	if len(entries) > 0 {
		sb.WriteString("\n")
		sb.WriteString(FormatContext(entries))
	}

	writeHistory(&sb, history)

	fmt.Fprintf(&sb, "\nUSER REQUEST: %s\n\n", strings.TrimSpace(message))
	sb.WriteString(complexityGuidance[a.Complexity])
	sb.WriteString("\n")
	sb.WriteString(musicInstructions)
	return sb.String()
}

func conversationPrompt(message string, history []Turn) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n")
	writeHistory(&sb, history)
	fmt.Fprintf(&sb, "\nUSER MESSAGE: %s\n\n", strings.TrimSpace(message))
	sb.WriteString(conversationInstructions)
	return sb.String()
}

func writeHistory(sb *strings.Builder, history []Turn) {
	if len(history) == 0 {
		return
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	sb.WriteString("\nCONVERSATION SO FAR:\n")
	for _, t := range history {
		role := "User"
		if t.Role == "assistant" {
			role = "Jamflow"
		}
		fmt.Fprintf(sb, "%s: %s\n", role, strings.TrimSpace(t.Content))
	}
}

// FormatContext renders knowledge entries as the documentation block of a prompt.
func FormatContext(entries []knowledge.Entry) string {
	functions := map[string]struct{}{}
	concepts := map[string]struct{}{}
	for _, e := range entries {
		for _, f := range e.Functions {
			functions[f] = struct{}{}
		}
		for _, c := range e.Concepts {
			concepts[c] = struct{}{}
		}
	}

	var sb strings.Builder
	sb.WriteString("=== STRUDEL DOCUMENTATION CONTEXT ===\n")
	if len(functions) > 0 {
		fmt.Fprintf(&sb, "STRUDEL FUNCTIONS AVAILABLE: %s\n", strings.Join(sortedKeys(functions), ", "))
	}
	if len(concepts) > 0 {
		fmt.Fprintf(&sb, "MUSIC CONCEPTS COVERED: %s\n", strings.Join(sortedKeys(concepts), ", "))
	}
	sb.WriteString("\n")

	for i, e := range entries {
		fmt.Fprintf(&sb, "[Context %d]\n", i+1)
		if e.SourceURL != "" {
			fmt.Fprintf(&sb, "Source: %s\n", e.SourceURL)
		}
		fmt.Fprintf(&sb, "Topic: %s\n", e.Title)
		if len(e.Functions) > 0 {
			fmt.Fprintf(&sb, "Functions: %s\n", strings.Join(e.Functions, ", "))
		}
		if len(e.Concepts) > 0 {
			fmt.Fprintf(&sb, "Concepts: %s\n", strings.Join(e.Concepts, ", "))
		}
		fmt.Fprintf(&sb, "Content: %s\n", e.Content)
		if len(e.Examples) > 0 {
			sb.WriteString("Code Examples:\n")
			for j, ex := range e.Examples {
				if j == maxExamplesPerEntry {
					break
				}
				fmt.Fprintf(&sb, "  %d. %s\n", j+1, ex)
			}
		}
		sb.WriteString("---\n")
	}
	return sb.String()
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
