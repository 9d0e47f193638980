// Package segment splits an assistant response into ordered TEXT and CODE pieces.
//
// Fenced code blocks are the primary signal:
//
//	Here is a beat:
//	```javascript
//	setcpm(120)
//	sound("bd sd")
//	```
//	Try changing the tempo.
//
// becomes TEXT("Here is a beat:"), CODE("setcpm(120)\nsound(\"bd sd\")"),
// TEXT("Try changing the tempo.").
//
// When a response has no complete fence at all, a keyword heuristic decides whether
// the whole blob is Strudel code (models sometimes drop the fences) or prose.
package segment

import (
	"regexp"
	"strings"

	"github.com/sakif/jamflow/internal/model"
)

// Segment is one piece of a response, in render order.
type Segment struct {
	Kind    model.SnippetKind `json:"type"`
	Content string            `json:"content"`
}

const fence = "```"

var (
	// fenced matches a complete block. A language tag only counts when it is alone
	// on the opening line, so "```sound(\"bd\")```" keeps its first word. (?s) lets
	// the body span lines and the lazy .*? stops at the first closing fence.
	fenced = regexp.MustCompile("(?s)```(?:[ \\t]*([A-Za-z0-9_+#.-]+)[ \\t]*\\n)?(.*?)```")

	// strudelCall spots Strudel API usage in unfenced text.
	strudelCall = regexp.MustCompile(`(?m)(\b(?:setcpm|setcps|sound|note|stack|samples|sequence|s|n)\(|^\s*\$:)`)
)

// Split returns the ordered segments of raw. Blank input yields nil.
func Split(raw string) []Segment {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	matches := fenced.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return []Segment{{Kind: classifyUnfenced(raw), Content: strings.TrimSpace(raw)}}
	}

	var out []Segment
	last := 0
	for _, m := range matches {
		out = appendText(out, raw[last:m[0]])
		// m[4]:m[5] is the body group.
		if code := strings.TrimSpace(raw[m[4]:m[5]]); code != "" {
			out = append(out, Segment{Kind: model.SnippetCode, Content: code})
		}
		last = m[1]
	}
	// Anything after the last complete fence, including a truncated trailing
	// fence, is prose.
	out = appendText(out, raw[last:])
	return out
}

// IsStrudelCode reports whether text looks like Strudel source.
func IsStrudelCode(text string) bool {
	return strudelCall.MatchString(text)
}

func classifyUnfenced(raw string) model.SnippetKind {
	// An opening fence without its closing partner means the response was cut off.
	// Treat it as prose rather than guessing where the code ends.
	if strings.Contains(raw, fence) {
		return model.SnippetText
	}
	if IsStrudelCode(raw) {
		return model.SnippetCode
	}
	return model.SnippetText
}

func appendText(out []Segment, text string) []Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return out
	}
	return append(out, Segment{Kind: model.SnippetText, Content: text})
}

// ToSnippets converts segments into model snippets with a 0-based Order.
func ToSnippets(segments []Segment) []model.Snippet {
	snippets := make([]model.Snippet, 0, len(segments))
	for i, s := range segments {
		snippets = append(snippets, model.Snippet{Kind: s.Kind, Content: s.Content, Order: i})
	}
	return snippets
}

// Code returns the concatenated content of every CODE segment, separated by blank lines.
func Code(segments []Segment) string {
	var parts []string
	for _, s := range segments {
		if s.Kind == model.SnippetCode {
			parts = append(parts, s.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
