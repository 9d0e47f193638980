package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var vocabularyYAML []byte

// Vocabulary is the keyword data behind Analyze.
type Vocabulary struct {
	Music        []string            `yaml:"music"`
	Conversation []string            `yaml:"conversation"`
	Complexity   map[string][]string `yaml:"complexity"`
	Instruments  map[string][]string `yaml:"instruments"`
	Functions    []string            `yaml:"strudel_functions"`
	StopWords    []string            `yaml:"stop_words"`

	stop map[string]struct{}
}

// defaultVocabulary is parsed once at package init; a broken embedded file is a
// programming error.
var defaultVocabulary = mustParseVocabulary(vocabularyYAML)

// ParseVocabulary decodes a vocabulary document.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("prompt: parsing vocabulary: %w", err)
	}
	if len(v.Music) == 0 {
		return nil, fmt.Errorf("prompt: vocabulary has no music keywords")
	}
	v.stop = make(map[string]struct{}, len(v.StopWords))
	for _, w := range v.StopWords {
		v.stop[strings.ToLower(w)] = struct{}{}
	}
	return &v, nil
}

func mustParseVocabulary(data []byte) *Vocabulary {
	v, err := ParseVocabulary(data)
	if err != nil {
		panic(err)
	}
	return v
}

// words is a message split into lowercase words, ready for whole-word lookups.
type words struct {
	list   []string
	padded string // " w1 w2 ... wn "
}

func splitWords(text string) words {
	list := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	return words{list: list, padded: " " + strings.Join(list, " ") + " "}
}

// has reports whether keyword (possibly several words) occurs as whole words,
// also matching a plural "s" on the last word.
func (w words) has(keyword string) bool {
	keyword = strings.ToLower(keyword)
	return strings.Contains(w.padded, " "+keyword+" ") ||
		strings.Contains(w.padded, " "+keyword+"s ")
}

// count returns how many keywords of the list occur.
func (w words) count(keywords []string) int {
	n := 0
	for _, k := range keywords {
		if w.has(k) {
			n++
		}
	}
	return n
}
