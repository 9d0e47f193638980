package prompt

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/sakif/jamflow/internal/segment"
)

// Intent is what the user is asking for.
type Intent string

const (
	IntentMusic        Intent = "music"
	IntentConversation Intent = "conversation"
)

// Complexity decides how much documentation goes into a music prompt.
type Complexity string

const (
	ComplexitySimple       Complexity = "simple"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

// Analysis is what we learn about a message from keywords alone.
type Analysis struct {
	Intent      Intent     `json:"intent"`
	Confidence  float64    `json:"confidence"`
	Complexity  Complexity `json:"complexity"`
	Tempo       int        `json:"tempo,omitempty"`
	Instruments []string   `json:"instruments"`
	// Functions are the Strudel functions the message names explicitly.
	Functions []string `json:"-"`
	// Terms are the words used to search the knowledge base.
	Terms []string `json:"-"`
}

const (
	minTempo = 40
	maxTempo = 240
	// minTermLength drops short words like "a" and "to" from knowledge searches.
	minTermLength = 3
)

var (
	setcpmCall = regexp.MustCompile(`setcpm\(\s*(\d{2,3})(?:\.\d+)?\s*\)`)
	bpmPhrase  = regexp.MustCompile(`(?i)\b(\d{2,3})\s*-?\s*bpm\b`)
	bareNumber = regexp.MustCompile(`\b(\d{2,3})\b`)
)

// Analyze classifies a user message using the embedded vocabulary.
func Analyze(message string) Analysis {
	return defaultVocabulary.Analyze(message)
}

// Analyze classifies a user message.
//
// A message is music when any music keyword (or Strudel code) appears. Confidence
// grows with the number of hits for music; for conversation it is higher when a
// greeting-style phrase was recognised.
func (v *Vocabulary) Analyze(message string) Analysis {
	w := splitWords(message)

	hits := w.count(v.Music)
	if segment.IsStrudelCode(message) {
		hits += 2
	}

	a := Analysis{
		Complexity:  v.complexity(w),
		Instruments: v.DetectInstruments(message),
		Functions:   v.functions(w),
		Terms:       v.terms(w),
	}

	if hits > 0 {
		a.Intent = IntentMusic
		a.Confidence = math.Min(0.95, 0.6+0.1*float64(hits))
		a.Tempo = detectTempo(message, true)
	} else {
		a.Intent = IntentConversation
		a.Confidence = 0.7
		if w.count(v.Conversation) > 0 {
			a.Confidence = 0.9
		}
		a.Tempo = detectTempo(message, false)
	}
	a.Confidence = math.Round(a.Confidence*100) / 100
	return a
}

// complexity returns the highest tier whose keywords appear.
func (v *Vocabulary) complexity(w words) Complexity {
	for _, tier := range []Complexity{ComplexityAdvanced, ComplexityIntermediate} {
		if w.count(v.Complexity[string(tier)]) > 0 {
			return tier
		}
	}
	return ComplexitySimple
}

// DetectInstruments returns the sorted instrument families mentioned in text.
// It works on prose and on Strudel code alike (sound("piano"), "bd sd hh").
func (v *Vocabulary) DetectInstruments(text string) []string {
	w := splitWords(text)
	found := []string{}
	for family, keywords := range v.Instruments {
		if w.count(keywords) > 0 {
			found = append(found, family)
		}
	}
	sort.Strings(found)
	return found
}

// DetectInstruments uses the embedded vocabulary.
func DetectInstruments(text string) []string {
	return defaultVocabulary.DetectInstruments(text)
}

// DetectTempo finds a tempo in code or prose: setcpm(N) first, then "N bpm".
func DetectTempo(text string) int {
	return detectTempo(text, false)
}

// detectTempo optionally falls back to any bare 2-3 digit number in the plausible
// tempo range, which is only safe once we know the message is about music.
func detectTempo(text string, allowBare bool) int {
	patterns := []*regexp.Regexp{setcpmCall, bpmPhrase}
	if allowBare {
		patterns = append(patterns, bareNumber)
	}
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= minTempo && n <= maxTempo {
				return n
			}
		}
	}
	return 0
}

func (v *Vocabulary) functions(w words) []string {
	var out []string
	for _, fn := range v.Functions {
		if w.has(fn) {
			out = append(out, fn)
		}
	}
	return out
}

// terms picks the search words: long enough, not stop words, no duplicates,
// in message order.
func (v *Vocabulary) terms(w words) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, word := range w.list {
		if utf8.RuneCountInString(word) < minTermLength {
			continue
		}
		if _, stop := v.stop[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}
