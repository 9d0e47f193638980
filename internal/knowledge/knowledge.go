// Package knowledge provides the Strudel documentation entries used to ground prompts.
//
// The knowledge base is a static JSON file scraped from the Strudel docs. It is read
// once per process on first use and kept in memory; searches are plain
// case-insensitive substring matches, memoised in an LRU because the same handful of
// terms ("drum", "bass", "stack") come up constantly.
package knowledge

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/sakif/jamflow/internal/metrics"
)

// MaxEntries caps how many entries a single search may return.
const MaxEntries = 30

const defaultCacheSize = 256

//go:embed default_knowledge_base.json
var defaultKnowledgeBase []byte

// Entry is one chunk of Strudel documentation.
type Entry struct {
	ID         string   `json:"id"`
	SourceURL  string   `json:"source_url"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Functions  []string `json:"strudel_functions"`
	Concepts   []string `json:"music_concepts"`
	Examples   []string `json:"code_examples"`
	Difficulty string   `json:"difficulty_level"`

	// haystack is the lowercased text searched by Search.
	haystack string
}

// UnmarshalJSON accepts scraper output that names the title "source_title".
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	aux := struct {
		*plain
		SourceTitle string `json:"source_title"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if e.Title == "" {
		e.Title = aux.SourceTitle
	}
	return nil
}

// Base is a lazily loaded, read-only knowledge base. It is safe for concurrent use.
type Base struct {
	path   string
	logger *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries []Entry
	loaded  bool

	cache *lru.Cache
}

// New returns a Base reading from path. An empty path selects the embedded default
// knowledge base. Nothing is read until the first Load or Search.
func New(path string, cacheSize int, logger *slog.Logger) (*Base, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("knowledge: creating search cache: %w", err)
	}
	return &Base{path: path, logger: logger, cache: cache}, nil
}

// Load returns all entries, reading the file on the first call. Concurrent first
// calls share one read. A failed read is not cached, so the next call retries.
func (b *Base) Load(ctx context.Context) ([]Entry, error) {
	b.mu.RLock()
	if b.loaded {
		entries := b.entries
		b.mu.RUnlock()
		return entries, nil
	}
	b.mu.RUnlock()

	ch := b.group.DoChan("load", func() (any, error) {
		entries, err := b.read()
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.entries = entries
		b.loaded = true
		b.mu.Unlock()

		b.logger.Info("knowledge base loaded",
			slog.String("source", b.source()),
			slog.Int("entries", len(entries)),
		)
		return entries, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Entry), nil
	}
}

func (b *Base) source() string {
	if b.path == "" {
		return "embedded"
	}
	return b.path
}

func (b *Base) read() ([]Entry, error) {
	data := defaultKnowledgeBase
	if b.path != "" {
		var err error
		data, err = os.ReadFile(b.path)
		if err != nil {
			return nil, fmt.Errorf("knowledge: reading %s: %w", b.path, err)
		}
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("knowledge: parsing %s: %w", b.source(), err)
	}
	return entries, nil
}

// Parse decodes a knowledge base document. Both {"chunks": [...]} and a bare JSON
// array of entries are accepted.
func Parse(data []byte) ([]Entry, error) {
	data = bytes.TrimSpace(data)
	var entries []Entry
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
	} else {
		var doc struct {
			Chunks []Entry `json:"chunks"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		entries = doc.Chunks
	}

	for i := range entries {
		e := &entries[i]
		e.haystack = strings.ToLower(strings.Join([]string{
			e.Title,
			e.Content,
			strings.Join(e.Functions, " "),
			strings.Join(e.Concepts, " "),
			strings.Join(e.Examples, "\n"),
		}, "\n"))
	}
	return entries, nil
}

// Search returns, in file order, the entries whose text contains any of terms,
// capped at limit (and never more than MaxEntries).
func (b *Base) Search(ctx context.Context, terms []string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxEntries {
		limit = MaxEntries
	}
	terms = normalizeTerms(terms)
	if len(terms) == 0 {
		return nil, nil
	}

	key := strings.Join(terms, "\x00") + "|" + strconv.Itoa(limit)
	if cached, ok := b.cache.Get(key); ok {
		metrics.RecordKnowledgeCache(true)
		return cached.([]Entry), nil
	}
	metrics.RecordKnowledgeCache(false)

	entries, err := b.Load(ctx)
	if err != nil {
		return nil, err
	}

	var matched []Entry
	for _, e := range entries {
		if len(matched) == limit {
			break
		}
		for _, term := range terms {
			if strings.Contains(e.haystack, term) {
				matched = append(matched, e)
				break
			}
		}
	}

	b.cache.Add(key, matched)
	return matched, nil
}

// normalizeTerms lowercases, trims, de-duplicates and sorts terms so equivalent
// searches share a cache key.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
