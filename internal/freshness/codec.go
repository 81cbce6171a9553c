package freshness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/ansuz/internal/envelope"
)

// Separators used by the version 1 layout, which keyed pairs and insertion
// results by joined strings.
const (
	legacyPairSep      = "|"
	legacyInsertionSep = "::"
)

type insertionRecord struct {
	Path  string `json:"path" msgpack:"path"`
	Title string `json:"title" msgpack:"title"`
	Blob  []byte `json:"blob" msgpack:"blob"`
}

type snapshot struct {
	EmbeddingMTimes  map[string]int64    `json:"embedding_mtimes" msgpack:"embedding_mtimes"`
	KeywordMTimes    map[string]int64    `json:"keyword_mtimes" msgpack:"keyword_mtimes"`
	SuggestionMTimes map[string]int64    `json:"suggestion_mtimes" msgpack:"suggestion_mtimes"`
	Ignored          []IgnoredSuggestion `json:"ignored,omitempty" msgpack:"ignored,omitempty"`
	Insertions       []insertionRecord   `json:"insertions,omitempty" msgpack:"insertions,omitempty"`

	LegacyIgnored    map[string]int64  `json:"ignored_suggestions,omitempty" msgpack:"ignored_suggestions,omitempty"`
	LegacyInsertions map[string]string `json:"insertion_cache,omitempty" msgpack:"insertion_cache,omitempty"`
}

// Serialize encodes the index inside a versioned envelope.
func (x *Index) Serialize(enc envelope.Encoding) ([]byte, error) {
	snap := snapshot{
		EmbeddingMTimes:  x.mtimes[Embedding],
		KeywordMTimes:    x.mtimes[Keywords],
		SuggestionMTimes: x.mtimes[Suggestions],
		Ignored:          x.ListIgnored(),
	}
	for key, blob := range x.insertions {
		snap.Insertions = append(snap.Insertions, insertionRecord{Path: key.Path, Title: key.Title, Blob: blob})
	}
	sort.Slice(snap.Insertions, func(i, j int) bool {
		a, b := snap.Insertions[i], snap.Insertions[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Title < b.Title
	})
	b, err := envelope.Encode(snap, enc)
	if err != nil {
		return nil, fmt.Errorf("freshness: serialize: %w", err)
	}
	return b, nil
}

// Deserialize decodes bytes written by Serialize, by earlier releases, or a
// bare snapshot without an envelope. legacy reports the bare case. Entries
// of the version 1 layout whose keys do not split into two non-empty parts
// are dropped.
func Deserialize(b []byte, opts ...Option) (x *Index, legacy bool, err error) {
	decoded, err := envelope.Decode[snapshot](b)
	if err != nil {
		return nil, false, fmt.Errorf("freshness: deserialize: %w", err)
	}
	snap := decoded.Data

	x = New(opts...)
	copyMTimes(x.mtimes[Embedding], snap.EmbeddingMTimes)
	copyMTimes(x.mtimes[Keywords], snap.KeywordMTimes)
	copyMTimes(x.mtimes[Suggestions], snap.SuggestionMTimes)

	for _, entry := range snap.Ignored {
		if entry.Source == "" || entry.Target == "" {
			continue
		}
		x.ignored[NewPairKey(entry.Source, entry.Target)] = entry
	}
	for _, rec := range snap.Insertions {
		x.insertions[InsertionKey{Path: rec.Path, Title: rec.Title}] = rec.Blob
	}

	for joined, at := range snap.LegacyIgnored {
		source, target, ok := splitPair(joined, legacyPairSep)
		if !ok {
			continue
		}
		key := NewPairKey(source, target)
		if _, exists := x.ignored[key]; exists {
			continue
		}
		x.ignored[key] = IgnoredSuggestion{Source: source, Target: target, IgnoredAt: at}
	}
	for joined, blob := range snap.LegacyInsertions {
		path, title, ok := splitPair(joined, legacyInsertionSep)
		if !ok {
			continue
		}
		x.insertions[InsertionKey{Path: path, Title: title}] = []byte(blob)
	}

	return x, decoded.Legacy, nil
}

func copyMTimes(dst, src map[string]int64) {
	for p, m := range src {
		dst[p] = m
	}
}

func splitPair(joined, sep string) (string, string, bool) {
	left, right, found := strings.Cut(joined, sep)
	if !found || left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}
