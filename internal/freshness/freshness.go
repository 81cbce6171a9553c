// Package freshness tracks, per document, the modification time at which each
// derived artifact was last computed, together with the user's ignored
// link pairs and cached insertion-point results.
//
// An artifact is fresh only when the recorded mtime equals the document's
// current mtime exactly. Index is not safe for concurrent use.
package freshness

import (
	"bytes"
	"sort"
	"time"
)

// Kind selects one of the tracked artifact families.
type Kind int

const (
	Embedding Kind = iota
	Keywords
	Suggestions
	numKinds
)

// Kinds lists every artifact family in a fixed order.
var Kinds = []Kind{Embedding, Keywords, Suggestions}

func (k Kind) String() string {
	switch k {
	case Embedding:
		return "embedding"
	case Keywords:
		return "keywords"
	case Suggestions:
		return "suggestions"
	default:
		return "unknown"
	}
}

// PairKey identifies an unordered pair of documents. Build it with NewPairKey.
type PairKey struct {
	A, B string
}

// NewPairKey orders the two paths so that (x, y) and (y, x) share a key.
func NewPairKey(x, y string) PairKey {
	if y < x {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

// InsertionKey identifies a cached insertion result for one link title in one document.
type InsertionKey struct {
	Path  string
	Title string
}

// IgnoredSuggestion is a link pair the user dismissed. Source and Target keep
// the orientation in which the pair was first ignored.
type IgnoredSuggestion struct {
	Source    string `json:"source" msgpack:"source"`
	Target    string `json:"target" msgpack:"target"`
	IgnoredAt int64  `json:"ignored_at" msgpack:"ignored_at"`
}

// Option configures an Index.
type Option func(*Index)

// WithClock overrides the time source used for ignore timestamps.
func WithClock(now func() time.Time) Option {
	return func(x *Index) {
		x.now = now
	}
}

// Index is the freshness ledger.
type Index struct {
	mtimes     [numKinds]map[string]int64
	ignored    map[PairKey]IgnoredSuggestion
	insertions map[InsertionKey][]byte
	now        func() time.Time
}

// New returns an empty Index.
func New(opts ...Option) *Index {
	x := &Index{
		ignored:    make(map[PairKey]IgnoredSuggestion),
		insertions: make(map[InsertionKey][]byte),
		now:        time.Now,
	}
	for k := range x.mtimes {
		x.mtimes[k] = make(map[string]int64)
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// IsFresh reports whether the artifact of the given kind was computed for
// exactly mtime. Unknown paths and kinds are never fresh.
func (x *Index) IsFresh(kind Kind, path string, mtime int64) bool {
	if kind < 0 || kind >= numKinds {
		return false
	}
	recorded, ok := x.mtimes[kind][path]
	return ok && recorded == mtime
}

// MarkProcessed records that the artifact of the given kind now reflects mtime.
func (x *Index) MarkProcessed(kind Kind, path string, mtime int64) {
	if kind < 0 || kind >= numKinds {
		return
	}
	x.mtimes[kind][path] = mtime
}

// Invalidate forgets every mtime recorded for path and every insertion
// result cached for it. It returns the number of entries removed.
func (x *Index) Invalidate(path string) int {
	removed := 0
	for k := range x.mtimes {
		if _, ok := x.mtimes[k][path]; ok {
			delete(x.mtimes[k], path)
			removed++
		}
	}
	return removed + x.InvalidateInsertions(path)
}

// Len returns the number of documents with a recorded mtime for kind.
func (x *Index) Len(kind Kind) int {
	if kind < 0 || kind >= numKinds {
		return 0
	}
	return len(x.mtimes[kind])
}

// Paths returns every path with a recorded mtime of any kind, sorted.
func (x *Index) Paths() []string {
	seen := make(map[string]struct{})
	for k := range x.mtimes {
		for p := range x.mtimes[k] {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clear drops all recorded mtimes and insertion results. Ignored pairs are kept.
func (x *Index) Clear() {
	for k := range x.mtimes {
		x.mtimes[k] = make(map[string]int64)
	}
	x.insertions = make(map[InsertionKey][]byte)
}

// Ignore records that the user dismissed the (source, target) pair. Ignoring
// an already ignored pair refreshes its timestamp only.
func (x *Index) Ignore(source, target string) {
	key := NewPairKey(source, target)
	entry, ok := x.ignored[key]
	if !ok {
		entry = IgnoredSuggestion{Source: source, Target: target}
	}
	entry.IgnoredAt = x.now().UnixMilli()
	x.ignored[key] = entry
}

// Unignore removes the pair in either orientation and reports whether it was present.
func (x *Index) Unignore(source, target string) bool {
	key := NewPairKey(source, target)
	if _, ok := x.ignored[key]; !ok {
		return false
	}
	delete(x.ignored, key)
	return true
}

// IsIgnored reports whether the pair was dismissed, in either orientation.
func (x *Index) IsIgnored(source, target string) bool {
	_, ok := x.ignored[NewPairKey(source, target)]
	return ok
}

// ListIgnored returns the ignored pairs, most recently ignored first.
func (x *Index) ListIgnored() []IgnoredSuggestion {
	out := make([]IgnoredSuggestion, 0, len(x.ignored))
	for _, entry := range x.ignored {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IgnoredAt != out[j].IgnoredAt {
			return out[i].IgnoredAt > out[j].IgnoredAt
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// ClearIgnored removes every ignored pair and returns how many there were.
func (x *Index) ClearIgnored() int {
	n := len(x.ignored)
	x.ignored = make(map[PairKey]IgnoredSuggestion)
	return n
}

// CacheInsertion stores an opaque insertion result for (path, title).
func (x *Index) CacheInsertion(path, title string, blob []byte) {
	x.insertions[InsertionKey{Path: path, Title: title}] = bytes.Clone(blob)
}

// Insertion returns the cached result for (path, title).
func (x *Index) Insertion(path, title string) ([]byte, bool) {
	blob, ok := x.insertions[InsertionKey{Path: path, Title: title}]
	if !ok {
		return nil, false
	}
	return bytes.Clone(blob), true
}

// InvalidateInsertions drops every cached insertion result for path.
func (x *Index) InvalidateInsertions(path string) int {
	removed := 0
	for key := range x.insertions {
		if key.Path == path {
			delete(x.insertions, key)
			removed++
		}
	}
	return removed
}

// ClearInsertions drops every cached insertion result.
func (x *Index) ClearInsertions() int {
	n := len(x.insertions)
	x.insertions = make(map[InsertionKey][]byte)
	return n
}

// Equal reports whether x and o hold the same entries.
func (x *Index) Equal(o *Index) bool {
	for k := range x.mtimes {
		if !equalMTimes(x.mtimes[k], o.mtimes[k]) {
			return false
		}
	}
	if len(x.ignored) != len(o.ignored) || len(x.insertions) != len(o.insertions) {
		return false
	}
	for key, entry := range x.ignored {
		if o.ignored[key] != entry {
			return false
		}
	}
	for key, blob := range x.insertions {
		other, ok := o.insertions[key]
		if !ok || !bytes.Equal(blob, other) {
			return false
		}
	}
	return true
}

func equalMTimes(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for p, m := range a {
		if n, ok := b[p]; !ok || n != m {
			return false
		}
	}
	return true
}
