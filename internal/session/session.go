// Package session owns the linking state of one vault: the freshness ledger
// and the derived artifact stores. It loads and saves them as blobs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/artifact"
	"github.com/starford/ansuz/internal/envelope"
	"github.com/starford/ansuz/internal/freshness"
	"github.com/starford/ansuz/internal/similarity"
)

// Blob names under which the session is persisted.
const (
	BlobCacheIndex = "cache-index"
	BlobEmbeddings = "embeddings"
	BlobKeywords   = "keywords"
)

// BlobStore persists named byte blobs.
type BlobStore interface {
	GetBlob(ctx context.Context, name string) ([]byte, error)
	PutBlob(ctx context.Context, name string, data []byte) error
}

// LoadReport describes what Load found for each blob.
type LoadReport struct {
	Missing []string `json:"missing,omitempty"`
	Legacy  []string `json:"legacy,omitempty"`
	Corrupt []string `json:"corrupt,omitempty"`
}

// Session is the aggregate of a freshness ledger and the artifact stores.
// It is not safe for concurrent use.
//
// Suggestions holds the last computed similarity result per document. It is
// not persisted; any change to the corpus empties it.
type Session struct {
	Cache       *freshness.Index
	Embeddings  artifact.Embeddings
	Keywords    artifact.Keywords
	Contents    artifact.Contents
	Suggestions map[string]similarity.Result

	encoding envelope.Encoding
	clock    func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithEncoding selects the codec used by Save.
func WithEncoding(enc envelope.Encoding) Option {
	return func(s *Session) {
		s.encoding = enc
	}
}

// WithClock sets the clock handed to the freshness ledger.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.clock = now
	}
}

// New returns an empty session.
func New(opts ...Option) *Session {
	s := &Session{
		Embeddings: artifact.Embeddings{},
		Keywords:   artifact.Keywords{},
		Contents:    artifact.Contents{},
		Suggestions: make(map[string]similarity.Result),
		encoding:    envelope.Binary,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Cache = freshness.New(freshness.WithClock(s.clock))
	return s
}

// Load reads the three blobs from store. A blob that is missing or cannot be
// decoded is replaced by an empty structure and logged; Load only fails when
// the store itself fails.
func Load(ctx context.Context, store BlobStore, logger *slog.Logger, opts ...Option) (*Session, LoadReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := New(opts...)
	var report LoadReport

	read := func(name string, decode func([]byte) (bool, error)) error {
		b, err := store.GetBlob(ctx, name)
		if errors.Is(err, apperr.ErrNotFound) {
			report.Missing = append(report.Missing, name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("session: load %s: %w", name, err)
		}
		legacy, err := decode(b)
		if err != nil {
			logger.Warn("session: discarding unreadable blob",
				slog.String("blob", name),
				slog.Int("bytes", len(b)),
				slog.String("error", err.Error()))
			report.Corrupt = append(report.Corrupt, name)
			return nil
		}
		if legacy {
			logger.Info("session: migrated legacy blob", slog.String("blob", name))
			report.Legacy = append(report.Legacy, name)
		}
		return nil
	}

	if err := read(BlobCacheIndex, func(b []byte) (bool, error) {
		x, legacy, err := freshness.Deserialize(b, freshness.WithClock(s.clock))
		if err == nil {
			s.Cache = x
		}
		return legacy, err
	}); err != nil {
		return nil, report, err
	}
	if err := read(BlobEmbeddings, func(b []byte) (bool, error) {
		e, legacy, err := artifact.DecodeEmbeddings(b)
		if err == nil {
			s.Embeddings = e
		}
		return legacy, err
	}); err != nil {
		return nil, report, err
	}
	if err := read(BlobKeywords, func(b []byte) (bool, error) {
		k, legacy, err := artifact.DecodeKeywords(b)
		if err == nil {
			s.Keywords = k
		}
		return legacy, err
	}); err != nil {
		return nil, report, err
	}

	logger.Debug("session: loaded",
		slog.Int("embeddings", len(s.Embeddings)),
		slog.Int("keywords", len(s.Keywords)),
		slog.Int("ignored", len(s.Cache.ListIgnored())))
	return s, report, nil
}

// Save writes the three blobs to store in the session's encoding.
func (s *Session) Save(ctx context.Context, store BlobStore) error {
	cache, err := s.Cache.Serialize(s.encoding)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", BlobCacheIndex, err)
	}
	emb, err := artifact.EncodeEmbeddings(s.Embeddings, s.encoding)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", BlobEmbeddings, err)
	}
	kw, err := artifact.EncodeKeywords(s.Keywords, s.encoding)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", BlobKeywords, err)
	}
	for _, blob := range []struct {
		name string
		data []byte
	}{
		{BlobCacheIndex, cache},
		{BlobEmbeddings, emb},
		{BlobKeywords, kw},
	} {
		if err := store.PutBlob(ctx, blob.name, blob.data); err != nil {
			return fmt.Errorf("session: save %s: %w", blob.name, err)
		}
	}
	return nil
}

// SetContent stores the text of path. Changed text drops every stored
// suggestion result, since any of them may quote it.
func (s *Session) SetContent(path, content string) {
	if old, ok := s.Contents[path]; !ok || old != content {
		clear(s.Suggestions)
	}
	s.Contents[path] = content
}

// SetEmbedding stores the vector of path and marks it processed at mtime.
func (s *Session) SetEmbedding(path string, vec []float32, mtime int64) {
	s.Embeddings[path] = vec
	s.Cache.MarkProcessed(freshness.Embedding, path, mtime)
	clear(s.Suggestions)
}

// SetKeywords stores the keywords of path and marks them processed.
func (s *Session) SetKeywords(path string, entry artifact.KeywordEntry) {
	s.Keywords[path] = entry
	s.Cache.MarkProcessed(freshness.Keywords, path, entry.MTime)
	clear(s.Suggestions)
}

// StoreSuggestions records the result computed for path at mtime.
func (s *Session) StoreSuggestions(path string, res similarity.Result, mtime int64) {
	s.Suggestions[path] = res
	s.Cache.MarkProcessed(freshness.Suggestions, path, mtime)
}

// StoredSuggestions returns the stored result for path when the ledger says
// it is still fresh for mtime.
func (s *Session) StoredSuggestions(path string, mtime int64) (similarity.Result, bool) {
	res, ok := s.Suggestions[path]
	if !ok || !s.Cache.IsFresh(freshness.Suggestions, path, mtime) {
		return similarity.Result{}, false
	}
	return res, true
}

// Invalidate drops the ledger entries and stored suggestions of path and
// returns the number of ledger entries removed.
func (s *Session) Invalidate(path string) int {
	delete(s.Suggestions, path)
	return s.Cache.Invalidate(path)
}

// Content returns the text of path, treating blank content as missing.
func (s *Session) Content(path string) (string, bool) {
	return s.Contents.Lookup(path)
}

// RemoveDocument drops every artifact of path and invalidates its ledger
// entries. Ignored pairs are kept.
func (s *Session) RemoveDocument(path string) {
	delete(s.Embeddings, path)
	delete(s.Keywords, path)
	delete(s.Contents, path)
	clear(s.Suggestions)
	s.Cache.Invalidate(path)
}

// Prune removes every document not in present and returns the removed paths
// in sorted order.
func (s *Session) Prune(present map[string]struct{}) []string {
	seen := make(map[string]struct{})
	collect := func(p string) {
		if _, ok := present[p]; !ok {
			seen[p] = struct{}{}
		}
	}
	for p := range s.Embeddings {
		collect(p)
	}
	for p := range s.Keywords {
		collect(p)
	}
	for p := range s.Contents {
		collect(p)
	}
	for _, p := range s.Cache.Paths() {
		collect(p)
	}

	removed := make([]string, 0, len(seen))
	for p := range seen {
		removed = append(removed, p)
	}
	sort.Strings(removed)
	for _, p := range removed {
		s.RemoveDocument(p)
	}
	return removed
}

// Reset clears the ledger and every artifact store. Ignored pairs survive.
func (s *Session) Reset() {
	s.Cache.Clear()
	s.Embeddings = artifact.Embeddings{}
	s.Keywords = artifact.Keywords{}
	clear(s.Suggestions)
}
