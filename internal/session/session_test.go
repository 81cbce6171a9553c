package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/artifact"
	"github.com/starford/ansuz/internal/envelope"
	"github.com/starford/ansuz/internal/freshness"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/similarity"
)

type memStore struct {
	blobs map[string][]byte
	err   error
}

func newMemStore() *memStore { return &memStore{blobs: map[string][]byte{}} }

func (m *memStore) GetBlob(_ context.Context, name string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("mem: %s: %w", name, apperr.ErrNotFound)
	}
	return b, nil
}

func (m *memStore) PutBlob(_ context.Context, name string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.blobs[name] = data
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time { return time.UnixMilli(1_700_000_000_000) }

func populated() *Session {
	s := New(WithClock(fixedClock))
	s.Cache.MarkProcessed(freshness.Embedding, "a.md", 10)
	s.Cache.MarkProcessed(freshness.Keywords, "a.md", 10)
	s.Cache.Ignore("a.md", "b.md")
	s.Cache.CacheInsertion("a.md", "B", []byte(`{"phrase":"b"}`))
	s.Embeddings["a.md"] = []float32{1, 0}
	s.Keywords["a.md"] = artifact.KeywordEntry{Keywords: []string{"alpha"}, MTime: 10}
	s.SetContent("a.md", "alpha text")
	return s
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, enc := range []envelope.Encoding{envelope.Binary, envelope.Text} {
		t.Run(string(enc), func(t *testing.T) {
			store := newMemStore()
			s := populated()
			s.encoding = enc
			if err := s.Save(context.Background(), store); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if len(store.blobs) != 3 {
				t.Fatalf("blobs = %d, want 3", len(store.blobs))
			}

			got, report, err := Load(context.Background(), store, quietLogger(), WithClock(fixedClock))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(report.Missing)+len(report.Corrupt)+len(report.Legacy) != 0 {
				t.Errorf("report = %+v, want clean", report)
			}
			if !got.Cache.Equal(s.Cache) {
				t.Error("cache index differs after round trip")
			}
			if !got.Embeddings.Has("a.md") || got.Keywords.For("a.md")[0] != "alpha" {
				t.Errorf("artifacts = %v %v", got.Embeddings, got.Keywords)
			}
			if len(got.Contents) != 0 {
				t.Error("contents are not persisted")
			}
		})
	}
}

func TestLoad_EmptyStore(t *testing.T) {
	s, report, err := Load(context.Background(), newMemStore(), quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Missing) != 3 {
		t.Errorf("missing = %v, want all three blobs", report.Missing)
	}
	if s.Cache == nil || s.Embeddings == nil || s.Keywords == nil || s.Contents == nil {
		t.Error("empty session must have non-nil stores")
	}
}

func TestLoad_CorruptBlobDegrades(t *testing.T) {
	store := newMemStore()
	if err := populated().Save(context.Background(), store); err != nil {
		t.Fatalf("Save: %v", err)
	}
	store.blobs[BlobEmbeddings] = []byte{0xc1, 0xff, 0x00}

	s, report, err := Load(context.Background(), store, quietLogger())
	if err != nil {
		t.Fatalf("Load must not fail on corrupt blob: %v", err)
	}
	if len(report.Corrupt) != 1 || report.Corrupt[0] != BlobEmbeddings {
		t.Errorf("corrupt = %v", report.Corrupt)
	}
	if len(s.Embeddings) != 0 {
		t.Errorf("embeddings = %v, want empty", s.Embeddings)
	}
	if !s.Cache.IsIgnored("b.md", "a.md") {
		t.Error("intact blobs must still load")
	}
}

func TestLoad_LegacyBareKeywords(t *testing.T) {
	store := newMemStore()
	raw, err := msgpack.Marshal(map[string]artifact.KeywordEntry{"x.md": {Keywords: []string{"k"}, MTime: 3}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	store.blobs[BlobKeywords] = raw

	s, report, err := Load(context.Background(), store, quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Legacy) != 1 || report.Legacy[0] != BlobKeywords {
		t.Errorf("legacy = %v", report.Legacy)
	}
	if got := s.Keywords.For("x.md"); len(got) != 1 || got[0] != "k" {
		t.Errorf("keywords = %v", got)
	}
}

func TestLoad_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("disk on fire")
	if _, _, err := Load(context.Background(), store, quietLogger()); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestPrune(t *testing.T) {
	s := populated()
	s.Embeddings["gone.md"] = []float32{1}
	s.Cache.MarkProcessed(freshness.Suggestions, "ledger-only.md", 1)
	s.SetContent("keep.md", "k")

	removed := s.Prune(map[string]struct{}{"a.md": {}, "keep.md": {}})
	if len(removed) != 2 || removed[0] != "gone.md" || removed[1] != "ledger-only.md" {
		t.Errorf("removed = %v", removed)
	}
	if s.Embeddings.Has("gone.md") || s.Cache.Len(freshness.Suggestions) != 0 {
		t.Error("pruned documents must be forgotten")
	}
	if !s.Embeddings.Has("a.md") {
		t.Error("present documents must be kept")
	}
}

func TestRemoveDocument(t *testing.T) {
	s := populated()
	s.RemoveDocument("a.md")
	if s.Embeddings.Has("a.md") || len(s.Keywords) != 0 {
		t.Error("artifacts should be removed")
	}
	if _, ok := s.Content("a.md"); ok {
		t.Error("content should be removed")
	}
	if s.Cache.IsFresh(freshness.Embedding, "a.md", 10) {
		t.Error("ledger entry should be invalidated")
	}
	if _, ok := s.Cache.Insertion("a.md", "B"); ok {
		t.Error("insertion cache should be invalidated")
	}
	if !s.Cache.IsIgnored("a.md", "b.md") {
		t.Error("ignored pairs must survive")
	}
}

func TestReset(t *testing.T) {
	s := populated()
	s.Reset()
	if len(s.Embeddings) != 0 || len(s.Keywords) != 0 || s.Cache.Len(freshness.Embedding) != 0 {
		t.Error("reset should clear ledger and artifacts")
	}
	if !s.Cache.IsIgnored("a.md", "b.md") {
		t.Error("ignored pairs must survive reset")
	}
}

func TestStoredSuggestions(t *testing.T) {
	s := New()
	res := similarity.Result{Candidates: []models.Candidate{{Path: "b.md", Title: "b", Similarity: 0.9}}}
	s.SetContent("a.md", "text")
	s.StoreSuggestions("a.md", res, 10)

	if got, ok := s.StoredSuggestions("a.md", 10); !ok || len(got.Candidates) != 1 {
		t.Fatalf("StoredSuggestions = %+v, %v", got, ok)
	}
	if _, ok := s.StoredSuggestions("a.md", 11); ok {
		t.Error("a newer mtime must not be served from the store")
	}

	s.SetContent("a.md", "text")
	if _, ok := s.StoredSuggestions("a.md", 10); !ok {
		t.Error("unchanged content must keep the stored result")
	}

	tests := []struct {
		name   string
		change func(*Session)
	}{
		{"invalidate", func(s *Session) { s.Invalidate("a.md") }},
		{"content", func(s *Session) { s.SetContent("c.md", "new") }},
		{"embedding", func(s *Session) { s.SetEmbedding("c.md", []float32{1}, 3) }},
		{"keywords", func(s *Session) { s.SetKeywords("c.md", artifact.KeywordEntry{Keywords: []string{"k"}, MTime: 3}) }},
		{"remove", func(s *Session) { s.RemoveDocument("c.md") }},
		{"reset", func(s *Session) { s.Reset() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.StoreSuggestions("a.md", res, 10)
			tt.change(s)
			if _, ok := s.StoredSuggestions("a.md", 10); ok {
				t.Errorf("stored result survived %s", tt.name)
			}
		})
	}
}
