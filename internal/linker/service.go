// Package linker runs the note-linking pipeline: it plans and executes scans
// over the vault, serves link suggestions with optional reranking, and keeps
// the persisted session in sync with vault changes.
package linker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/ansuz/internal/envelope"
	"github.com/starford/ansuz/internal/freshness"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/session"
	"github.com/starford/ansuz/internal/similarity"
	"github.com/starford/ansuz/internal/storage"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator runs a text completion.
type Generator interface {
	Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error)
}

// BodySource provides indexed note bodies used to seed document contents.
type BodySource interface {
	Bodies() (map[string]string, error)
}

// Config holds the tunables of the pipeline.
type Config struct {
	Threshold        float64
	MaxSuggestions   int
	ContextChars     int
	Rerank           bool
	CheckSuggestions bool
	EmbedChars       int
	Encoding         envelope.Encoding
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.7,
		MaxSuggestions:   10,
		ContextChars:     similarity.DefaultContextChars,
		Rerank:           false,
		CheckSuggestions: true,
		EmbedChars:       8000,
		Encoding:         envelope.Binary,
	}
}

// Service coordinates the session, the vault and the model backends. All
// session access goes through mu; model calls are made without holding it.
type Service struct {
	store  storage.Provider
	blobs  session.BlobStore
	bodies BodySource

	embedder  Embedder
	generator Generator
	observer  Observer
	cfg       Config
	logger    *slog.Logger

	mu   sync.Mutex
	sess *session.Session

	// scanMu serialises scans so two passes never interleave model calls.
	scanMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithEmbedder sets the embedding backend.
func WithEmbedder(e Embedder) Option {
	return func(s *Service) { s.embedder = e }
}

// WithGenerator sets the text generation backend used for keywords,
// reranking and insertion points.
func WithGenerator(g Generator) Option {
	return func(s *Service) { s.generator = g }
}

// WithObserver sets the scan progress callback.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithBodies seeds document contents from an index on Load.
func WithBodies(b BodySource) Option {
	return func(s *Service) { s.bodies = b }
}

// WithConfig overrides the pipeline tunables.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service with an empty session. Call Load to restore the
// persisted state.
func New(store storage.Provider, blobs session.BlobStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		blobs:  blobs,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Encoding == "" {
		s.cfg.Encoding = envelope.Binary
	}
	s.sess = session.New(session.WithEncoding(s.cfg.Encoding))
	return s
}

// Load restores the persisted session and seeds contents from the body
// source. Unreadable blobs are replaced by empty state.
func (s *Service) Load(ctx context.Context) error {
	sess, report, err := session.Load(ctx, s.blobs, s.logger, session.WithEncoding(s.cfg.Encoding))
	if err != nil {
		return fmt.Errorf("linker: load: %w", err)
	}
	metrics.RecordCacheLoad("missing", len(report.Missing))
	metrics.RecordCacheLoad("legacy", len(report.Legacy))
	metrics.RecordCacheLoad("corrupt", len(report.Corrupt))
	metrics.RecordCacheLoad("ok", 3-len(report.Missing)-len(report.Corrupt))

	if s.bodies != nil {
		bodies, err := s.bodies.Bodies()
		if err != nil {
			s.logger.Warn("linker: seeding contents failed", slog.String("error", err.Error()))
		}
		for p, b := range bodies {
			sess.SetContent(p, b)
		}
	}

	s.mu.Lock()
	s.sess = sess
	metrics.SetDocuments(len(sess.Embeddings))
	s.mu.Unlock()

	s.logger.Info("linker: session loaded",
		slog.Int("embeddings", len(sess.Embeddings)),
		slog.Int("contents", len(sess.Contents)),
		slog.Int("corrupt", len(report.Corrupt)))
	return nil
}

// Save persists the session.
func (s *Service) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Service) saveLocked(ctx context.Context) error {
	if err := s.sess.Save(ctx, s.blobs); err != nil {
		return fmt.Errorf("linker: save: %w", err)
	}
	return nil
}

// Stats summarises the session.
type Stats struct {
	Embeddings       int  `json:"embeddings"`
	Keywords         int  `json:"keywords"`
	Contents         int  `json:"contents"`
	Ignored          int  `json:"ignored"`
	FreshEmbeddings  int  `json:"fresh_embeddings"`
	FreshKeywords    int  `json:"fresh_keywords"`
	FreshSuggestions int  `json:"fresh_suggestions"`
	Embedder         bool `json:"embedder"`
	Generator        bool `json:"generator"`
}

// Stats returns counts describing the current session.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Embeddings:       len(s.sess.Embeddings),
		Keywords:         len(s.sess.Keywords),
		Contents:         len(s.sess.Contents),
		Ignored:          len(s.sess.Cache.ListIgnored()),
		FreshEmbeddings:  s.sess.Cache.Len(freshness.Embedding),
		FreshKeywords:    s.sess.Cache.Len(freshness.Keywords),
		FreshSuggestions: s.sess.Cache.Len(freshness.Suggestions),
		Embedder:         s.embedder != nil,
		Generator:        s.generator != nil,
	}
}

// Ignore dismisses the (source, target) suggestion pair and persists it.
func (s *Service) Ignore(ctx context.Context, source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Cache.Ignore(source, target)
	return s.saveLocked(ctx)
}

// Unignore restores a dismissed pair. It reports whether the pair was ignored.
func (s *Service) Unignore(ctx context.Context, source, target string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sess.Cache.Unignore(source, target) {
		return false, nil
	}
	return true, s.saveLocked(ctx)
}

// IsIgnored reports whether the pair was dismissed in either orientation.
func (s *Service) IsIgnored(source, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Cache.IsIgnored(source, target)
}

// ListIgnored returns the dismissed pairs, newest first.
func (s *Service) ListIgnored() []freshness.IgnoredSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Cache.ListIgnored()
}

// ClearIgnored restores every dismissed pair and returns how many there were.
func (s *Service) ClearIgnored(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.sess.Cache.ClearIgnored()
	return n, s.saveLocked(ctx)
}

// Invalidate forgets everything computed for path so the next scan redoes
// it. It returns the number of ledger entries removed.
func (s *Service) Invalidate(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.sess.Invalidate(path)
	return n, s.saveLocked(ctx)
}

// ClearCache drops the ledger and all artifacts. Ignored pairs are kept.
func (s *Service) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Reset()
	metrics.SetDocuments(0)
	return s.saveLocked(ctx)
}

// readBody reads path from the vault and strips its frontmatter.
func (s *Service) readBody(path string) (string, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return "", err
	}
	return parser.StripFrontmatter(data), nil
}
