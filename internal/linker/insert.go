package linker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/llm"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/similarity"
)

// Insertion sources.
const (
	SourceGenerator = "generator"
	SourceKeyword   = "keyword"
)

// keywordConfidence is reported for insertion points found by plain title
// matching.
const keywordConfidence = 0.5

// InsertionResult is a proposed place to link title from a document.
type InsertionResult struct {
	Path      string                `json:"path"`
	Title     string                `json:"title"`
	Insertion models.Insertion      `json:"insertion"`
	Positions []models.LinkPosition `json:"positions"`
	Source    string                `json:"source"`
	Cached    bool                  `json:"cached"`
}

// SuggestInsertion proposes where a link to title fits in the document at
// path. Results are cached per (path, title) until the document changes.
// With a generator the model picks the phrase; otherwise, or when the model
// fails, the first plain occurrence of title outside existing links is used.
func (s *Service) SuggestInsertion(ctx context.Context, path, title string) (InsertionResult, error) {
	s.mu.Lock()
	blob, hit := s.sess.Cache.Insertion(path, title)
	content, hasContent := s.sess.Content(path)
	s.mu.Unlock()

	if hit {
		var cached InsertionResult
		if err := json.Unmarshal(blob, &cached); err == nil {
			cached.Cached = true
			return cached, nil
		}
		s.logger.Warn("linker: dropping unreadable insertion cache entry",
			slog.String("path", path), slog.String("title", title))
	}

	if !hasContent {
		body, err := s.readBody(path)
		if err != nil {
			return InsertionResult{}, fmt.Errorf("linker: insertion: %w", err)
		}
		content = body
	}

	res := InsertionResult{
		Path:      path,
		Title:     title,
		Positions: parser.LinkPositions(content, []string{title}),
		Source:    SourceKeyword,
	}
	if res.Positions == nil {
		res.Positions = []models.LinkPosition{}
	}

	if s.generator != nil {
		ins, err := s.generatorInsertion(ctx, title, content)
		if err == nil {
			res.Insertion = ins
			res.Source = SourceGenerator
		} else {
			s.logger.Warn("linker: insertion model failed, using title match",
				slog.String("path", path),
				slog.String("title", title),
				slog.String("error", err.Error()))
		}
	}
	if res.Source == SourceKeyword && len(res.Positions) > 0 {
		res.Insertion = models.Insertion{
			Phrase:     res.Positions[0].Keyword,
			Reason:     "Title appears in the text",
			Confidence: keywordConfidence,
		}
	}

	encoded, err := json.Marshal(res)
	if err != nil {
		return InsertionResult{}, fmt.Errorf("linker: insertion: encode: %w", err)
	}
	s.mu.Lock()
	s.sess.Cache.CacheInsertion(path, title, encoded)
	s.mu.Unlock()
	return res, nil
}

func (s *Service) generatorInsertion(ctx context.Context, title, content string) (models.Insertion, error) {
	resp, err := s.generator.Generate(ctx, llm.InsertionPrompt(title, content, s.linkContext(title)), true)
	if err != nil {
		return models.Insertion{}, err
	}
	return llm.ParseInsertion(resp)
}

// linkContext returns a snippet of the document titled title, if known.
func (s *Service) linkContext(title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.sess.Embeddings.Paths() {
		if similarity.TitleFromPath(p) != title {
			continue
		}
		if c, ok := s.sess.Content(p); ok {
			return similarity.ExtractContext(c, s.cfg.ContextChars)
		}
	}
	return ""
}

// LinkEdit names a phrase in a document to turn into a wikilink. An empty
// Phrase means Title itself. A non-zero MTime is the mtime (ms) the caller
// last saw; the edit fails with apperr.ErrConflict if the file changed since.
type LinkEdit struct {
	Path   string
	Title  string
	Phrase string
	MTime  int64
}

// ApplyLink rewrites the first whole-word occurrence of the phrase outside
// existing links into a wikilink and writes the file without overwriting
// concurrent edits. It returns apperr.ErrNotFound when the phrase does not
// occur.
func (s *Service) ApplyLink(ctx context.Context, edit LinkEdit) error {
	path, title, phrase := edit.Path, edit.Title, edit.Phrase
	if phrase == "" {
		phrase = title
	}
	meta, err := s.store.Stat(path)
	if err != nil {
		return fmt.Errorf("linker: apply link: %w", err)
	}
	if edit.MTime != 0 && edit.MTime != meta.MTime {
		return fmt.Errorf("linker: apply link: %s: %w", path, apperr.ErrConflict)
	}
	data, err := s.store.Read(path)
	if err != nil {
		return fmt.Errorf("linker: apply link: %w", err)
	}
	updated, ok := parser.InsertLink(string(data), phrase, title)
	if !ok {
		return fmt.Errorf("linker: apply link: phrase %q in %s: %w", phrase, path, apperr.ErrNotFound)
	}
	if err := s.store.WriteIfUnchanged(path, []byte(updated), meta.MTime); err != nil {
		return fmt.Errorf("linker: apply link: %w", err)
	}

	body := parser.StripFrontmatter([]byte(updated))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.SetContent(path, body)
	s.sess.Invalidate(path)
	return s.saveLocked(ctx)
}
