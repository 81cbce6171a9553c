package linker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/fusion"
	"github.com/starford/ansuz/internal/llm"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/similarity"
)

// RerankStatus describes what happened to the external ranking step.
type RerankStatus string

const (
	RerankSkipped     RerankStatus = "skipped"
	RerankApplied     RerankStatus = "applied"
	RerankUnavailable RerankStatus = "unavailable"
)

// SuggestOptions overrides configured defaults for one request. Zero values
// and nil pointers keep the configured value.
type SuggestOptions struct {
	Rerank     *bool
	Threshold  *float64
	MaxResults int
}

// EmbeddingStatus says where the query vector of a suggestion came from.
type EmbeddingStatus string

const (
	EmbeddingStored      EmbeddingStatus = "stored"
	EmbeddingComputed    EmbeddingStatus = "computed"
	EmbeddingUnavailable EmbeddingStatus = "unavailable"
)

// Suggestions is the response of Suggest. Cached is set when the candidates
// come from the result stored by the last scan.
type Suggestions struct {
	Path        string                   `json:"path"`
	Candidates  []models.RankedCandidate `json:"candidates"`
	Rerank      RerankStatus             `json:"rerank"`
	Grammar     string                   `json:"grammar,omitempty"`
	Ignored     int                      `json:"ignored"`
	Embedding   EmbeddingStatus          `json:"embedding"`
	Cached      bool                     `json:"cached"`
	Diagnostics similarity.Diagnostics   `json:"diagnostics"`
}

// Suggest proposes link targets for the document at path. Ignored pairs are
// dropped. When reranking is enabled and a generator is configured the
// candidates are reranked; any rerank failure falls back to similarity order.
//
// A document the last scan checked and that has not changed since is served
// from the stored result unless opts overrides the threshold. Without a
// vector and without a working embedder, only title and keyword matches
// can surface and Embedding reports "unavailable".
func (s *Service) Suggest(ctx context.Context, path string, opts SuggestOptions) (Suggestions, error) {
	res, cached := s.storedSuggestions(path, opts)
	status := EmbeddingStored
	var content string
	if !cached {
		var err error
		res, content, status, err = s.computeSuggestions(ctx, path, opts)
		if err != nil {
			return Suggestions{}, err
		}
	}

	maxResults := s.cfg.MaxSuggestions
	if opts.MaxResults > 0 {
		maxResults = opts.MaxResults
	}

	s.mu.Lock()
	kept := make([]models.Candidate, 0, len(res.Candidates))
	ignored := 0
	for _, c := range res.Candidates {
		if s.sess.Cache.IsIgnored(path, c.Path) {
			ignored++
			continue
		}
		kept = append(kept, c)
	}
	if cached {
		content, _ = s.sess.Content(path)
	}
	s.mu.Unlock()

	// Truncate after dropping ignored pairs so they do not eat result slots.
	if maxResults > 0 && len(kept) > maxResults {
		kept = kept[:maxResults]
	}

	out := Suggestions{
		Path:        path,
		Candidates:  models.Unranked(kept),
		Rerank:      RerankSkipped,
		Ignored:     ignored,
		Embedding:   status,
		Cached:      cached,
		Diagnostics: res.Diagnostics,
	}

	rerank := s.cfg.Rerank
	if opts.Rerank != nil {
		rerank = *opts.Rerank
	}
	if rerank && s.generator != nil && len(kept) > 0 {
		out.Rerank = RerankUnavailable
		fused, err := s.rerank(ctx, path, content, kept)
		if err != nil {
			s.logger.Warn("linker: rerank failed, using similarity order",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			out.Candidates = fused.Candidates
			out.Grammar = fused.Grammar
			out.Rerank = RerankApplied
		}
	}
	metrics.RecordRerank(string(out.Rerank))
	metrics.RecordSuggestions(len(out.Candidates))
	return out, nil
}

// storedSuggestions returns the result the last scan stored for path when
// the file is unchanged and no threshold override applies.
func (s *Service) storedSuggestions(path string, opts SuggestOptions) (similarity.Result, bool) {
	if opts.Threshold != nil {
		return similarity.Result{}, false
	}
	meta, err := s.store.Stat(path)
	if err != nil {
		return similarity.Result{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.StoredSuggestions(path, meta.MTime)
}

func (s *Service) computeSuggestions(ctx context.Context, path string, opts SuggestOptions) (similarity.Result, string, EmbeddingStatus, error) {
	s.mu.Lock()
	content, hasContent := s.sess.Content(path)
	vec := s.sess.Embeddings[path]
	s.mu.Unlock()

	if !hasContent {
		body, err := s.readBody(path)
		if err != nil {
			return similarity.Result{}, "", "", fmt.Errorf("linker: suggest: %w", err)
		}
		content = body
	}

	status := EmbeddingStored
	if len(vec) == 0 {
		status = EmbeddingComputed
		switch {
		case s.embedder == nil:
			s.logger.Warn("linker: suggest without vector, no embedder configured",
				slog.String("path", path))
			status = EmbeddingUnavailable
		default:
			v, err := s.embedder.Embed(ctx, llm.TruncateContent(content, s.cfg.EmbedChars, ""))
			if err != nil {
				if ctx.Err() != nil {
					return similarity.Result{}, "", "", fmt.Errorf("linker: suggest: %w", ctx.Err())
				}
				s.logger.Warn("linker: suggest without vector, embed failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				status = EmbeddingUnavailable
				break
			}
			vec = v
		}
	}

	threshold := s.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.engineLocked().Suggest(similarity.Query{
		Text:        content,
		Vector:      vec,
		CurrentPath: path,
		Threshold:   threshold,
	})
	return res, content, status, nil
}

func (s *Service) rerank(ctx context.Context, path, content string, candidates []models.Candidate) (fusion.Result, error) {
	prompt := llm.RankingPrompt(similarity.TitleFromPath(path), content, candidates)
	resp, err := s.generator.Generate(ctx, prompt, false)
	if err != nil {
		return fusion.Result{}, err
	}
	return fusion.Fuse(candidates, resp, s.logger)
}

// Rank merges an externally produced ranking response with candidates.
func (s *Service) Rank(candidates []models.Candidate, response string) (fusion.Result, error) {
	return fusion.Fuse(candidates, response, s.logger)
}

// Related returns the topK documents nearest to path by vector similarity
// alone. No boosts, thresholds or ignore rules apply.
func (s *Service) Related(path string, topK int) ([]models.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.engineLocked().FindSimilarTo(path, topK)
	if err != nil {
		return nil, fmt.Errorf("linker: related: %w", err)
	}
	return out, nil
}
