package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/artifact"
	"github.com/starford/ansuz/internal/freshness"
	"github.com/starford/ansuz/internal/llm"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/planner"
	"github.com/starford/ansuz/internal/similarity"
)

// Scan stages, used in failures and metrics.
const (
	StageRead        = "read"
	StageEmbed       = "embed"
	StageKeywords    = "keywords"
	StageSuggestions = "suggestions"
)

// Progress is reported to the Observer after each processed file and once
// more with Done set when the scan finishes.
type Progress struct {
	Path      string `json:"path,omitempty"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
	Done      bool   `json:"done"`
}

// Observer receives scan progress. It is called synchronously.
type Observer func(Progress)

// PlanOptions controls a vault plan.
type PlanOptions struct {
	CurrentFile string
	// CheckSuggestions overrides the configured default when non-nil.
	CheckSuggestions *bool
}

// ScanOptions controls a scan pass.
type ScanOptions struct {
	PlanOptions
	// Limit caps the number of files processed; zero means no limit.
	Limit int
}

// ScanFailure records one per-file failure.
type ScanFailure struct {
	Path  string `json:"path"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ScanReport summarises a scan pass.
type ScanReport struct {
	Planned            int           `json:"planned"`
	Skipped            int           `json:"skipped"`
	Processed          int           `json:"processed"`
	Embedded           int           `json:"embedded"`
	KeywordsExtracted  int           `json:"keywords_extracted"`
	SuggestionsChecked int           `json:"suggestions_checked"`
	Failures           []ScanFailure `json:"failures"`
	Pruned             []string      `json:"pruned"`
	Duration           time.Duration `json:"duration"`
}

func (s *Service) checkSuggestions(o PlanOptions) bool {
	if o.CheckSuggestions != nil {
		return *o.CheckSuggestions
	}
	return s.cfg.CheckSuggestions
}

// PlanFiles plans the given descriptors against the current ledger.
func (s *Service) PlanFiles(req planner.Request) models.ScanPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan := planner.New(s.sess.Cache, planner.WithEmbeddings(s.sess.Embeddings)).Plan(req)
	metrics.RecordPlan(len(plan.ToProcess), len(plan.ToSkip))
	return plan
}

// Plan lists the vault and plans it.
func (s *Service) Plan(_ context.Context, opts PlanOptions) (models.ScanPlan, error) {
	files, err := s.listVault()
	if err != nil {
		return models.ScanPlan{}, err
	}
	return s.PlanFiles(planner.Request{
		Files:            files,
		CurrentFile:      opts.CurrentFile,
		CheckSuggestions: s.checkSuggestions(opts),
	}), nil
}

func (s *Service) listVault() ([]models.FileDescriptor, error) {
	metas, err := s.store.List("")
	if err != nil {
		return nil, fmt.Errorf("linker: list vault: %w", err)
	}
	files := make([]models.FileDescriptor, len(metas))
	for i, m := range metas {
		files[i] = m.Descriptor()
	}
	return files, nil
}

// Scan plans the vault and executes the plan one file at a time. Per-file
// failures are collected in the report; Scan only fails when the vault
// cannot be listed, the context is cancelled or the session cannot be saved.
func (s *Service) Scan(ctx context.Context, opts ScanOptions) (ScanReport, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := time.Now()
	files, err := s.listVault()
	if err != nil {
		return ScanReport{}, err
	}
	plan := s.PlanFiles(planner.Request{
		Files:            files,
		CurrentFile:      opts.CurrentFile,
		CheckSuggestions: s.checkSuggestions(opts.PlanOptions),
	})

	items := plan.ToProcess
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	report := ScanReport{
		Planned:  len(plan.ToProcess),
		Skipped:  len(plan.ToSkip),
		Failures: []ScanFailure{},
	}

	s.logger.Info("linker: scan started",
		slog.Int("to_process", len(items)),
		slog.Int("to_skip", len(plan.ToSkip)))

	var scanErr error
	var suggest []models.WorkItem
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			scanErr = fmt.Errorf("linker: scan: %w", err)
			break
		}
		failure := s.processItem(ctx, item, &report)
		report.Processed++
		p := Progress{Path: item.Path, Processed: i + 1, Total: len(items)}
		if failure != nil {
			report.Failures = append(report.Failures, *failure)
			p.Error = failure.Error
		} else if item.NeedsSuggestions {
			suggest = append(suggest, item)
		}
		s.notify(p)
	}

	// Suggestions run once every vector of this pass is stored, so early
	// documents see the later ones as candidates.
	if scanErr == nil {
		for _, item := range suggest {
			s.checkItemSuggestions(item)
			metrics.RecordStep(StageSuggestions, nil)
			report.SuggestionsChecked++
		}
	}

	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f.Path] = struct{}{}
	}

	s.mu.Lock()
	report.Pruned = s.sess.Prune(present)
	metrics.SetDocuments(len(s.sess.Embeddings))
	saveErr := s.saveLocked(ctx)
	s.mu.Unlock()

	report.Duration = time.Since(start)
	metrics.RecordScan(report.Duration)
	s.notify(Progress{Processed: report.Processed, Total: len(items), Done: true})

	s.logger.Info("linker: scan finished",
		slog.Int("processed", report.Processed),
		slog.Int("failures", len(report.Failures)),
		slog.Int("pruned", len(report.Pruned)),
		slog.Duration("duration", report.Duration))

	if scanErr != nil {
		return report, scanErr
	}
	if saveErr != nil {
		return report, saveErr
	}
	return report, nil
}

func (s *Service) notify(p Progress) {
	if s.observer != nil {
		s.observer(p)
	}
}

// processItem runs the stale read, embedding and keyword stages of one work
// item. Later stages are skipped once a stage fails.
func (s *Service) processItem(ctx context.Context, item models.WorkItem, report *ScanReport) *ScanFailure {
	fail := func(stage string, err error) *ScanFailure {
		metrics.RecordStep(stage, err)
		s.logger.Warn("linker: scan step failed",
			slog.String("path", item.Path),
			slog.String("stage", stage),
			slog.String("error", err.Error()))
		return &ScanFailure{Path: item.Path, Stage: stage, Error: err.Error()}
	}

	body, err := s.readBody(item.Path)
	if err != nil {
		return fail(StageRead, err)
	}
	s.mu.Lock()
	s.sess.SetContent(item.Path, body)
	s.mu.Unlock()

	if item.NeedsEmbedding {
		if err := s.embedItem(ctx, item, body); err != nil {
			return fail(StageEmbed, err)
		}
		metrics.RecordStep(StageEmbed, nil)
		report.Embedded++
	}

	if item.NeedsKeywords {
		if err := s.extractKeywords(ctx, item, body); err != nil {
			return fail(StageKeywords, err)
		}
		metrics.RecordStep(StageKeywords, nil)
		report.KeywordsExtracted++
	}
	return nil
}

func (s *Service) embedItem(ctx context.Context, item models.WorkItem, body string) error {
	if s.embedder == nil {
		return apperr.ErrNoEmbedding
	}
	vec, err := s.embedder.Embed(ctx, llm.TruncateContent(body, s.cfg.EmbedChars, ""))
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return errors.New("embedder returned an empty vector")
	}
	s.mu.Lock()
	s.sess.SetEmbedding(item.Path, vec, item.MTime)
	s.mu.Unlock()
	return nil
}

// extractKeywords stores the keywords of one document. Without a generator
// the document is recorded with no keywords.
func (s *Service) extractKeywords(ctx context.Context, item models.WorkItem, body string) error {
	var keywords []string
	if s.generator != nil {
		resp, err := s.generator.Generate(ctx, llm.KeywordsPrompt(similarity.TitleFromPath(item.Path), body), true)
		if err != nil {
			return err
		}
		keywords, err = llm.ParseKeywords(resp)
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.sess.SetKeywords(item.Path, artifact.KeywordEntry{Keywords: keywords, MTime: item.MTime})
	s.mu.Unlock()
	return nil
}

// checkItemSuggestions computes and stores the untruncated suggestions of
// one document so Suggest can serve them while the document is unchanged.
// A document without a vector is only marked as checked.
func (s *Service) checkItemSuggestions(item models.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vec := s.sess.Embeddings[item.Path]
	body, ok := s.sess.Content(item.Path)
	if len(vec) == 0 || !ok {
		s.sess.Cache.MarkProcessed(freshness.Suggestions, item.Path, item.MTime)
		return
	}
	res := s.engineLocked().Suggest(similarity.Query{
		Text:        body,
		Vector:      vec,
		CurrentPath: item.Path,
		Threshold:   s.cfg.Threshold,
	})
	s.sess.StoreSuggestions(item.Path, res, item.MTime)
	s.logger.Debug("linker: suggestions stored",
		slog.String("path", item.Path),
		slog.Int("candidates", len(res.Candidates)))
}

func (s *Service) engineLocked() *similarity.Engine {
	return similarity.NewEngine(s.sess.Embeddings, s.sess.Keywords, s.sess.Contents,
		similarity.WithLogger(s.logger),
		similarity.WithContextChars(s.cfg.ContextChars))
}
