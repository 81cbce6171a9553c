// Package planner decides which documents need their derived artifacts
// recomputed and in what order.
package planner

import (
	"sort"

	"github.com/starford/ansuz/internal/freshness"
	"github.com/starford/ansuz/internal/models"
)

// Freshness is the subset of freshness.Index the planner reads.
type Freshness interface {
	IsFresh(kind freshness.Kind, path string, mtime int64) bool
}

// EmbeddingPresence reports whether a vector is actually stored for a path.
type EmbeddingPresence interface {
	Has(path string) bool
}

// Request is the input of one planning pass.
type Request struct {
	Files            []models.FileDescriptor `json:"files"`
	CurrentFile      string                  `json:"current_file,omitempty"`
	CheckSuggestions bool                    `json:"check_suggestions"`
}

// Planner builds scan plans against a freshness ledger.
type Planner struct {
	fresh    Freshness
	presence EmbeddingPresence
}

// Option configures a Planner.
type Option func(*Planner)

// WithEmbeddings makes documents without a stored vector need embedding even
// when the ledger says the embedding is fresh.
func WithEmbeddings(p EmbeddingPresence) Option {
	return func(pl *Planner) {
		pl.presence = p
	}
}

// New creates a Planner reading fresh.
func New(fresh Freshness, opts ...Option) *Planner {
	p := &Planner{fresh: fresh}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Assess computes the work flags for a single document.
func (p *Planner) Assess(f models.FileDescriptor, checkSuggestions bool) models.WorkItem {
	needsEmbedding := !p.fresh.IsFresh(freshness.Embedding, f.Path, f.MTime)
	if p.presence != nil && !p.presence.Has(f.Path) {
		needsEmbedding = true
	}
	needsKeywords := needsEmbedding || !p.fresh.IsFresh(freshness.Keywords, f.Path, f.MTime)
	needsSuggestions := checkSuggestions &&
		(needsEmbedding || !p.fresh.IsFresh(freshness.Suggestions, f.Path, f.MTime))

	return models.WorkItem{
		Path:             f.Path,
		MTime:            f.MTime,
		NeedsEmbedding:   needsEmbedding,
		NeedsKeywords:    needsKeywords,
		NeedsSuggestions: needsSuggestions,
	}
}

// Plan partitions req.Files into work items and skipped paths. Work items
// are ordered with the current document first, then by mtime descending;
// equal mtimes keep their input order.
func (p *Planner) Plan(req Request) models.ScanPlan {
	plan := models.ScanPlan{
		ToProcess: []models.WorkItem{},
		ToSkip:    []string{},
	}
	for _, f := range req.Files {
		item := p.Assess(f, req.CheckSuggestions)
		if item.Pending() {
			plan.ToProcess = append(plan.ToProcess, item)
		} else {
			plan.ToSkip = append(plan.ToSkip, f.Path)
		}
	}

	current := req.CurrentFile
	sort.SliceStable(plan.ToProcess, func(i, j int) bool {
		a, b := plan.ToProcess[i], plan.ToProcess[j]
		aCur := current != "" && a.Path == current
		bCur := current != "" && b.Path == current
		if aCur != bCur {
			return aCur
		}
		return a.MTime > b.MTime
	})

	if current != "" {
		for i, item := range plan.ToProcess {
			if item.Path == current {
				idx := i
				plan.CurrentFileIndex = &idx
				break
			}
		}
	}
	return plan
}

// CountNeedingEmbedding returns how many files have a stale or missing embedding.
func (p *Planner) CountNeedingEmbedding(files []models.FileDescriptor) int {
	n := 0
	for _, f := range files {
		if p.Assess(f, false).NeedsEmbedding {
			n++
		}
	}
	return n
}
