package api

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/freshness"
	"github.com/starford/ansuz/internal/models"
)

// PlanRequest is the body of POST /api/plan: pure planning over caller
// supplied descriptors.
type PlanRequest struct {
	Files            []models.FileDescriptor `json:"files" validate:"required"`
	CurrentFile      string                  `json:"current_file,omitempty" example:"notes/rust.md"`
	CheckSuggestions bool                    `json:"check_suggestions"`
}

// Validate checks the descriptors.
func (r *PlanRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Files, validation.NotNil, validation.Each(validation.By(validDescriptor))),
	)
}

func validDescriptor(v interface{}) error {
	f, ok := v.(models.FileDescriptor)
	if !ok {
		return errors.New("must be a file descriptor")
	}
	return validation.ValidateStruct(&f,
		validation.Field(&f.Path, validation.Required, validation.By(relativePath)),
		validation.Field(&f.MTime, validation.Min(int64(0))),
	)
}

func relativePath(v interface{}) error {
	p, _ := v.(string)
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return errors.New("must be a vault-relative path with forward slashes")
	}
	return nil
}

// ScanRequest is the optional body of POST /api/scan.
type ScanRequest struct {
	CurrentFile      string `json:"current_file,omitempty" example:"notes/rust.md"`
	CheckSuggestions *bool  `json:"check_suggestions,omitempty"`
	Limit            int    `json:"limit,omitempty" example:"50"`
}

// Validate checks the limit.
func (r *ScanRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CurrentFile, validation.By(relativePath)),
		validation.Field(&r.Limit, validation.Min(0)),
	)
}

// RankRequest is the body of POST /api/rank.
type RankRequest struct {
	Candidates []models.Candidate `json:"candidates" validate:"required"`
	Response   string             `json:"response" example:"Document 1: 8 - covers the topic" validate:"required"`
}

// Validate checks that there is something to rank.
func (r *RankRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Candidates, validation.Required),
		validation.Field(&r.Response, validation.Required),
	)
}

// IgnoreRequest names a suggestion pair.
type IgnoreRequest struct {
	Source string `json:"source" example:"notes/rust.md" validate:"required"`
	Target string `json:"target" example:"notes/ownership.md" validate:"required"`
}

// Validate requires two distinct paths.
func (r *IgnoreRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Source, validation.Required),
		validation.Field(&r.Target, validation.Required, validation.NotIn(r.Source).Error("must differ from source")),
	)
}

// LinkRequest is the body of POST /api/links.
type LinkRequest struct {
	Path   string `json:"path" example:"notes/ownership.md" validate:"required"`
	Title  string `json:"title" example:"Rust" validate:"required"`
	Phrase string `json:"phrase,omitempty" example:"rust"`
	MTime  int64  `json:"mtime,omitempty" example:"1718000000000"`
}

// Validate checks the target document and title.
func (r *LinkRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required, validation.By(relativePath)),
		validation.Field(&r.Title, validation.Required, validation.By(func(v interface{}) error {
			if s, _ := v.(string); strings.ContainsAny(s, "[]|") {
				return errors.New("must not contain wikilink syntax")
			}
			return nil
		})),
		validation.Field(&r.MTime, validation.Min(int64(0))),
	)
}

// IgnoredResponse lists dismissed pairs.
type IgnoredResponse struct {
	Ignored []freshness.IgnoredSuggestion `json:"ignored" validate:"required"`
}

// InvalidateResponse reports how many ledger entries were dropped.
type InvalidateResponse struct {
	Path    string `json:"path" example:"notes/rust.md" validate:"required"`
	Removed int    `json:"removed" example:"3" validate:"required"`
}

// CountResponse carries a removal count.
type CountResponse struct {
	Removed int `json:"removed" example:"2" validate:"required"`
}
