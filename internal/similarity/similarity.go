// Package similarity scores vault documents as link candidates for a piece of
// text, blending vector similarity with lexical signals.
package similarity

import (
	"fmt"
	"log/slog"
	"math"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/artifact"
	"github.com/starford/ansuz/internal/models"
)

// Scoring constants.
const (
	SingleWordTitleBoost = 0.50
	MultiWordTitleBoost  = 0.30
	KeywordBoostPerHit   = 0.05
	KeywordBoostCap      = 0.20
	ContainmentBoost     = 0.10
	// InclusionFactor scales the threshold a non-mandatory candidate must exceed.
	InclusionFactor = 0.85

	DefaultContextChars = 100
	contextLines        = 5
)

// CosineSimilarity returns the cosine of the angle between a and b. It
// returns 0 when the lengths differ, either vector is empty or either norm is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TitleFromPath returns the final path segment without its extension.
func TitleFromPath(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	ext := path.Ext(base)
	if ext != "" && !strings.ContainsAny(ext, " \t") {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// ExtractContext joins the first five lines of content with single spaces
// and truncates the result to maxChars runes, appending "..." when cut.
func ExtractContext(content string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}
	lines := strings.Split(content, "\n")
	if len(lines) > contextLines {
		lines = lines[:contextLines]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	joined := strings.Join(lines, " ")
	runes := []rune(joined)
	if len(runes) <= maxChars {
		return joined
	}
	return string(runes[:maxChars]) + "..."
}

// Query describes one suggestion request.
type Query struct {
	Text        string
	Vector      []float32
	CurrentPath string
	Threshold   float64
	MaxResults  int
}

// Diagnostics reports how candidates were filtered during Suggest.
type Diagnostics struct {
	Considered         int      `json:"considered"`
	Retained           int      `json:"retained"`
	Deduplicated       int      `json:"deduplicated"`
	ForcedDeduplicated int      `json:"forced_deduplicated"`
	MissingContent     []string `json:"missing_content,omitempty"`
	SelfExcluded       bool     `json:"self_excluded"`
}

// Result is the output of Suggest.
type Result struct {
	Candidates  []models.Candidate `json:"candidates"`
	Diagnostics Diagnostics        `json:"diagnostics"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for filtering diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithContextChars sets the context snippet length.
func WithContextChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.contextChars = n
		}
	}
}

// Engine scores documents held in the artifact stores. It reads the stores
// it is given and never mutates them.
type Engine struct {
	embeddings   artifact.Embeddings
	keywords     artifact.Keywords
	contents     artifact.Contents
	logger       *slog.Logger
	contextChars int
}

// NewEngine creates an Engine over the given stores.
func NewEngine(emb artifact.Embeddings, kw artifact.Keywords, contents artifact.Contents, opts ...Option) *Engine {
	e := &Engine{
		embeddings:   emb,
		keywords:     kw,
		contents:     contents,
		logger:       slog.Default(),
		contextChars: DefaultContextChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type scored struct {
	candidate models.Candidate
	forced    bool
}

// Suggest ranks every stored document other than q.CurrentPath as a link
// candidate for q.Text.
func (e *Engine) Suggest(q Query) Result {
	var diag Diagnostics
	textLower := strings.ToLower(q.Text)
	currentTitle := strings.ToLower(TitleFromPath(q.CurrentPath))
	minScore := q.Threshold * InclusionFactor

	var kept []scored
	for _, p := range e.embeddings.Paths() {
		if q.CurrentPath != "" && p == q.CurrentPath {
			diag.SelfExcluded = true
			continue
		}
		diag.Considered++

		title := TitleFromPath(p)
		titleLower := strings.ToLower(title)
		score := CosineSimilarity(q.Vector, e.embeddings[p])

		forced := false
		switch words := strings.Fields(titleLower); {
		case len(words) == 0:
		case len(words) == 1:
			if containsWord(textLower, titleLower) {
				forced = true
				score += SingleWordTitleBoost
			}
		default:
			if strings.Contains(textLower, titleLower) {
				forced = true
				score += MultiWordTitleBoost
			}
		}

		score += keywordBoost(textLower, e.keywords.For(p))

		if currentTitle != "" && titleLower != currentTitle &&
			(strings.Contains(titleLower, currentTitle) || strings.Contains(currentTitle, titleLower)) {
			score += ContainmentBoost
		}

		if !forced && score <= minScore {
			continue
		}

		content, ok := e.contents.Lookup(p)
		if !ok {
			diag.MissingContent = append(diag.MissingContent, p)
			e.logger.Warn("similarity: candidate has no content", slog.String("path", p))
			continue
		}

		if alreadyLinked(q.Text, title) {
			diag.Deduplicated++
			if forced {
				diag.ForcedDeduplicated++
				e.logger.Debug("similarity: title mentioned but already linked", slog.String("path", p))
			}
			continue
		}

		kept = append(kept, scored{
			candidate: models.Candidate{
				Path:       p,
				Title:      title,
				Similarity: score,
				Context:    ExtractContext(content, e.contextChars),
			},
			forced: forced,
		})
	}

	if q.CurrentPath != "" && !diag.SelfExcluded {
		e.logger.Debug("similarity: current document has no stored vector", slog.String("path", q.CurrentPath))
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].candidate.Similarity > kept[j].candidate.Similarity
	})
	if q.MaxResults > 0 && len(kept) > q.MaxResults {
		kept = kept[:q.MaxResults]
	}

	out := make([]models.Candidate, len(kept))
	for i, s := range kept {
		out[i] = s.candidate
	}
	diag.Retained = len(out)
	return Result{Candidates: out, Diagnostics: diag}
}

// FindSimilar returns every document whose vector similarity to vector is
// at least threshold, best first.
func (e *Engine) FindSimilar(vector []float32, threshold float64) []models.Candidate {
	return e.rank(vector, "", threshold, 0)
}

// FindSimilarTo returns the topK documents closest to the stored vector of p.
func (e *Engine) FindSimilarTo(p string, topK int) ([]models.Candidate, error) {
	vec, ok := e.embeddings[p]
	if !ok || len(vec) == 0 {
		return nil, fmt.Errorf("similarity: %s: %w", p, apperr.ErrNoEmbedding)
	}
	return e.rank(vec, p, math.Inf(-1), topK), nil
}

func (e *Engine) rank(vector []float32, exclude string, threshold float64, topK int) []models.Candidate {
	out := []models.Candidate{}
	for _, p := range e.embeddings.Paths() {
		if p == exclude {
			continue
		}
		score := CosineSimilarity(vector, e.embeddings[p])
		if score < threshold {
			continue
		}
		content, _ := e.contents.Lookup(p)
		out = append(out, models.Candidate{
			Path:       p,
			Title:      TitleFromPath(p),
			Similarity: score,
			Context:    ExtractContext(content, e.contextChars),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func keywordBoost(textLower string, keywords []string) float64 {
	hits := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(textLower, kw) {
			hits++
		}
	}
	return math.Min(float64(hits)*KeywordBoostPerHit, KeywordBoostCap)
}

// containsWord reports whether word occurs in text delimited by non-word
// characters (letters, digits and underscore are word characters).
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for from := 0; from <= len(text)-len(word); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// alreadyLinked reports whether text holds a wikilink to title, with or without alias.
func alreadyLinked(text, title string) bool {
	return strings.Contains(text, "[["+title+"]]") || strings.Contains(text, "[["+title+"|")
}
