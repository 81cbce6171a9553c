// Package fusion merges an external ranker's free-form response with
// similarity-ranked candidates.
//
// Every input candidate appears exactly once in the output: candidates the
// ranker scored come first, ordered by external score, followed by the rest
// ordered by similarity.
package fusion

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Result is the fused ranking.
type Result struct {
	Candidates []models.RankedCandidate `json:"candidates"`
	Grammar    string                   `json:"grammar"`
	Matched    int                      `json:"matched"`
	Discarded  int                      `json:"discarded"`
}

// Fuse parses response and merges it with candidates. When no grammar can
// read the response it returns an error wrapping apperr.ErrRankingUnavailable;
// callers fall back to similarity-only ranking.
func Fuse(candidates []models.Candidate, response string, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rankings, grammar, err := Parse(response)
	if err != nil {
		logger.Warn("fusion: ranking response unparseable",
			slog.Int("candidates", len(candidates)),
			slog.String("error", err.Error()))
		return Result{}, fmt.Errorf("fusion: %w: %w", apperr.ErrRankingUnavailable, err)
	}

	res := Merge(candidates, rankings)
	res.Grammar = grammar
	if len(rankings) != len(candidates) {
		logger.Warn("fusion: ranking count mismatch",
			slog.Int("rankings", len(rankings)),
			slog.Int("candidates", len(candidates)),
			slog.Int("discarded", res.Discarded))
	}
	return res, nil
}

// Merge applies already parsed rankings to candidates. Indices outside
// 1..len(candidates) are discarded; a repeated index keeps its first entry.
func Merge(candidates []models.Candidate, rankings []Ranking) Result {
	var res Result
	used := make([]bool, len(candidates))

	ranked := make([]models.RankedCandidate, 0, len(rankings))
	for _, r := range rankings {
		i := r.Index - 1
		if i < 0 || i >= len(candidates) || used[i] {
			res.Discarded++
			continue
		}
		used[i] = true
		ranked = append(ranked, models.RankedCandidate{
			Candidate: candidates[i],
			External:  &models.ExternalRank{Score: r.Score, Reason: r.Reason},
		})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].External.Score > ranked[b].External.Score
	})

	unranked := make([]models.RankedCandidate, 0, len(candidates)-len(ranked))
	for i, c := range candidates {
		if !used[i] {
			unranked = append(unranked, models.RankedCandidate{Candidate: c})
		}
	}
	sort.SliceStable(unranked, func(a, b int) bool {
		return unranked[a].Similarity > unranked[b].Similarity
	})

	res.Matched = len(ranked)
	res.Candidates = append(ranked, unranked...)
	return res
}
