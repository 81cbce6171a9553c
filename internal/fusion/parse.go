package fusion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Ranking is one entry parsed from a ranker response. Index is 1-based.
type Ranking struct {
	Index  int     `json:"index"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// DefaultReason is attached to score-only lines.
const DefaultReason = "Relevant"

// grammar is one attempt at reading a ranker response.
type grammar struct {
	name  string
	parse func(string) ([]Ranking, error)
}

// grammars are tried in order; the first that yields rankings wins.
var grammars = []grammar{
	{name: "lines", parse: parseLines},
	{name: "array", parse: parseArray},
	{name: "object", parse: parseObject},
	{name: "candidates", parse: parseWrapped("candidates")},
	{name: "indexes", parse: parseWrapped("indexes")},
}

var errNoRankings = errors.New("no rankings found")

// Parse reads a ranker response with the first grammar that accepts it and
// returns the rankings together with the grammar name.
func Parse(response string) ([]Ranking, string, error) {
	var errs []error
	for _, g := range grammars {
		rankings, err := g.parse(response)
		if err == nil && len(rankings) > 0 {
			return rankings, g.name, nil
		}
		if err == nil {
			err = errNoRankings
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.name, err))
	}
	return nil, "", errors.Join(errs...)
}

var (
	// "Document 3: 8.5 - reason", "doc #3: ...", "**Source 3**: ..."
	labeledLineRe = regexp.MustCompile(`(?i)\b(?:document|doc|source)\s+([#*\s]*\d+[*\s]*):(.*)$`)
	// "3. 8.5 - reason"
	numberedLineRe = regexp.MustCompile(`^[*\s]*(\d+)\.\s*(.*)$`)
)

func parseLines(response string) ([]Ranking, error) {
	var out []Ranking
	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		var indexPart, rest string
		if m := labeledLineRe.FindStringSubmatch(line); m != nil {
			indexPart, rest = m[1], m[2]
		} else if m := numberedLineRe.FindStringSubmatch(line); m != nil {
			indexPart, rest = m[1], m[2]
		} else {
			continue
		}
		idx, err := strconv.Atoi(strings.Trim(indexPart, "#* \t"))
		if err != nil {
			continue
		}
		score, reason, ok := splitScoreReason(strings.TrimSpace(rest))
		if !ok {
			continue
		}
		out = append(out, Ranking{Index: idx, Score: score, Reason: reason})
	}
	return out, nil
}

// splitScoreReason splits "8.5 - reason" on " - ", then "-", then ":". A
// lone score gets DefaultReason.
func splitScoreReason(content string) (float64, string, bool) {
	for _, sep := range []string{" - ", "-", ":"} {
		scoreText, reason, found := strings.Cut(content, sep)
		if !found {
			continue
		}
		if score, ok := parseScore(scoreText); ok {
			return score, strings.TrimSpace(reason), true
		}
	}
	if score, ok := parseScore(content); ok {
		return score, DefaultReason, true
	}
	return 0, "", false
}

func parseScore(s string) (float64, bool) {
	s = strings.Trim(strings.TrimSpace(s), "*[]() \t")
	if len(s) >= 5 && strings.EqualFold(s[:5], "score") {
		s = strings.Trim(s[5:], ":= \t*")
	}
	s = strings.TrimSuffix(s, "/10")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// record is the JSON shape of a ranking. Index and score are required.
type record struct {
	Index  *int     `json:"index"`
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

func (r record) ranking() (Ranking, error) {
	if r.Index == nil || r.Score == nil {
		return Ranking{}, errors.New("record missing index or score")
	}
	return Ranking{Index: *r.Index, Score: *r.Score, Reason: r.Reason}, nil
}

func toRankings(records []record) ([]Ranking, error) {
	out := make([]Ranking, 0, len(records))
	for _, r := range records {
		rk, err := r.ranking()
		if err != nil {
			return nil, err
		}
		out = append(out, rk)
	}
	return out, nil
}

func parseArray(response string) ([]Ranking, error) {
	var records []record
	if err := json.Unmarshal([]byte(span(response, '[', ']')), &records); err != nil {
		return nil, err
	}
	return toRankings(records)
}

func parseObject(response string) ([]Ranking, error) {
	var r record
	if err := json.Unmarshal([]byte(span(response, '{', '}')), &r); err != nil {
		return nil, err
	}
	rk, err := r.ranking()
	if err != nil {
		return nil, err
	}
	return []Ranking{rk}, nil
}

func parseWrapped(field string) func(string) ([]Ranking, error) {
	return func(response string) ([]Ranking, error) {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(span(response, '{', '}')), &wrapper); err != nil {
			return nil, err
		}
		raw, ok := wrapper[field]
		if !ok {
			return nil, fmt.Errorf("no %q field", field)
		}
		var records []record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, err
		}
		return toRankings(records)
	}
}

// span returns the text from the first open to the last close delimiter,
// or s unchanged when no such span exists.
func span(s string, opening, closing byte) string {
	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
