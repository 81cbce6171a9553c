package fusion

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cands(sims ...float64) []models.Candidate {
	out := make([]models.Candidate, len(sims))
	for i, s := range sims {
		name := string(rune('A' + i))
		out[i] = models.Candidate{Path: name + ".md", Title: name, Similarity: s}
	}
	return out
}

func order(rs []models.RankedCandidate) string {
	s := ""
	for _, r := range rs {
		s += r.Title
	}
	return s
}

func TestParse_Grammars(t *testing.T) {
	tests := []struct {
		name     string
		response string
		grammar  string
		want     []Ranking
	}{
		{
			name:     "document lines",
			response: "Here you go:\nDocument 1: 8.5 - strong overlap\nDocument 2: 3 - weak",
			grammar:  "lines",
			want:     []Ranking{{1, 8.5, "strong overlap"}, {2, 3, "weak"}},
		},
		{
			name:     "decorated labels",
			response: "**Doc #2**: **7** - fine\nsource 1: 6: ok",
			grammar:  "lines",
			want:     []Ranking{{2, 7, "fine"}, {1, 6, "ok"}},
		},
		{
			name:     "numbered and score only",
			response: "1. 9\n2. [4.5] - meh",
			grammar:  "lines",
			want:     []Ranking{{1, 9, DefaultReason}, {2, 4.5, "meh"}},
		},
		{
			name:     "hyphen without spaces",
			response: "Document 3: 2-unrelated",
			grammar:  "lines",
			want:     []Ranking{{3, 2, "unrelated"}},
		},
		{
			name:     "json array in chatter",
			response: "Sure! [{\"index\": 2, \"score\": 9, \"reason\": \"x\"}, {\"index\": 1, \"score\": 1}] hope it helps",
			grammar:  "array",
			want:     []Ranking{{2, 9, "x"}, {1, 1, ""}},
		},
		{
			name:     "single object",
			response: "{\"index\": 1, \"score\": 7.5, \"reason\": \"only one\"}",
			grammar:  "object",
			want:     []Ranking{{1, 7.5, "only one"}},
		},
		{
			name:     "non-finite scores dropped",
			response: "Document 1: NaN - x\nDocument 2: +Inf - y\nDocument 3: 4 - ok",
			grammar:  "lines",
			want:     []Ranking{{3, 4, "ok"}},
		},
		{
			name:     "only non-finite scores",
			response: "Document 1: NaN - x",
			grammar:  "",
		},
		{
			name:     "wrapped indexes",
			response: "{\"indexes\": {\"a\": 1}, \"note\": \"{\"}",
			grammar:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, grammar, err := Parse(tt.response)
			if tt.grammar == "" {
				if err == nil {
					t.Fatalf("expected failure, got %+v via %s", got, grammar)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if grammar != tt.grammar {
				t.Errorf("grammar = %q, want %q", grammar, tt.grammar)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("rankings = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("rankings[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParse_WrappedFields(t *testing.T) {
	for _, field := range []string{"candidates", "indexes"} {
		resp := `{"` + field + `": [{"index": 1, "score": 5, "reason": "r"}]}`
		got, err := parseWrapped(field)(resp)
		if err != nil {
			t.Fatalf("%s: %v", field, err)
		}
		if len(got) != 1 || got[0].Index != 1 || got[0].Score != 5 {
			t.Errorf("%s: got %+v", field, got)
		}
	}
	if _, err := parseWrapped("candidates")(`{"indexes": []}`); err == nil {
		t.Error("missing field should fail")
	}
}

func TestParse_ObjectRequiresFields(t *testing.T) {
	if _, err := parseObject(`{"reason": "no index"}`); err == nil {
		t.Error("object without index and score should fail")
	}
}

func TestFuse_ScenarioPartialRanking(t *testing.T) {
	in := cands(0.9, 0.8, 0.7)
	res, err := Fuse(in, "Document 2: 9 - great\nDocument 3: 4 - ok", quietLogger())
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if got := order(res.Candidates); got != "BCA" {
		t.Errorf("order = %s, want BCA", got)
	}
	if !res.Candidates[0].Ranked() || res.Candidates[0].External.Score != 9 {
		t.Errorf("first = %+v", res.Candidates[0])
	}
	if res.Candidates[2].Ranked() {
		t.Error("A should be unranked")
	}
	if res.Matched != 2 || res.Grammar != "lines" {
		t.Errorf("matched = %d, grammar = %q", res.Matched, res.Grammar)
	}
}

func TestFuse_OutOfRangeAndDuplicates(t *testing.T) {
	in := cands(0.5, 0.9)
	res, err := Fuse(in, "Document 0: 10 - zero\nDocument 5: 10 - high\nDocument 1: 3 - a\nDocument 1: 8 - again", quietLogger())
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("len = %d, want 2", len(res.Candidates))
	}
	if got := order(res.Candidates); got != "AB" {
		t.Errorf("order = %s, want AB", got)
	}
	if res.Candidates[0].External.Score != 3 {
		t.Errorf("duplicate index should keep first entry, score = %v", res.Candidates[0].External.Score)
	}
	if res.Discarded != 3 {
		t.Errorf("discarded = %d, want 3", res.Discarded)
	}
}

func TestFuse_UnrankedSortedBySimilarity(t *testing.T) {
	in := cands(0.2, 0.6, 0.4, 0.8)
	res, err := Fuse(in, "[{\"index\": 1, \"score\": 2}]", quietLogger())
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if got := order(res.Candidates); got != "ADBC" {
		t.Errorf("order = %s, want ADBC", got)
	}
}

func TestFuse_StableTies(t *testing.T) {
	in := cands(0.1, 0.2, 0.3)
	res, err := Fuse(in, "Document 3: 5 - x\nDocument 1: 5 - y\nDocument 2: 5 - z", quietLogger())
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if got := order(res.Candidates); got != "CAB" {
		t.Errorf("order = %s, want CAB (parse order on ties)", got)
	}
}

func TestFuse_Unparseable(t *testing.T) {
	_, err := Fuse(cands(0.5), "I cannot help with that.", quietLogger())
	if !errors.Is(err, apperr.ErrRankingUnavailable) {
		t.Errorf("err = %v, want ErrRankingUnavailable", err)
	}
}

func TestFuse_EmptyCandidates(t *testing.T) {
	res, err := Fuse(nil, "Document 1: 5 - x", quietLogger())
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if len(res.Candidates) != 0 || res.Discarded != 1 {
		t.Errorf("res = %+v", res)
	}
}
