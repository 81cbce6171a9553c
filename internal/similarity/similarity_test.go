package similarity

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/artifact"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"partial", []float32{1, 0}, []float32{0.6, 0.8}, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
			if rev := CosineSimilarity(tt.b, tt.a); rev != got {
				t.Errorf("CosineSimilarity(b, a) = %v, want %v", rev, got)
			}
		})
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text, word string
		want       bool
	}{
		{"rust is fast", "rust", true},
		{"i like rust.", "rust", true},
		{"rust", "rust", true},
		{"rustacean notes", "rust", false},
		{"trust me", "rust", false},
		{"trust rust", "rust", true},
		{"rust_lang", "rust", false},
		{"rust2 rust3", "rust", false},
		{"über café", "café", true},
		{"cafés", "café", false},
		{"c++ tips", "c++", true},
		{"anything", "", false},
		{"ru", "rust", false},
	}
	for _, tt := range tests {
		if got := containsWord(tt.text, tt.word); got != tt.want {
			t.Errorf("containsWord(%q, %q) = %v, want %v", tt.text, tt.word, got, tt.want)
		}
	}
}

func TestTitleFromPath(t *testing.T) {
	cases := map[string]string{
		"a/b/Go.md":        "Go",
		"Rust.md":          "Rust",
		"notes/Dr. Who.md": "Dr. Who",
		"Dr. Who":          "Dr. Who",
		"dir\\Win.md":      "Win",
		"plain":            "plain",
	}
	for in, want := range cases {
		if got := TitleFromPath(in); got != want {
			t.Errorf("TitleFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractContext(t *testing.T) {
	got := ExtractContext("one\ntwo\r\nthree\nfour\nfive\nsix\nseven", 100)
	if got != "one two three four five" {
		t.Errorf("context = %q", got)
	}

	long := strings.Repeat("é", 150)
	got = ExtractContext(long, 100)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 103 {
		t.Errorf("truncated context has %d runes: %q", len([]rune(got)), got)
	}

	exact := strings.Repeat("x", 100)
	if got := ExtractContext(exact, 100); got != exact {
		t.Errorf("context at the limit should be unchanged, got %q", got)
	}
}

func engine(emb artifact.Embeddings, kw artifact.Keywords, contents artifact.Contents) *Engine {
	if kw == nil {
		kw = artifact.Keywords{}
	}
	return NewEngine(emb, kw, contents)
}

func TestSuggest_SingleWordTitleForcesInclusion(t *testing.T) {
	e := engine(
		artifact.Embeddings{"Rust.md": {0, 1}},
		nil,
		artifact.Contents{"Rust.md": "Rust is a systems language."},
	)
	res := e.Suggest(Query{Text: "I love rust programming", Vector: []float32{1, 0}, Threshold: 0.7})
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %+v, want 1", res.Candidates)
	}
	c := res.Candidates[0]
	if c.Title != "Rust" || !near(c.Similarity, SingleWordTitleBoost) {
		t.Errorf("candidate = %+v, want Rust scored %v", c, SingleWordTitleBoost)
	}
	if c.Context != "Rust is a systems language." {
		t.Errorf("context = %q", c.Context)
	}
}

func TestSuggest_WordBoundary(t *testing.T) {
	e := engine(
		artifact.Embeddings{"Rust.md": {0, 1}},
		nil,
		artifact.Contents{"Rust.md": "body"},
	)
	res := e.Suggest(Query{Text: "a trusty old car", Vector: []float32{1, 0}, Threshold: 0.7})
	if len(res.Candidates) != 0 {
		t.Errorf("substring inside a word must not force inclusion: %+v", res.Candidates)
	}
}

func TestSuggest_AlreadyLinkedDropped(t *testing.T) {
	e := engine(
		artifact.Embeddings{"Rust.md": {0, 1}, "Go.md": {1, 0}},
		nil,
		artifact.Contents{"Rust.md": "body", "Go.md": "body"},
	)
	res := e.Suggest(Query{Text: "I love [[Rust]] and [[Go|golang]]", Vector: []float32{1, 0}, Threshold: 0.7})
	if len(res.Candidates) != 0 {
		t.Errorf("linked titles must be dropped: %+v", res.Candidates)
	}
	if res.Diagnostics.Deduplicated != 2 || res.Diagnostics.ForcedDeduplicated != 2 {
		t.Errorf("diagnostics = %+v", res.Diagnostics)
	}
}

func TestSuggest_MultiWordTitle(t *testing.T) {
	e := engine(
		artifact.Embeddings{"ml/Machine Learning.md": {0, 1}},
		nil,
		artifact.Contents{"ml/Machine Learning.md": "body"},
	)
	res := e.Suggest(Query{Text: "Notes on MACHINE LEARNING basics", Vector: []float32{1, 0}, Threshold: 0.9})
	if len(res.Candidates) != 1 || !near(res.Candidates[0].Similarity, MultiWordTitleBoost) {
		t.Errorf("candidates = %+v", res.Candidates)
	}
}

func TestSuggest_KeywordBoostCapped(t *testing.T) {
	e := engine(
		artifact.Embeddings{"topic.md": {0.6, 0.8}},
		artifact.Keywords{"topic.md": {Keywords: []string{"alpha", "beta", "gamma", "delta", "epsilon", ""}}},
		artifact.Contents{"topic.md": "body"},
	)
	res := e.Suggest(Query{Text: "alpha beta gamma delta epsilon", Vector: []float32{1, 0}, Threshold: 0.7})
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if want := 0.6 + KeywordBoostCap; math.Abs(res.Candidates[0].Similarity-want) > 1e-6 {
		t.Errorf("score = %v, want %v", res.Candidates[0].Similarity, want)
	}
}

func TestSuggest_ContainmentBoostOnce(t *testing.T) {
	e := engine(
		artifact.Embeddings{"Go.md": {1, 0}, "Go Concurrency.md": {1, 0}},
		nil,
		artifact.Contents{"Go.md": "x", "Go Concurrency.md": "y"},
	)
	res := e.Suggest(Query{Text: "channels", Vector: []float32{1, 0}, CurrentPath: "Go.md", Threshold: 0.5})
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if want := 1 + ContainmentBoost; math.Abs(res.Candidates[0].Similarity-want) > 1e-6 {
		t.Errorf("score = %v, want %v", res.Candidates[0].Similarity, want)
	}
	if !res.Diagnostics.SelfExcluded {
		t.Error("current document should be excluded")
	}
}

func TestSuggest_InclusionThreshold(t *testing.T) {
	e := engine(
		artifact.Embeddings{"in.md": {0.6, 0.8}, "out.md": {0.5, 0.8660254}},
		nil,
		artifact.Contents{"in.md": "x", "out.md": "y"},
	)
	res := e.Suggest(Query{Text: "unrelated", Vector: []float32{1, 0}, Threshold: 0.7})
	if len(res.Candidates) != 1 || res.Candidates[0].Path != "in.md" {
		t.Errorf("candidates = %+v, want only in.md (0.6 > 0.595)", res.Candidates)
	}
}

func TestSuggest_MissingContentExcluded(t *testing.T) {
	e := engine(
		artifact.Embeddings{"ghost.md": {1, 0}, "real.md": {1, 0}},
		nil,
		artifact.Contents{"real.md": "text"},
	)
	res := e.Suggest(Query{Text: "q", Vector: []float32{1, 0}, Threshold: 0.5})
	if len(res.Candidates) != 1 || res.Candidates[0].Path != "real.md" {
		t.Errorf("candidates = %+v", res.Candidates)
	}
	if len(res.Diagnostics.MissingContent) != 1 || res.Diagnostics.MissingContent[0] != "ghost.md" {
		t.Errorf("missing = %v", res.Diagnostics.MissingContent)
	}
}

func TestSuggest_SortedAndTruncated(t *testing.T) {
	e := engine(
		artifact.Embeddings{
			"a.md": {1, 0},
			"b.md": {0.9, 0.1},
			"c.md": {0.8, 0.2},
			"d.md": {0.7, 0.3},
		},
		nil,
		artifact.Contents{"a.md": "a", "b.md": "b", "c.md": "c", "d.md": "d"},
	)
	res := e.Suggest(Query{Text: "q", Vector: []float32{1, 0}, Threshold: 0.1, MaxResults: 3})
	if len(res.Candidates) != 3 {
		t.Fatalf("len = %d, want 3", len(res.Candidates))
	}
	for i := 1; i < len(res.Candidates); i++ {
		if res.Candidates[i-1].Similarity < res.Candidates[i].Similarity {
			t.Errorf("not sorted: %+v", res.Candidates)
		}
	}
	if res.Candidates[0].Path != "a.md" {
		t.Errorf("best = %q, want a.md", res.Candidates[0].Path)
	}
}

func TestSuggest_MismatchedVectorsDegrade(t *testing.T) {
	e := engine(
		artifact.Embeddings{"Rust.md": {1, 0, 0}},
		nil,
		artifact.Contents{"Rust.md": "x"},
	)
	res := e.Suggest(Query{Text: "rust", Vector: []float32{1, 0}, Threshold: 0.7})
	if len(res.Candidates) != 1 || !near(res.Candidates[0].Similarity, SingleWordTitleBoost) {
		t.Errorf("candidates = %+v", res.Candidates)
	}
}

func TestFindSimilar(t *testing.T) {
	e := engine(
		artifact.Embeddings{"a.md": {1, 0}, "b.md": {0.6, 0.8}, "c.md": {0, 1}},
		nil,
		artifact.Contents{"a.md": "alpha"},
	)
	got := e.FindSimilar([]float32{1, 0}, 0.5)
	if len(got) != 2 || got[0].Path != "a.md" || got[1].Path != "b.md" {
		t.Errorf("FindSimilar = %+v", got)
	}

	top, err := e.FindSimilarTo("a.md", 1)
	if err != nil {
		t.Fatalf("FindSimilarTo: %v", err)
	}
	if len(top) != 1 || top[0].Path != "b.md" {
		t.Errorf("FindSimilarTo = %+v", top)
	}
	if _, err := e.FindSimilarTo("none.md", 1); !errors.Is(err, apperr.ErrNoEmbedding) {
		t.Errorf("err = %v, want ErrNoEmbedding", err)
	}
}
