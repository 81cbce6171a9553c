package planner

import (
	"testing"

	"github.com/starford/ansuz/internal/artifact"
	"github.com/starford/ansuz/internal/freshness"
	"github.com/starford/ansuz/internal/models"
)

func files(descs ...models.FileDescriptor) []models.FileDescriptor { return descs }

func fd(path string, mtime int64) models.FileDescriptor {
	return models.FileDescriptor{Path: path, MTime: mtime}
}

func paths(items []models.WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Path
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlan_MixedFreshness(t *testing.T) {
	idx := freshness.New()
	// B fully fresh.
	for _, k := range freshness.Kinds {
		idx.MarkProcessed(k, "B.md", 200)
	}
	// C fresh except suggestions.
	idx.MarkProcessed(freshness.Embedding, "C.md", 300)
	idx.MarkProcessed(freshness.Keywords, "C.md", 300)

	plan := New(idx).Plan(Request{
		Files:            files(fd("A.md", 100), fd("B.md", 200), fd("C.md", 300)),
		CurrentFile:      "A.md",
		CheckSuggestions: true,
	})

	if got := paths(plan.ToProcess); !equalStrings(got, []string{"A.md", "C.md"}) {
		t.Errorf("to_process = %v, want [A.md C.md]", got)
	}
	if !equalStrings(plan.ToSkip, []string{"B.md"}) {
		t.Errorf("to_skip = %v, want [B.md]", plan.ToSkip)
	}
	if plan.CurrentFileIndex == nil || *plan.CurrentFileIndex != 0 {
		t.Errorf("current_file_index = %v, want 0", plan.CurrentFileIndex)
	}
	a := plan.ToProcess[0]
	if !a.NeedsEmbedding || !a.NeedsKeywords || !a.NeedsSuggestions {
		t.Errorf("A flags = %+v, want all true", a)
	}
	c := plan.ToProcess[1]
	if c.NeedsEmbedding || c.NeedsKeywords || !c.NeedsSuggestions {
		t.Errorf("C flags = %+v, want suggestions only", c)
	}
}

func TestPlan_SuggestionsNotRequested(t *testing.T) {
	idx := freshness.New()
	idx.MarkProcessed(freshness.Embedding, "a.md", 1)
	idx.MarkProcessed(freshness.Keywords, "a.md", 1)

	plan := New(idx).Plan(Request{Files: files(fd("a.md", 1), fd("b.md", 2))})
	if !equalStrings(plan.ToSkip, []string{"a.md"}) {
		t.Errorf("to_skip = %v", plan.ToSkip)
	}
	for _, item := range plan.ToProcess {
		if item.NeedsSuggestions {
			t.Errorf("%s needs suggestions without the check flag", item.Path)
		}
	}
}

func TestPlan_StaleEmbeddingImpliesKeywords(t *testing.T) {
	idx := freshness.New()
	idx.MarkProcessed(freshness.Keywords, "a.md", 5)
	item := New(idx).Assess(fd("a.md", 5), false)
	if !item.NeedsEmbedding || !item.NeedsKeywords {
		t.Errorf("flags = %+v, want embedding and keywords", item)
	}
}

func TestPlan_OrderByMTimeStable(t *testing.T) {
	plan := New(freshness.New()).Plan(Request{
		Files: files(fd("old.md", 1), fd("tie1.md", 5), fd("new.md", 9), fd("tie2.md", 5)),
	})
	want := []string{"new.md", "tie1.md", "tie2.md", "old.md"}
	if got := paths(plan.ToProcess); !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if plan.CurrentFileIndex != nil {
		t.Errorf("current_file_index = %d, want nil", *plan.CurrentFileIndex)
	}
}

func TestPlan_CurrentFileFresh(t *testing.T) {
	idx := freshness.New()
	for _, k := range freshness.Kinds {
		idx.MarkProcessed(k, "cur.md", 7)
	}
	plan := New(idx).Plan(Request{
		Files:            files(fd("cur.md", 7), fd("other.md", 3)),
		CurrentFile:      "cur.md",
		CheckSuggestions: true,
	})
	if plan.CurrentFileIndex != nil {
		t.Errorf("current_file_index = %d, want nil", *plan.CurrentFileIndex)
	}
	if len(plan.ToProcess) != 1 || plan.ToProcess[0].Path != "other.md" {
		t.Errorf("to_process = %v", paths(plan.ToProcess))
	}
}

func TestPlan_EmptyInput(t *testing.T) {
	plan := New(freshness.New()).Plan(Request{})
	if plan.ToProcess == nil || plan.ToSkip == nil {
		t.Error("empty plan should carry empty, non-nil lists")
	}
	if len(plan.ToProcess) != 0 || len(plan.ToSkip) != 0 || plan.CurrentFileIndex != nil {
		t.Errorf("plan = %+v, want empty", plan)
	}
}

func TestPlan_MissingVectorForcesEmbedding(t *testing.T) {
	idx := freshness.New()
	for _, k := range freshness.Kinds {
		idx.MarkProcessed(k, "a.md", 1)
		idx.MarkProcessed(k, "b.md", 1)
	}
	store := artifact.Embeddings{"a.md": {1, 2}}
	p := New(idx, WithEmbeddings(store))

	plan := p.Plan(Request{Files: files(fd("a.md", 1), fd("b.md", 1))})
	if got := paths(plan.ToProcess); !equalStrings(got, []string{"b.md"}) {
		t.Errorf("to_process = %v, want [b.md]", got)
	}
	if n := p.CountNeedingEmbedding(files(fd("a.md", 1), fd("b.md", 1), fd("c.md", 1))); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}
