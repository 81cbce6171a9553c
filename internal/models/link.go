package models

// WorkItem records which artifacts of one document must be recomputed.
type WorkItem struct {
	Path             string `json:"path"`
	MTime            int64  `json:"mtime"`
	NeedsEmbedding   bool   `json:"needs_embedding"`
	NeedsKeywords    bool   `json:"needs_keywords"`
	NeedsSuggestions bool   `json:"needs_suggestions"`
}

// Pending reports whether any artifact of the item is stale.
func (w WorkItem) Pending() bool {
	return w.NeedsEmbedding || w.NeedsKeywords || w.NeedsSuggestions
}

// ScanPlan is the ordered result of planning a vault scan.
// CurrentFileIndex is nil when the current document needs no work.
type ScanPlan struct {
	ToProcess        []WorkItem `json:"to_process"`
	ToSkip           []string   `json:"to_skip"`
	CurrentFileIndex *int       `json:"current_file_index"`
}

// Candidate is a document proposed as a link target.
type Candidate struct {
	Path       string  `json:"path"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
	Context    string  `json:"context"`
}

// ExternalRank is the score and rationale attached by an external ranker.
type ExternalRank struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// RankedCandidate is a Candidate optionally carrying an external ranking.
type RankedCandidate struct {
	Candidate
	External *ExternalRank `json:"external,omitempty"`
}

// Ranked reports whether an external ranker scored the candidate.
func (r RankedCandidate) Ranked() bool {
	return r.External != nil
}

// Unranked wraps candidates without external scores, preserving order.
func Unranked(candidates []Candidate) []RankedCandidate {
	out := make([]RankedCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = RankedCandidate{Candidate: c}
	}
	return out
}

// Insertion is a proposed place to insert a link into a document.
type Insertion struct {
	Phrase     string  `json:"phrase"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// LinkPosition is a keyword occurrence that could become a link.
type LinkPosition struct {
	Keyword string `json:"keyword"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Length  int    `json:"length"`
}
