package llm

import (
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// Content limits applied before a document is placed into a prompt.
const (
	RankingPreviewChars = 800
	KeywordsChars       = 3000
	InsertionChars      = 2000
)

const truncatedMarker = "...\n\n[Content truncated]"

// TruncateContent cuts s to at most maxChars runes and appends suffix when
// anything was removed.
func TruncateContent(s string, maxChars int, suffix string) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i] + suffix
		}
		n++
	}
	return s
}

// RankingPrompt asks the model to score each candidate against the current
// document, one "Document N: score - reason" line per candidate.
func RankingPrompt(title, content string, candidates []models.Candidate) string {
	preview := TruncateContent(content, RankingPreviewChars, "...")

	var list strings.Builder
	for i, c := range candidates {
		if i > 0 {
			list.WriteString("\n")
		}
		fmt.Fprintf(&list, "%d. Title: %q\n   Embedding Similarity: %.2f\n   Context: %s",
			i+1, c.Title, c.Similarity, c.Context)
	}

	n := len(candidates)
	return fmt.Sprintf(`You are ranking %d documents for relevance to the current document.

Current Document: %q
Content: %s

Documents to rank:
%s

TASK: For EACH of the %d documents above, provide:
1. A relevance score (0.0 to 10.0, where 10 is most relevant)
2. A brief reason (max 15 words)

STRICT FORMATTING RULES:
- Output ONLY the rankings in the exact format below.
- Do NOT use Markdown formatting.
- Do NOT include the document title in the output line.
- Keep each ranking on a SINGLE line.

Required Format:
Document 1: [score] - [reason]
Document 2: [score] - [reason]
...

Make sure you analyze ALL %d documents. Do not skip any!`, n, title, preview, list.String(), n, n)
}

// KeywordsPrompt asks for a JSON array of key terms.
func KeywordsPrompt(title, content string) string {
	return fmt.Sprintf(`Extract the most important keywords, concepts, and topics from this document titled %q.

Document Content:
%s

Task: Identify 5-15 key terms that represent the main concepts discussed in this document. These should be:
- Technical terms, theories, or concepts mentioned
- Named entities (people, places, specific things)
- Important topics or themes
- Terms that other related documents might reference

Return ONLY a JSON array of strings (no explanations):
["keyword1", "keyword2", "keyword3", ...]

Keywords:`, title, TruncateContent(content, KeywordsChars, truncatedMarker))
}

// InsertionPrompt asks where a link to linkTitle should be placed in content.
func InsertionPrompt(linkTitle, content, linkContext string) string {
	return fmt.Sprintf(`Find the best place to insert a link to %q in this document.

Document Content:
%s

Link Context (what the linked document is about):
%s

Task: Identify the specific phrase or sentence where this link would add most value.

IMPORTANT: Return ONLY valid JSON, no other text.

Respond with this exact JSON format:
{
  "phrase": "exact text from document to replace",
  "reason": "why this is the best insertion point",
  "confidence": 0.85
}

If no good insertion point exists, return: {"phrase": null, "reason": "No natural insertion point found", "confidence": 0.0}`,
		linkTitle, TruncateContent(content, InsertionChars, truncatedMarker), linkContext)
}
