package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/ansuz/internal/models"
)

// wordPattern matches text case-insensitively. Word boundaries are checked
// separately by isWordAt.
func wordPattern(text string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(text))
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isWordAt reports whether line[start:end] is not part of a larger word.
func isWordAt(line string, start, end int) bool {
	if r, _ := utf8.DecodeLastRuneInString(line[:start]); start > 0 && isWordRune(r) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(line[end:]); end < len(line) && isWordRune(r) {
		return false
	}
	return true
}

// LinkPositions finds where keywords occur in content as whole words outside
// existing wikilinks. At most one position is reported per keyword per line.
// Lines are 1-based; Column is the byte offset within the line and Keyword is
// the text as it appears in the document.
func LinkPositions(content string, keywords []string) []models.LinkPosition {
	var patterns []*regexp.Regexp
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		patterns = append(patterns, wordPattern(k))
	}

	var out []models.LinkPosition
	for n, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		for _, re := range patterns {
			if start, end, ok := firstOutsideLink(re, line); ok {
				out = append(out, models.LinkPosition{
					Keyword: line[start:end],
					Line:    n + 1,
					Column:  start,
					Length:  end - start,
				})
			}
		}
	}
	return out
}

// firstOutsideLink returns the byte span of the first whole-word match of
// re in line that does not sit inside [[...]].
func firstOutsideLink(re *regexp.Regexp, line string) (int, int, bool) {
	for _, m := range re.FindAllStringIndex(line, -1) {
		if isWordAt(line, m[0], m[1]) && !insideLink(line, m[0]) {
			return m[0], m[1], true
		}
	}
	return 0, 0, false
}

// insideLink reports whether pos falls between an unclosed "[[" and a later "]]".
func insideLink(line string, pos int) bool {
	before, after := line[:pos], line[pos:]
	open := strings.LastIndex(before, "[[")
	if open < 0 {
		return false
	}
	if closing := strings.LastIndex(before, "]]"); closing > open {
		return false
	}
	return strings.Contains(after, "]]")
}

// InsertLink rewrites the first whole-word occurrence of phrase outside an
// existing link into a wikilink to title. The link is written as [[title]]
// when phrase is exactly title and as [[title|phrase]] otherwise. It reports
// false when phrase does not occur.
func InsertLink(content, phrase, title string) (string, bool) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" || title == "" {
		return content, false
	}
	re := wordPattern(phrase)

	lineStart := 0
	for _, line := range strings.SplitAfter(content, "\n") {
		start, end, ok := firstOutsideLink(re, line)
		if ok {
			found := line[start:end]
			link := "[[" + title + "|" + found + "]]"
			if found == title {
				link = "[[" + title + "]]"
			}
			abs := lineStart + start
			return content[:abs] + link + content[lineStart+end:], true
		}
		lineStart += len(line)
	}
	return content, false
}
