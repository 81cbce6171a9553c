// Package parser reads vault Markdown: the frontmatter block, the body the
// linker embeds, outgoing wikilinks and tags. It also finds and rewrites
// phrases that could become wikilinks.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`!?\[\[([^\[\]]*)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([\p{L}][\p{L}\p{N}_/-]*)`)
)

const fence = "---"

// Frontmatter is the decoded YAML header of a note.
type Frontmatter map[string]any

// Get returns the trimmed string value of key, or "".
func (f Frontmatter) Get(key string) string {
	s, _ := f[key].(string)
	return strings.TrimSpace(s)
}

// List returns key as a list of non-empty strings. A scalar string is split
// on commas, so "tags: a, b" and "tags: [a, b]" read the same.
func (f Frontmatter) List(key string) []string {
	var raw []string
	switch v := f[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Document is a parsed note.
type Document struct {
	Frontmatter Frontmatter
	Body        string
	Title       string
	Aliases     []string
	Links       []string
	Tags        []string
}

// Parse splits data into frontmatter and body and collects links, tags,
// aliases and the display title. Malformed frontmatter is treated as body.
func Parse(data []byte) (*Document, error) {
	fm, body := splitFrontmatter(data)
	return &Document{
		Frontmatter: fm,
		Body:        body,
		Title:       title(fm, body),
		Aliases:     dedupe(fm.List("aliases")),
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
	}, nil
}

// StripFrontmatter returns the body of data.
func StripFrontmatter(data []byte) string {
	_, body := splitFrontmatter(data)
	return body
}

func splitFrontmatter(data []byte) (Frontmatter, string) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(fence)) {
		return nil, string(data)
	}
	rest := trimmed[len(fence):]
	end := bytes.Index(rest, []byte("\n"+fence))
	if end < 0 {
		return nil, string(data)
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, string(data)
	}
	body := rest[end+1+len(fence):]
	return fm, strings.TrimLeft(string(body), "\n\r")
}

// LinkTarget returns the note a raw wikilink points at:
// "Note#Heading|alias" and "Note^block" both give "Note".
func LinkTarget(raw string) string {
	if i := strings.IndexByte(raw, '|'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.IndexAny(raw, "#^"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

func extractLinks(body string) []string {
	var out []string
	for _, m := range wikilinkRe.FindAllStringSubmatch(body, -1) {
		if target := LinkTarget(m[1]); target != "" {
			out = append(out, target)
		}
	}
	return dedupe(out)
}

// extractTags lists frontmatter tags first, then inline #tags.
func extractTags(body string, fm Frontmatter) []string {
	tags := fm.List("tags")
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		tags = append(tags, m[1])
	}
	return dedupe(tags)
}

// title prefers the frontmatter title, then the first H1.
func title(fm Frontmatter, body string) string {
	if t := fm.Get("title"); t != "" {
		return t
	}
	for _, line := range strings.Split(body, "\n") {
		if h, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(h)
		}
	}
	return ""
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
