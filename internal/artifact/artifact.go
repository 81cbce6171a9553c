// Package artifact holds the derived per-document data that the similarity
// engine reads: embedding vectors, extracted keywords and raw content.
package artifact

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/ansuz/internal/envelope"
)

// Embeddings maps a document path to its vector.
type Embeddings map[string][]float32

// Paths returns the stored paths in sorted order.
func (e Embeddings) Paths() []string {
	out := make([]string, 0, len(e))
	for p := range e {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a non-empty vector is stored for path.
func (e Embeddings) Has(path string) bool {
	return len(e[path]) > 0
}

// KeywordEntry is the keyword list extracted for one document version.
type KeywordEntry struct {
	Keywords []string `json:"keywords" msgpack:"keywords"`
	MTime    int64    `json:"mtime" msgpack:"mtime"`
}

// Keywords maps a document path to its keyword entry.
type Keywords map[string]KeywordEntry

// For returns the keywords of path, or nil.
func (k Keywords) For(path string) []string {
	return k[path].Keywords
}

// Contents maps a document path to its text.
type Contents map[string]string

// Lookup returns the content of path. Empty or whitespace-only content is
// reported as missing.
func (c Contents) Lookup(path string) (string, bool) {
	s, ok := c[path]
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// EncodeEmbeddings serializes the vector store inside a versioned envelope.
func EncodeEmbeddings(e Embeddings, enc envelope.Encoding) ([]byte, error) {
	return encode(e, enc)
}

// DecodeEmbeddings reads a vector store written by EncodeEmbeddings or a bare
// legacy map.
func DecodeEmbeddings(b []byte) (Embeddings, bool, error) {
	e, legacy, err := decode[Embeddings](b)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		e = make(Embeddings)
	}
	return e, legacy, nil
}

// EncodeKeywords serializes the keyword store inside a versioned envelope.
func EncodeKeywords(k Keywords, enc envelope.Encoding) ([]byte, error) {
	return encode(k, enc)
}

// DecodeKeywords reads a keyword store written by EncodeKeywords or a bare
// legacy map.
func DecodeKeywords(b []byte) (Keywords, bool, error) {
	k, legacy, err := decode[Keywords](b)
	if err != nil {
		return nil, false, err
	}
	if k == nil {
		k = make(Keywords)
	}
	return k, legacy, nil
}

func encode[T any](store T, enc envelope.Encoding) ([]byte, error) {
	b, err := envelope.Encode(store, enc)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode: %w", err)
	}
	return b, nil
}

func decode[T any](b []byte) (T, bool, error) {
	decoded, err := envelope.Decode[T](b)
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("artifact: decode: %w", err)
	}
	return decoded.Data, decoded.Legacy, nil
}
