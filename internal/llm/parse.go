package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// ErrNoKeywords is returned when a keyword response holds no string array.
var ErrNoKeywords = errors.New("llm: response has no keyword array")

// ParseKeywords reads a keyword response. It accepts a bare array of
// strings, an object with a "keywords" array, or an object whose first
// (by key order) array field holds strings. Blank entries are dropped.
func ParseKeywords(response string) ([]string, error) {
	response = strings.TrimSpace(response)

	var arr []string
	if err := json.Unmarshal([]byte(response), &arr); err == nil {
		return cleanKeywords(arr), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(response), &obj); err != nil {
		return nil, fmt.Errorf("llm: parse keywords: %w", err)
	}
	if raw, ok := obj["keywords"]; ok {
		if kws, ok := stringArray(raw); ok {
			return cleanKeywords(kws), nil
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if kws, ok := stringArray(obj[k]); ok && len(kws) > 0 {
			return cleanKeywords(kws), nil
		}
	}
	return nil, ErrNoKeywords
}

// stringArray extracts the string elements of a JSON array, skipping
// non-string items.
func stringArray(raw json.RawMessage) ([]string, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if json.Unmarshal(it, &s) == nil {
			out = append(out, s)
		}
	}
	return out, true
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

type insertionResponse struct {
	Phrase     *string `json:"phrase"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// ParseInsertion reads an insertion response. A null or empty phrase yields
// an Insertion with an empty Phrase, meaning no natural spot was found.
func ParseInsertion(response string) (models.Insertion, error) {
	response = strings.TrimSpace(response)
	if start, end := strings.IndexByte(response, '{'), strings.LastIndexByte(response, '}'); start >= 0 && end > start {
		response = response[start : end+1]
	}
	var r insertionResponse
	if err := json.Unmarshal([]byte(response), &r); err != nil {
		return models.Insertion{}, fmt.Errorf("llm: parse insertion: %w", err)
	}
	ins := models.Insertion{Reason: r.Reason, Confidence: r.Confidence}
	if r.Phrase != nil {
		ins.Phrase = strings.TrimSpace(*r.Phrase)
	}
	return ins, nil
}
