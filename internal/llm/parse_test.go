package llm

import (
	"errors"
	"testing"
)

func TestParseKeywords(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
		wantErr  bool
	}{
		{"bare array", `["go", " rust ", ""]`, []string{"go", "rust"}, false},
		{"keywords field", `{"keywords": ["a", "b"]}`, []string{"a", "b"}, false},
		{"first array field", `{"title": "x", "terms": ["t"], "z": ["later"]}`, []string{"t"}, false},
		{"mixed items", `{"topics": [1, "one", null]}`, []string{"one"}, false},
		{"no array", `{"title": "x"}`, nil, true},
		{"not json", `keywords: go, rust`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKeywords(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKeywords: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("keywords = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("keywords[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseKeywords_NoArraySentinel(t *testing.T) {
	if _, err := ParseKeywords(`{"a": 1}`); !errors.Is(err, ErrNoKeywords) {
		t.Errorf("err = %v, want ErrNoKeywords", err)
	}
}

func TestParseInsertion(t *testing.T) {
	ins, err := ParseInsertion("Sure:\n{\"phrase\": \" borrow checker \", \"reason\": \"defines it\", \"confidence\": 0.8}")
	if err != nil {
		t.Fatalf("ParseInsertion: %v", err)
	}
	if ins.Phrase != "borrow checker" || ins.Reason != "defines it" || ins.Confidence != 0.8 {
		t.Errorf("insertion = %+v", ins)
	}

	none, err := ParseInsertion(`{"phrase": null, "reason": "No natural insertion point found", "confidence": 0.0}`)
	if err != nil {
		t.Fatalf("ParseInsertion: %v", err)
	}
	if none.Phrase != "" {
		t.Errorf("phrase = %q, want empty", none.Phrase)
	}

	if _, err := ParseInsertion("nope"); err == nil {
		t.Error("expected error")
	}
}
