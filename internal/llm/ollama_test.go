package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

func TestNewOllama_Defaults(t *testing.T) {
	o := NewOllama()
	if o.baseURL != DefaultURL {
		t.Errorf("baseURL = %s, want %s", o.baseURL, DefaultURL)
	}
	if o.embeddingModel != DefaultEmbeddingModel {
		t.Errorf("embeddingModel = %s, want %s", o.embeddingModel, DefaultEmbeddingModel)
	}
	if o.client.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", o.client.Timeout, DefaultTimeout)
	}
}

func TestNewOllama_WithOptions(t *testing.T) {
	o := NewOllama(
		WithBaseURL("http://custom:8080/"),
		WithEmbeddingModel("e"),
		WithGenerationModel("g"),
		WithTimeout(5*time.Second),
		WithTemperature(0.9),
	)
	if o.baseURL != "http://custom:8080" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", o.baseURL)
	}
	if o.embeddingModel != "e" || o.generationModel != "g" || o.temperature != 0.9 {
		t.Errorf("client = %+v", o)
	}
	if o.client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", o.client.Timeout)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPathEmbeddings {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "m" || req.Prompt != "hello" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	vec, err := NewOllama(WithBaseURL(srv.URL), WithEmbeddingModel("m")).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[1] != 0.2 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding": []}`))
	}))
	defer srv.Close()

	if _, err := NewOllama(WithBaseURL(srv.URL)).Embed(context.Background(), "x"); err == nil {
		t.Error("expected error for empty embedding")
	}
}

func TestEmbed_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(WithBaseURL(srv.URL)).Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("err = %v", err)
	}
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Stream {
			t.Error("stream must be false")
		}
		if req.Format != "json" {
			t.Errorf("format = %q, want json", req.Format)
		}
		if req.Options.NumCtx != DefaultContextWindow || req.Options.NumPredict != -1 {
			t.Errorf("options = %+v", req.Options)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  [\"a\"]\n", Done: true})
	}))
	defer srv.Close()

	out, err := NewOllama(WithBaseURL(srv.URL)).Generate(context.Background(), "p", true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `["a"]` {
		t.Errorf("response = %q", out)
	}
}

func TestGenerate_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOllama(WithBaseURL(srv.URL)).Generate(ctx, "p", false); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestTruncateContent(t *testing.T) {
	if got := TruncateContent("héllo", 3, "..."); got != "hél..." {
		t.Errorf("got %q", got)
	}
	if got := TruncateContent("abc", 3, "..."); got != "abc" {
		t.Errorf("got %q", got)
	}
	if got := TruncateContent("abc", 0, "..."); got != "abc" {
		t.Errorf("got %q", got)
	}
}

func TestRankingPrompt(t *testing.T) {
	p := RankingPrompt("Go", strings.Repeat("x", 900), []models.Candidate{
		{Title: "Rust", Similarity: 0.81, Context: "systems"},
		{Title: "Zig", Similarity: 0.7},
	})
	for _, want := range []string{"ranking 2 documents", `1. Title: "Rust"`, "Embedding Similarity: 0.81", `2. Title: "Zig"`, "Document 1: [score] - [reason]"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, strings.Repeat("x", 801)) {
		t.Error("content preview should be truncated")
	}
}
