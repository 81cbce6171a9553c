// Package llm talks to an Ollama server for embeddings and text generation
// and builds the prompts used by the linking pipeline.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

const (
	// DefaultURL is the default Ollama API endpoint.
	DefaultURL = "http://localhost:11434"

	// DefaultEmbeddingModel is the default embedding model.
	DefaultEmbeddingModel = "nomic-embed-text"

	// DefaultGenerationModel is the default text model.
	DefaultGenerationModel = "llama3.2"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 60 * time.Second

	// DefaultTemperature is the sampling temperature for generation.
	DefaultTemperature = 0.3

	// DefaultContextWindow is sent as num_ctx with generation requests.
	DefaultContextWindow = 4096

	apiPathEmbeddings = "/api/embeddings"
	apiPathGenerate   = "/api/generate"
)

// Ollama is a client for the subset of the Ollama API used here.
type Ollama struct {
	baseURL         string
	embeddingModel  string
	generationModel string
	temperature     float64
	client          *http.Client
}

// Option configures an Ollama client.
type Option func(*Ollama)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(o *Ollama) {
		o.baseURL = strings.TrimRight(url, "/")
	}
}

// WithEmbeddingModel sets the model used by Embed.
func WithEmbeddingModel(model string) Option {
	return func(o *Ollama) {
		o.embeddingModel = model
	}
}

// WithGenerationModel sets the model used by Generate.
func WithGenerationModel(model string) Option {
	return func(o *Ollama) {
		o.generationModel = model
	}
}

// WithTemperature sets the sampling temperature for generation.
func WithTemperature(t float64) Option {
	return func(o *Ollama) {
		o.temperature = t
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Ollama) {
		o.client.Timeout = timeout
	}
}

// NewOllama creates a client.
func NewOllama(opts ...Option) *Ollama {
	o := &Ollama{
		baseURL:         DefaultURL,
		embeddingModel:  DefaultEmbeddingModel,
		generationModel: DefaultGenerationModel,
		temperature:     DefaultTemperature,
		client:          &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type generateOptions struct {
	NumCtx      int     `json:"num_ctx"`
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Embed returns the embedding vector for text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := o.post(ctx, apiPathEmbeddings, embedRequest{Model: o.embeddingModel, Prompt: text}, &resp); err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("llm: embed: empty embedding from model %s", o.embeddingModel)
	}
	return resp.Embedding, nil
}

// Generate runs a non-streaming completion. When jsonOutput is set the
// model is asked to answer in JSON.
func (o *Ollama) Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error) {
	req := generateRequest{
		Model:  o.generationModel,
		Prompt: prompt,
		Options: generateOptions{
			NumCtx:      DefaultContextWindow,
			NumPredict:  -1,
			Temperature: o.temperature,
		},
	}
	if jsonOutput {
		req.Format = "json"
	}
	var resp generateResponse
	if err := o.post(ctx, apiPathGenerate, req, &resp); err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	return strings.TrimSpace(resp.Response), nil
}

func (o *Ollama) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w: %w", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: ollama returned status %d: %s", apperr.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
