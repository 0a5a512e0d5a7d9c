package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vthunder/memento/internal/errs"
)

// Ollama talks to a local Ollama server and implements both LLMProvider and
// Embedder. Deadlines come from the caller's context; the HTTP client itself
// carries no timeout.
type Ollama struct {
	baseURL    string
	embedModel string
	genModel   string
	dim        int
	client     *http.Client
}

// NewOllama creates a client. Empty arguments get the usual local defaults.
func NewOllama(baseURL, embedModel, genModel string, dim int) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text" // 768 dims
	}
	if genModel == "" {
		genModel = "llama3.2"
	}
	if dim <= 0 {
		dim = 768
	}
	return &Ollama{
		baseURL:    baseURL,
		embedModel: embedModel,
		genModel:   genModel,
		dim:        dim,
		client:     &http.Client{},
	}
}

// embeddingRequest is the Ollama API request format
type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingResponse is the Ollama API response format
type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Dim returns the configured embedding dimension
func (o *Ollama) Dim() int {
	return o.dim
}

// Embed generates an embedding for the given text
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errs.E(errs.InvalidInput, "empty text")
	}

	var result embeddingResponse
	if err := o.post(ctx, "/api/embeddings", embeddingRequest{Model: o.embedModel, Prompt: text}, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, errs.E(errs.ProviderUnavailable, "empty embedding returned")
	}
	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// generateRequest is the Ollama API request format for generation. Format
// carries either "json" or a full JSON schema for structured output.
type generateRequest struct {
	Model  string          `json:"model"`
	Prompt string          `json:"prompt"`
	Stream bool            `json:"stream"`
	Format json.RawMessage `json:"format,omitempty"`
}

// generateResponse is the Ollama API response format for generation
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// CompleteStructured runs a generation constrained to the given JSON schema
// (or plain JSON mode when schema is nil) and returns the raw JSON text.
func (o *Ollama) CompleteStructured(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	if prompt == "" {
		return nil, errs.E(errs.InvalidInput, "empty prompt")
	}

	format := schema
	if len(format) == 0 {
		format = json.RawMessage(`"json"`)
	}

	var result generateResponse
	req := generateRequest{Model: o.genModel, Prompt: prompt, Stream: false, Format: format}
	if err := o.post(ctx, "/api/generate", req, &result); err != nil {
		return nil, err
	}
	if result.Response == "" {
		return nil, errs.E(errs.ProviderUnavailable, "empty completion returned")
	}
	return json.RawMessage(result.Response), nil
}

func (o *Ollama) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Deadline, "ollama"+path, ctx.Err())
		}
		return errs.Wrap(errs.ProviderUnavailable, "ollama"+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return errs.Wrap(errs.ProviderUnavailable, "ollama"+path,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.ProviderUnavailable, "ollama"+path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
