// Package provider defines the three external collaborators the core
// consumes (LLM, embedder, vector store) plus the saturation gate that
// fronts the remote ones. Production bindings: the Ollama client in this
// package and the sqvect adapter in internal/vector.
package provider

import (
	"context"
	"encoding/json"
)

// LLMProvider produces schema-constrained JSON completions
type LLMProvider interface {
	CompleteStructured(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error)
}

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Filters restrict vector index entries and searches
type Filters struct {
	User  string
	Tier  string // general or personal, never vault
	State string // always "active" in the index
}

// Hit is one vector search result
type Hit struct {
	ID    string
	Score float64 // cosine similarity, higher is closer
}

// VectorStore indexes memory embeddings outside the metadata store
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, filters Filters) error
	Search(ctx context.Context, queryVector []float32, filters Filters, k int) ([]Hit, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
