// Package vector backs provider.VectorStore with a sqvect SQLite store.
// The index holds only active, non-vault memories; forget paths delete
// entries rather than tagging them.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/liliang-cn/sqvect/v2/pkg/core"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/provider"
)

// Store adapts a sqvect SQLiteStore to provider.VectorStore
type Store struct {
	inner *core.SQLiteStore
	dim   int
}

// Open creates (or opens) the vector database at path with a fixed dimension
func Open(ctx context.Context, path string, dim int) (*Store, error) {
	inner, err := core.New(path, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	if err := inner.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init vector store: %w", err)
	}
	logging.Info("vector", "opened %s (dim=%d)", path, dim)
	return &Store{inner: inner, dim: dim}, nil
}

// Upsert writes one memory embedding with its filter metadata
func (s *Store) Upsert(ctx context.Context, id string, vec []float32, f provider.Filters) error {
	if id == "" {
		return errs.E(errs.InvalidInput, "empty vector id")
	}
	if len(vec) != s.dim {
		return errs.E(errs.InvalidInput, "vector dim %d, index expects %d", len(vec), s.dim)
	}
	meta := map[string]string{
		"user":  f.User,
		"state": f.State,
	}
	if f.Tier != "" {
		meta["tier"] = f.Tier
	}
	err := s.inner.Upsert(ctx, &core.Embedding{ID: id, Vector: vec, Metadata: meta})
	if err != nil {
		return errs.Wrap(errs.ProviderUnavailable, "vector.upsert", err)
	}
	return nil
}

// Search returns up to k hits for the user's active partition, most similar
// first. Scores clamp to [0,1].
func (s *Store) Search(ctx context.Context, query []float32, f provider.Filters, k int) ([]provider.Hit, error) {
	if k <= 0 {
		k = 10
	}
	filter := map[string]string{
		"user":  f.User,
		"state": f.State,
	}
	if f.Tier != "" {
		filter["tier"] = f.Tier
	}
	results, err := s.inner.Search(ctx, query, core.SearchOptions{TopK: k, Filter: filter})
	if err != nil {
		return nil, errs.Wrap(errs.ProviderUnavailable, "vector.search", err)
	}
	hits := make([]provider.Hit, 0, len(results))
	for _, r := range results {
		score := r.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		hits = append(hits, provider.Hit{ID: r.ID, Score: score})
	}
	return hits, nil
}

// Delete removes a memory's entry; deleting a missing id is a no-op
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errs.E(errs.InvalidInput, "empty vector id")
	}
	if err := s.inner.Delete(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return errs.Wrap(errs.ProviderUnavailable, "vector.delete", err)
	}
	return nil
}

// Close releases the underlying store
func (s *Store) Close() error {
	return s.inner.Close()
}
