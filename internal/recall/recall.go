// Package recall turns queries into ranked memory candidates: vector hits
// unioned with metadata matches, scored by relevance and salience. A failed
// embedder degrades to metadata-only with a neutral relevance baseline.
package recall

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

const (
	weightRelevance = 0.65
	weightSalience  = 0.35

	// metadata-only hits carry this relevance; vector hits replace it with
	// cosine similarity
	baselineRelevance = 0.5
)

// Engine runs retrieval for one store + vector index pair
type Engine struct {
	store     *store.Store
	vec       provider.VectorStore
	embedder  provider.Embedder
	embedGate *provider.Gate
	cfg       config.Config

	now func() time.Time
}

// New wires a retrieval engine. Nil embedder or vector store means
// metadata-only recall.
func New(s *store.Store, vec provider.VectorStore, embedder provider.Embedder,
	embedGate *provider.Gate, cfg config.Config) *Engine {
	return &Engine{store: s, vec: vec, embedder: embedder, embedGate: embedGate, cfg: cfg, now: time.Now}
}

// SetClock overrides the engine clock for deterministic recency scoring
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Options narrows a recall
type Options struct {
	Limit             int
	People            []string
	MinSalience       int
	Since             *time.Time
	Until             *time.Time
	Project           string
	IncludeSuppressed bool
}

// Result is one ranked candidate
type Result struct {
	Memory    types.Memory `json:"memory"`
	Relevance float64      `json:"relevance"`
	Rank      float64      `json:"rank"`
}

// Recall returns up to limit memories for the query, best first
func (e *Engine) Recall(ctx context.Context, user, query string, opts Options) ([]Result, error) {
	if user == "" {
		user = e.cfg.DefaultUser
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	filter := store.MemoryFilter{
		User:        user,
		Project:     opts.Project,
		Since:       opts.Since,
		Until:       opts.Until,
		MinSalience: opts.MinSalience,
	}
	if opts.IncludeSuppressed {
		filter.States = []types.ForgottenState{types.StateActive, types.StateSuppressed}
	}
	if len(opts.People) > 0 {
		relationships, err := e.store.ListRelationships(ctx, user)
		if err != nil {
			return nil, err
		}
		f := extract.Canonicalize(types.Features{People: opts.People}, extract.BuildAliases(relationships))
		filter.People = f.People
	}

	candidates, err := e.store.FindMemories(ctx, filter)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Result, len(candidates))
	var results []*Result
	now := e.now().UTC()
	query = strings.TrimSpace(query)

	for i := range candidates {
		r := &Result{Memory: candidates[i], Relevance: baselineRelevance}
		if query == "" {
			// Pure recency x salience when there is nothing to match against
			r.Relevance = recencyScore(candidates[i].CreatedAt, now)
		}
		byID[candidates[i].ID] = r
		results = append(results, r)
	}

	if query != "" {
		for _, hit := range e.vectorHits(ctx, user, query, limit) {
			if r, ok := byID[hit.ID]; ok {
				// stale index entries never lift vault memories
				if r.Memory.Tier != types.TierVault {
					r.Relevance = hit.Score
				}
				continue
			}
			// Vector hit outside the metadata set: admit it only if it
			// passes the same filters
			m, err := e.store.GetMemory(ctx, hit.ID)
			if err != nil {
				logging.Debug("recall", "vector hit %s has no metadata row: %v", hit.ID, err)
				continue
			}
			if !passesFilter(m, filter) {
				continue
			}
			r := &Result{Memory: *m, Relevance: hit.Score}
			byID[hit.ID] = r
			results = append(results, r)
		}
	}

	for _, r := range results {
		r.Rank = weightRelevance*r.Relevance + weightSalience*float64(r.Memory.Salience)/100
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank > results[j].Rank
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = *r
	}
	return out, nil
}

// vectorHits embeds the query and searches the active partition. Any failure
// logs a downgrade and returns nothing: recall proceeds metadata-only.
func (e *Engine) vectorHits(ctx context.Context, user, query string, limit int) []provider.Hit {
	if e.embedder == nil || e.vec == nil {
		return nil
	}
	corr := uuid.NewString()[:8]

	release, err := e.embedGate.Acquire(ctx)
	if err != nil {
		logging.Info("recall", "[%s] embed gate saturated, metadata-only recall", corr)
		return nil
	}
	defer release()

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedderTimeout)
	defer cancel()

	qvec, err := e.embedder.Embed(embedCtx, query)
	if err != nil {
		logging.Info("recall", "[%s] query embed failed, metadata-only recall: %v", corr, err)
		return nil
	}
	hits, err := e.vec.Search(ctx, qvec, provider.Filters{
		User:  user,
		State: string(types.StateActive),
	}, limit*4)
	if err != nil {
		logging.Info("recall", "[%s] vector search failed, metadata-only recall: %v", corr, err)
		return nil
	}
	return hits
}

// passesFilter re-checks a vector hit against the metadata filter
func passesFilter(m *types.Memory, f store.MemoryFilter) bool {
	states := f.States
	if len(states) == 0 {
		states = []types.ForgottenState{types.StateActive}
	}
	ok := false
	for _, st := range states {
		if m.Forgotten == st {
			ok = true
			break
		}
	}
	if !ok || m.User != f.User {
		return false
	}
	if m.Tier == types.TierVault {
		return false
	}
	if f.MinSalience > 0 && m.Salience < f.MinSalience {
		return false
	}
	if f.Project != "" && m.Project != f.Project {
		return false
	}
	if f.Since != nil && m.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && m.CreatedAt.After(*f.Until) {
		return false
	}
	if len(f.People) > 0 {
		have := make(map[string]bool, len(m.Features.People))
		for _, p := range m.Features.People {
			have[strings.ToLower(p)] = true
		}
		any := false
		for _, p := range f.People {
			if have[strings.ToLower(p)] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

// recencyScore decays from 1.0 (just now) toward 0 over about a quarter
func recencyScore(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1 / (1 + ageDays/30)
}

// Vote is one salience adjustment request
type Vote struct {
	MemoryID string `json:"memory_id"`
	Up       bool   `json:"up"`
}

// VoteResult reports the post-vote salience
type VoteResult struct {
	MemoryID string `json:"memory_id"`
	Salience int    `json:"salience"`
}

// VoteOnMemories applies +-3 salience per vote, clamped to 0..100
func (e *Engine) VoteOnMemories(ctx context.Context, votes []Vote) ([]VoteResult, error) {
	if len(votes) == 0 {
		return nil, errs.E(errs.InvalidInput, "no votes supplied")
	}
	now := e.now().UTC()
	out := make([]VoteResult, 0, len(votes))
	for _, v := range votes {
		delta := 3
		if !v.Up {
			delta = -3
		}
		salience, err := e.store.UpdateVote(ctx, v.MemoryID, delta, now)
		if err != nil {
			return out, err
		}
		out = append(out, VoteResult{MemoryID: v.MemoryID, Salience: salience})
	}
	return out, nil
}
