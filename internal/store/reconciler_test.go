package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/types"
)

type stubEmbedder struct {
	fail  bool
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *stubEmbedder) Dim() int { return 3 }

type stubVector struct {
	upserts map[string]provider.Filters
	deletes []string
}

func newStubVector() *stubVector {
	return &stubVector{upserts: make(map[string]provider.Filters)}
}

func (v *stubVector) Upsert(ctx context.Context, id string, vec []float32, f provider.Filters) error {
	v.upserts[id] = f
	return nil
}

func (v *stubVector) Search(ctx context.Context, q []float32, f provider.Filters, k int) ([]provider.Hit, error) {
	return nil, nil
}

func (v *stubVector) Delete(ctx context.Context, id string) error {
	v.deletes = append(v.deletes, id)
	return nil
}

func (v *stubVector) Close() error { return nil }

func reconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		BackoffInitial:  time.Millisecond,
		BackoffCap:      4 * time.Millisecond,
		EmbedTimeout:    time.Second,
		HardDeleteAfter: 30 * 24 * time.Hour,
	}
}

func TestRetryOnceIndexesPending(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	m1 := testMemory("m1", "alice", "Sarah is allergic to shellfish", base)
	m2 := testMemory("m2", "alice", "Met Tom at the gym", base.Add(time.Minute))
	m2.Tier = types.TierPersonal
	for _, m := range []*types.Memory{m1, m2} {
		if err := s.InsertMemory(ctx, m); err != nil {
			t.Fatalf("InsertMemory failed: %v", err)
		}
	}

	vec := newStubVector()
	r := NewReconciler(s, &stubEmbedder{}, vec, reconcilerConfig())
	r.RetryOnce(ctx)

	for _, id := range []string{"m1", "m2"} {
		got, err := s.GetMemory(ctx, id)
		if err != nil {
			t.Fatalf("GetMemory failed: %v", err)
		}
		if got.VectorState != types.VectorIndexed {
			t.Errorf("%s vector state = %s, want indexed", id, got.VectorState)
		}
	}
	if f, ok := vec.upserts["m2"]; !ok || f.User != "alice" || f.Tier != string(types.TierPersonal) {
		t.Errorf("m2 upsert filters = %+v", vec.upserts["m2"])
	}

	pending, err := s.ListVectorPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListVectorPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("still pending after retry: %d", len(pending))
	}
}

func TestRetryOnceEmbedFailureLeavesPending(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	m := testMemory("m1", "alice", "Met Tom at the gym", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	if err := s.InsertMemory(ctx, m); err != nil {
		t.Fatalf("InsertMemory failed: %v", err)
	}

	vec := newStubVector()
	r := NewReconciler(s, &stubEmbedder{fail: true}, vec, reconcilerConfig())
	r.RetryOnce(ctx)

	got, err := s.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got.VectorState != types.VectorPending {
		t.Errorf("vector state = %s, want pending for the next pass", got.VectorState)
	}
	if len(vec.upserts) != 0 {
		t.Errorf("upserts happened despite embed failure: %v", vec.upserts)
	}
}

func TestRetryOnceNoProviders(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	m := testMemory("m1", "alice", "Met Tom at the gym", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	if err := s.InsertMemory(ctx, m); err != nil {
		t.Fatalf("InsertMemory failed: %v", err)
	}

	r := NewReconciler(s, nil, nil, reconcilerConfig())
	r.RetryOnce(ctx)

	got, _ := s.GetMemory(ctx, "m1")
	if got.VectorState != types.VectorPending {
		t.Errorf("vector state = %s, want pending when embedding is disabled", got.VectorState)
	}
}

func TestSweepOnceHardDeletesExpired(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	old := testMemory("old", "alice", "Awkward dinner story", time.Now().UTC().Add(-90*24*time.Hour))
	recent := testMemory("recent", "alice", "Met Tom at the gym", time.Now().UTC().Add(-2*24*time.Hour))
	for _, m := range []*types.Memory{old, recent} {
		if err := s.InsertMemory(ctx, m); err != nil {
			t.Fatalf("InsertMemory failed: %v", err)
		}
	}

	oldAt := time.Now().UTC().Add(-60 * 24 * time.Hour)
	if err := s.SetForgotten(ctx, "old", types.StatePendingDelete, &oldAt, "user request"); err != nil {
		t.Fatalf("SetForgotten failed: %v", err)
	}
	recentAt := time.Now().UTC().Add(-time.Hour)
	if err := s.SetForgotten(ctx, "recent", types.StatePendingDelete, &recentAt, "user request"); err != nil {
		t.Fatalf("SetForgotten failed: %v", err)
	}

	vec := newStubVector()
	r := NewReconciler(s, &stubEmbedder{}, vec, reconcilerConfig())
	r.SweepOnce(ctx)

	if _, err := s.GetMemory(ctx, "old"); err == nil {
		t.Error("expired memory survived the sweep")
	}
	if len(vec.deletes) != 1 || vec.deletes[0] != "old" {
		t.Errorf("vector deletes = %v, want [old]", vec.deletes)
	}

	// still inside the grace window
	if _, err := s.GetMemory(ctx, "recent"); err != nil {
		t.Errorf("recent pending_delete swept early: %v", err)
	}
}
