package provider

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrSaturated reports that a gate's wait queue is full. Callers degrade:
// LLM falls back to heuristic extraction, embedding defers to the retry queue.
var ErrSaturated = errors.New("provider gate saturated")

// Gate bounds in-flight calls to one provider. Up to concurrency callers run
// at once; up to queueDepth more wait; beyond that Acquire fails fast.
type Gate struct {
	name string
	sem  *semaphore.Weighted

	mu       sync.Mutex
	waiting  int
	maxQueue int
}

// NewGate returns a gate named for log lines
func NewGate(name string, concurrency, queueDepth int) *Gate {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &Gate{
		name:     name,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		maxQueue: queueDepth,
	}
}

// Acquire blocks until a slot frees, the context ends, or the queue is full.
// The returned func releases the slot.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	// Fast path: a free slot means no queueing at all
	if g.sem.TryAcquire(1) {
		return func() { g.sem.Release(1) }, nil
	}

	g.mu.Lock()
	if g.waiting >= g.maxQueue {
		g.mu.Unlock()
		return nil, ErrSaturated
	}
	g.waiting++
	g.mu.Unlock()

	err := g.sem.Acquire(ctx, 1)

	g.mu.Lock()
	g.waiting--
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// Waiting returns the current queue length (for status reporting)
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

// Name returns the gate's name
func (g *Gate) Name() string {
	return g.name
}
