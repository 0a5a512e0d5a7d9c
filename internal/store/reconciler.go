package store

import (
	"context"
	"time"

	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/types"
)

// Reconciler is the background half of the two-phase memory write. It
// drains the pending-vector queue (memories whose embedding failed or was
// deferred) and runs the hard-delete sweeper for expired pending_delete
// memories.
type Reconciler struct {
	store    *Store
	embedder provider.Embedder
	vec      provider.VectorStore

	pollInterval    time.Duration
	sweepInterval   time.Duration
	backoffInitial  time.Duration
	backoffCap      time.Duration
	embedTimeout    time.Duration
	hardDeleteAfter time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
}

// ReconcilerConfig carries the retry and sweep tuning
type ReconcilerConfig struct {
	BackoffInitial  time.Duration
	BackoffCap      time.Duration
	EmbedTimeout    time.Duration
	HardDeleteAfter time.Duration
}

// NewReconciler builds a reconciler. A nil embedder or vector store disables
// the retry queue; the sweeper always runs.
func NewReconciler(s *Store, embedder provider.Embedder, vec provider.VectorStore, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		store:           s,
		embedder:        embedder,
		vec:             vec,
		pollInterval:    30 * time.Second,
		sweepInterval:   time.Hour,
		backoffInitial:  cfg.BackoffInitial,
		backoffCap:      cfg.BackoffCap,
		embedTimeout:    cfg.EmbedTimeout,
		hardDeleteAfter: cfg.HardDeleteAfter,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start launches the background loop
func (r *Reconciler) Start() {
	if r.running {
		return
	}
	r.running = true
	go r.run()
	logging.Info("reconciler", "started (poll=%s sweep=%s)", r.pollInterval, r.sweepInterval)
}

// Stop halts the loop and waits for the current pass to finish
func (r *Reconciler) Stop() {
	if !r.running {
		return
	}
	r.running = false
	close(r.stopChan)
	<-r.doneChan
}

func (r *Reconciler) run() {
	defer close(r.doneChan)

	retryTicker := time.NewTicker(r.pollInterval)
	defer retryTicker.Stop()
	sweepTicker := time.NewTicker(r.sweepInterval)
	defer sweepTicker.Stop()

	// Sweep once at startup so a long-stopped service catches up
	r.SweepOnce(context.Background())

	for {
		select {
		case <-r.stopChan:
			return
		case <-retryTicker.C:
			r.RetryOnce(context.Background())
		case <-sweepTicker.C:
			r.SweepOnce(context.Background())
		}
	}
}

// RetryOnce drains one batch of pending vector writes. Failures back off
// exponentially inside the batch and leave the remainder for the next pass.
func (r *Reconciler) RetryOnce(ctx context.Context) {
	if r.embedder == nil || r.vec == nil {
		return
	}

	pending, err := r.store.ListVectorPending(ctx, 50)
	if err != nil {
		logging.Info("reconciler", "failed to list pending vectors: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	backoff := r.backoffInitial
	for i := range pending {
		m := &pending[i]
		if err := r.indexOne(ctx, m); err != nil {
			logging.Info("reconciler", "retry for %s failed, backing off %s: %v", m.ID, backoff, err)
			select {
			case <-time.After(backoff):
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > r.backoffCap {
				// Give up on this batch; the next pass starts fresh
				return
			}
			continue
		}
		backoff = r.backoffInitial
	}
}

func (r *Reconciler) indexOne(ctx context.Context, m *types.Memory) error {
	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(embedCtx, m.NormalizedText)
	if err != nil {
		return err
	}
	err = r.vec.Upsert(ctx, m.ID, vec, provider.Filters{
		User:  m.User,
		Tier:  string(m.Tier),
		State: string(types.StateActive),
	})
	if err != nil {
		return err
	}
	if err := r.store.MarkVectorState(ctx, m.ID, types.VectorIndexed); err != nil {
		return err
	}
	logging.Debug("reconciler", "indexed %s", m.ID)
	return nil
}

// SweepOnce hard-deletes pending_delete memories past the grace window,
// removing vector entries first so the index never outlives the metadata.
func (r *Reconciler) SweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.hardDeleteAfter)
	ids, err := r.store.ListHardDeletable(ctx, cutoff)
	if err != nil {
		logging.Info("reconciler", "failed to list deletable memories: %v", err)
		return
	}
	for _, id := range ids {
		if r.vec != nil {
			if err := r.vec.Delete(ctx, id); err != nil {
				logging.Info("reconciler", "failed to drop vector for %s: %v", id, err)
				continue
			}
		}
		if err := r.store.HardDelete(ctx, id); err != nil {
			logging.Info("reconciler", "failed to hard delete %s: %v", id, err)
			continue
		}
		logging.Info("reconciler", "hard deleted %s", id)
	}
}
