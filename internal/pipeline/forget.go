package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/salience"
	"github.com/vthunder/memento/internal/types"
)

// ForgetResult reports what a forget touched
type ForgetResult struct {
	MemoryID      string               `json:"memory_id"`
	State         types.ForgottenState `json:"state"`
	LoopsClosed   int                  `json:"loops_closed"`
	EventsRemoved int                  `json:"events_removed"`
}

// Forget moves a memory into a forgotten state. The state change is durable
// before the cascade runs.
func (p *Pipeline) Forget(ctx context.Context, memoryID string, mode types.ForgetMode, reason string) (*ForgetResult, error) {
	if memoryID == "" {
		return nil, errs.E(errs.InvalidInput, "memoryId is required")
	}

	release := p.locks.Acquire("memory:" + memoryID)
	defer release()

	m, err := p.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	res := &ForgetResult{MemoryID: memoryID}

	switch mode {
	case types.ForgetSuppress:
		res.State = types.StateSuppressed
	case types.ForgetArchive:
		res.State = types.StateArchived
	case types.ForgetDelete:
		res.State = types.StatePendingDelete
	default:
		return nil, errs.E(errs.InvalidInput, "unknown forget mode %q", mode)
	}

	if err := p.store.SetForgotten(ctx, memoryID, res.State, &now, reason); err != nil {
		return nil, err
	}

	// Every mode removes the vector entry; restore re-adds it
	p.dropVector(ctx, m)

	if mode == types.ForgetDelete {
		closed, err := p.store.CloseLoopsForMemory(ctx, memoryID, now, "source memory deleted")
		if err != nil {
			return nil, err
		}
		res.LoopsClosed = closed
		removed, err := p.store.DeleteEventsForMemory(ctx, memoryID)
		if err != nil {
			return nil, err
		}
		res.EventsRemoved = removed
	}

	logging.Info("pipeline", "forgot %s mode=%s loops=%d events=%d", memoryID, mode, res.LoopsClosed, res.EventsRemoved)
	return res, nil
}

// Restore brings a suppressed or archived memory back to active and
// re-enqueues its vector entry
func (p *Pipeline) Restore(ctx context.Context, memoryID string) (*types.Memory, error) {
	if memoryID == "" {
		return nil, errs.E(errs.InvalidInput, "memoryId is required")
	}

	release := p.locks.Acquire("memory:" + memoryID)
	defer release()

	m, err := p.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if m.Forgotten != types.StateSuppressed && m.Forgotten != types.StateArchived {
		return nil, errs.E(errs.PreconditionFailed, "memory %s is %s, only suppressed or archived restore", memoryID, m.Forgotten)
	}

	if err := p.store.SetForgotten(ctx, memoryID, types.StateActive, nil, ""); err != nil {
		return nil, err
	}

	if m.Tier != types.TierVault && p.embedder != nil && p.vec != nil {
		if err := p.store.MarkVectorState(ctx, memoryID, types.VectorPending); err != nil {
			return nil, err
		}
		go p.embedAsync(m.ID, m.User, m.NormalizedText, string(m.Tier))
	}

	return p.store.GetMemory(ctx, memoryID)
}

// PersonForgetOpts widens ForgetPerson beyond memory-linked records
type PersonForgetOpts struct {
	Mode          types.ForgetMode
	Reason        string
	IncludeLoops  bool // close person-level loops not linked to a memory
	IncludeEvents bool // delete the person's timeline events
}

// PersonForgetResult summarizes a person-wide forget
type PersonForgetResult struct {
	Person           string `json:"person"`
	MemoriesAffected int    `json:"memories_affected"`
	LoopsClosed      int    `json:"loops_closed"`
	EventsRemoved    int    `json:"events_removed"`
}

// ForgetPerson applies Forget to every memory mentioning the canonical name
func (p *Pipeline) ForgetPerson(ctx context.Context, user, name string, opts PersonForgetOpts) (*PersonForgetResult, error) {
	if name == "" {
		return nil, errs.E(errs.InvalidInput, "person is required")
	}
	if user == "" {
		user = p.cfg.DefaultUser
	}

	canonical := p.resolveName(ctx, user, name)
	ids, err := p.store.MemoriesMentioning(ctx, user, canonical)
	if err != nil {
		return nil, err
	}

	res := &PersonForgetResult{Person: canonical}
	for _, id := range ids {
		fr, err := p.Forget(ctx, id, opts.Mode, opts.Reason)
		if err != nil {
			logging.Info("pipeline", "forget person skipped %s: %v", id, err)
			continue
		}
		res.MemoriesAffected++
		res.LoopsClosed += fr.LoopsClosed
		res.EventsRemoved += fr.EventsRemoved
	}

	now := p.now().UTC()
	if opts.IncludeLoops {
		closed, err := p.store.CloseLoopsForPerson(ctx, user, canonical, now, "person forgotten")
		if err != nil {
			return nil, err
		}
		res.LoopsClosed += closed
	}
	if opts.IncludeEvents {
		removed, err := p.store.DeleteEventsForPerson(ctx, user, canonical)
		if err != nil {
			return nil, err
		}
		res.EventsRemoved += removed
	}

	logging.Info("pipeline", "forgot person %s: %d memories, %d loops, %d events",
		canonical, res.MemoriesAffected, res.LoopsClosed, res.EventsRemoved)
	return res, nil
}

// ReassociateDiff is the explicit change set for one memory
type ReassociateDiff struct {
	AddPeople    []string
	RemovePeople []string
	AddTopics    []string
	RemoveTopics []string
	AddTags      []string
	RemoveTags   []string
	Project      *string // nil leaves the project untouched; empty string clears it
}

// Reassociate applies explicit feature diffs and re-scores the memory.
// Extraction does not re-run unless reextractOnReassociate is set.
func (p *Pipeline) Reassociate(ctx context.Context, memoryID string, diff ReassociateDiff, frame *types.ContextFrame) (*types.Memory, error) {
	if memoryID == "" {
		return nil, errs.E(errs.InvalidInput, "memoryId is required")
	}

	release := p.locks.Acquire("memory:" + memoryID)
	defer release()

	m, err := p.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	if p.cfg.ReextractOnReassociate && m.Text != "" {
		result := p.extractor.Extract(ctx, m.Text, p.now().UTC())
		relationships, err := p.store.ListRelationships(ctx, m.User)
		if err != nil {
			return nil, err
		}
		m.Features = extract.Canonicalize(result.Features, extract.BuildAliases(relationships))
		m.ExtractionStatus = result.Status
	}

	for _, person := range diff.AddPeople {
		canonical := p.resolveName(ctx, m.User, person)
		m.Features.People = types.MergeSets(m.Features.People, []string{canonical})
	}
	for _, person := range diff.RemovePeople {
		m.Features.People = removeFold(m.Features.People, p.resolveName(ctx, m.User, person))
	}
	m.Features.Topics = removeAllFold(m.Features.Topics, diff.RemoveTopics)
	m.AddedTopics = removeAllFold(types.MergeSets(m.AddedTopics, diff.AddTopics), diff.RemoveTopics)
	m.AddedTags = removeAllFold(types.MergeSets(m.AddedTags, diff.AddTags), diff.RemoveTags)
	if diff.Project != nil {
		m.Project = *diff.Project
	}

	since := p.now().UTC().Add(-30 * 24 * time.Hour)
	recent, err := p.store.RecentMemories(ctx, m.User, since, 200)
	if err != nil {
		return nil, err
	}
	m.Salience, m.Factors = salience.Score(salience.Inputs{
		Text:     m.Text,
		Features: m.Features,
		Recent:   recent,
		Frame:    frame,
		Now:      p.now().UTC(),
	})

	// Re-enqueue so the vector entry picks up the new filter metadata
	if m.Tier != types.TierVault && m.Forgotten == types.StateActive && p.embedder != nil && p.vec != nil {
		m.VectorState = types.VectorPending
	}

	if err := p.store.UpdateExtraction(ctx, m); err != nil {
		return nil, err
	}
	if m.VectorState == types.VectorPending {
		go p.embedAsync(m.ID, m.User, m.NormalizedText, string(m.Tier))
	}
	return p.store.GetMemory(ctx, memoryID)
}

// resolveName collapses a name through the relationship alias table
func (p *Pipeline) resolveName(ctx context.Context, user, name string) string {
	relationships, err := p.store.ListRelationships(ctx, user)
	if err != nil {
		relationships = nil
	}
	f := extract.Canonicalize(types.Features{People: []string{name}}, extract.BuildAliases(relationships))
	if len(f.People) == 0 {
		return name
	}
	return f.People[0]
}

// dropVector removes a memory's index entry, tolerating a missing one
func (p *Pipeline) dropVector(ctx context.Context, m *types.Memory) {
	if p.vec == nil || m.Tier == types.TierVault {
		return
	}
	if err := p.vec.Delete(ctx, m.ID); err != nil {
		logging.Info("pipeline", "failed to drop vector for %s: %v", m.ID, err)
	}
}

func removeFold(ss []string, drop string) []string {
	return removeAllFold(ss, []string{drop})
}

func removeAllFold(ss, drops []string) []string {
	if len(drops) == 0 {
		return ss
	}
	dropSet := make(map[string]bool, len(drops))
	for _, d := range drops {
		dropSet[strings.ToLower(d)] = true
	}
	var out []string
	for _, s := range ss {
		if !dropSet[strings.ToLower(s)] {
			out = append(out, s)
		}
	}
	return out
}
