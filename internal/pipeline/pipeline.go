// Package pipeline is the enrichment path for incoming observations:
// extract features, score salience, classify the security tier, persist,
// derive loops and events, and hand the embedding off to the async queue.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/salience"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
	"github.com/vthunder/memento/internal/vault"
)

// Pipeline orchestrates memory ingestion and the forget lifecycle
type Pipeline struct {
	store     *store.Store
	vec       provider.VectorStore
	embedder  provider.Embedder
	embedGate *provider.Gate
	extractor *extract.Extractor
	sealer    *vault.Sealer
	locks     *keylock.Lock
	cfg       config.Config

	now func() time.Time
}

// New wires a pipeline. Nil embedder or vector store means memories skip
// the vector phase entirely.
func New(s *store.Store, vec provider.VectorStore, embedder provider.Embedder,
	embedGate *provider.Gate, extractor *extract.Extractor, sealer *vault.Sealer,
	locks *keylock.Lock, cfg config.Config) *Pipeline {
	return &Pipeline{
		store:     s,
		vec:       vec,
		embedder:  embedder,
		embedGate: embedGate,
		extractor: extractor,
		sealer:    sealer,
		locks:     locks,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the pipeline clock. Tests use a fixed time so salience
// and due dates are reproducible.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// StoreResult reports what one ingestion produced
type StoreResult struct {
	ID               string                 `json:"id"`
	Salience         int                    `json:"salience"`
	Factors          types.SalienceFactors  `json:"factors"`
	Tier             types.SecurityTier     `json:"tier"`
	People           []string               `json:"people,omitempty"`
	LoopsCreated     int                    `json:"loops_created"`
	EventsCreated    int                    `json:"events_created"`
	ExtractionStatus types.ExtractionStatus `json:"extraction_status"`
}

// Store ingests one observation for a user. The metadata write is durable
// before this returns; the embedding runs in the background.
func (p *Pipeline) Store(ctx context.Context, user, text string, frame *types.ContextFrame, useLLM bool) (*StoreResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.E(errs.InvalidInput, "text is required")
	}
	if user == "" {
		user = p.cfg.DefaultUser
	}
	now := p.now().UTC()
	id := uuid.NewString()

	extractor := p.extractor
	if !useLLM {
		extractor = extract.New(nil, nil, 0)
	}
	result := extractor.Extract(ctx, text, now)

	relationships, err := p.store.ListRelationships(ctx, user)
	if err != nil {
		return nil, err
	}
	aliases := extract.BuildAliases(relationships)
	features := extract.Canonicalize(result.Features, aliases)

	since := now.Add(-30 * 24 * time.Hour)
	recent, err := p.store.RecentMemories(ctx, user, since, 200)
	if err != nil {
		return nil, err
	}

	score, factors := salience.Score(salience.Inputs{
		Text:     text,
		Features: features,
		Recent:   recent,
		Frame:    frame,
		Now:      now,
	})

	tier := vault.Classify(text, features)
	m := &types.Memory{
		ID:               id,
		User:             user,
		CreatedAt:        now,
		Text:             text,
		NormalizedText:   extract.NormalizeText(text),
		Features:         features,
		Salience:         score,
		Factors:          factors,
		Tier:             tier,
		Forgotten:        types.StateActive,
		VectorState:      types.VectorPending,
		ExtractionStatus: result.Status,
	}

	if tier == types.TierVault {
		env, err := p.sealer.Seal(text)
		if err != nil {
			return nil, err
		}
		m.Envelope = env
		m.Text = ""
		m.NormalizedText = ""
		m.VectorState = types.VectorSkipped
	} else if p.embedder == nil || p.vec == nil {
		m.VectorState = types.VectorSkipped
	}

	release := p.locks.Acquire("memory:" + id)
	err = p.store.InsertMemory(ctx, m)
	release()
	if err != nil {
		return nil, err
	}

	loops := p.deriveLoops(ctx, m, now)
	events := p.deriveEvents(ctx, m, now)
	p.updateRelationships(ctx, m, now)

	if m.VectorState == types.VectorPending {
		go p.embedAsync(m.ID, m.User, m.NormalizedText, string(m.Tier))
	}

	logging.Info("pipeline", "stored %s salience=%d tier=%s loops=%d events=%d",
		id, score, tier, loops, events)
	return &StoreResult{
		ID:               id,
		Salience:         score,
		Factors:          factors,
		Tier:             tier,
		People:           features.People,
		LoopsCreated:     loops,
		EventsCreated:    events,
		ExtractionStatus: result.Status,
	}, nil
}

// Rederive recreates loops and events from a memory's stored features.
// Import uses this unless the caller opted out.
func (p *Pipeline) Rederive(ctx context.Context, m *types.Memory) (loops, events int) {
	now := p.now().UTC()
	return p.deriveLoops(ctx, m, now), p.deriveEvents(ctx, m, now)
}

// deriveLoops creates one open loop per extracted commitment
func (p *Pipeline) deriveLoops(ctx context.Context, m *types.Memory, now time.Time) int {
	created := 0
	for _, c := range m.Features.Commitments {
		loop := &types.OpenLoop{
			ID:             uuid.NewString(),
			User:           m.User,
			Description:    c.Text,
			Owner:          c.Owner,
			OtherParty:     c.OtherParty,
			DueDate:        c.DueDate,
			LoopType:       c.LoopType,
			SourceMemoryID: m.ID,
			CreatedAt:      now,
		}
		if loop.Owner == "" {
			loop.Owner = "self"
		}
		if loop.LoopType == "" {
			loop.LoopType = "followup"
		}
		if err := p.store.CreateLoop(ctx, loop); err != nil {
			logging.Info("pipeline", "failed to create loop from %s: %v", m.ID, err)
			continue
		}
		created++
	}
	return created
}

// deriveEvents creates one timeline event per extracted dated fact
func (p *Pipeline) deriveEvents(ctx context.Context, m *types.Memory, now time.Time) int {
	created := 0
	for _, e := range m.Features.Events {
		event := &types.TimelineEvent{
			ID:             uuid.NewString(),
			User:           m.User,
			Description:    e.Description,
			Person:         e.Person,
			EventDate:      e.Date,
			Category:       e.Category,
			SourceMemoryID: m.ID,
			CreatedAt:      now,
		}
		if event.Category == "" {
			event.Category = "meeting"
		}
		if err := p.store.CreateEvent(ctx, event); err != nil {
			logging.Info("pipeline", "failed to create event from %s: %v", m.ID, err)
			continue
		}
		created++
	}
	return created
}

// updateRelationships increments interaction counters and recomputes the
// engagement trend for every person the memory mentions
func (p *Pipeline) updateRelationships(ctx context.Context, m *types.Memory, now time.Time) {
	for _, person := range m.Features.People {
		r, err := p.store.GetRelationship(ctx, m.User, person)
		if err != nil {
			r = &types.Relationship{
				User:              m.User,
				Name:              person,
				Trend:             types.TrendStable,
				ColdThresholdDays: p.cfg.ColdThresholdDays,
			}
		}

		daysSince := 0
		if r.LastInteractionAt != nil {
			daysSince = int(now.Sub(*r.LastInteractionAt).Hours() / 24)
		}

		r.TotalInteractions++
		t := now
		r.LastInteractionAt = &t
		r.Sensitivities = types.MergeSets(r.Sensitivities, m.Features.Sensitivities)
		r.Trend = p.computeTrend(ctx, m.User, person, daysSince, r.ColdThresholdDays, now)

		if err := p.store.UpsertRelationship(ctx, r); err != nil {
			logging.Info("pipeline", "failed to update relationship %s: %v", person, err)
		}
	}
}

// computeTrend compares the last 7 days of interactions against the 30-day
// weekly mean. Cold wins when the gap before this interaction exceeded the
// threshold.
func (p *Pipeline) computeTrend(ctx context.Context, user, person string, daysSince, coldThreshold int, now time.Time) types.EngagementTrend {
	if daysSince > coldThreshold {
		return types.TrendCold
	}
	week, err := p.store.CountInteractions(ctx, user, person, now.Add(-7*24*time.Hour))
	if err != nil {
		return types.TrendStable
	}
	month, err := p.store.CountInteractions(ctx, user, person, now.Add(-30*24*time.Hour))
	if err != nil {
		return types.TrendStable
	}
	weeklyMean := float64(month) * 7 / 30
	switch {
	case float64(week) > weeklyMean:
		return types.TrendRising
	case float64(week) < weeklyMean:
		return types.TrendFalling
	}
	return types.TrendStable
}

// embedAsync runs the second write phase detached from the caller. Failure
// leaves vectorState=pending for the reconciler; gate saturation defers the
// same way.
func (p *Pipeline) embedAsync(id, user, text, tier string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EmbedderTimeout)
	defer cancel()

	release, err := p.embedGate.Acquire(ctx)
	if err != nil {
		logging.Debug("pipeline", "embed gate saturated for %s, deferring to reconciler", id)
		return
	}
	defer release()

	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		logging.Info("pipeline", "embed for %s failed, deferring to reconciler: %v", id, err)
		return
	}
	err = p.vec.Upsert(ctx, id, vec, provider.Filters{
		User:  user,
		Tier:  tier,
		State: string(types.StateActive),
	})
	if err != nil {
		logging.Info("pipeline", "vector upsert for %s failed, deferring to reconciler: %v", id, err)
		return
	}
	if err := p.store.MarkVectorState(ctx, id, types.VectorIndexed); err != nil {
		logging.Info("pipeline", "failed to mark %s indexed: %v", id, err)
	}
}
