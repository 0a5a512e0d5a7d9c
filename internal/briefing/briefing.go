// Package briefing assembles per-person digests: relationship state, open
// loops, upcoming events, and recent high-salience memories.
package briefing

import (
	"context"
	"sort"
	"time"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

const eventHorizon = 30 * 24 * time.Hour

// quick mode trims each section to this many rows
const quickLimit = 3

// Builder reads briefing material through the persistence gateway
type Builder struct {
	store *store.Store
	cfg   config.Config

	now func() time.Time
}

// New wires a briefing builder
func New(s *store.Store, cfg config.Config) *Builder {
	return &Builder{store: s, cfg: cfg, now: time.Now}
}

// SetClock overrides the builder clock
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Get builds the briefing for one person. The person must be known: either
// a relationship row exists or at least one memory mentions them.
func (b *Builder) Get(ctx context.Context, user, person string, quick bool) (*types.Briefing, error) {
	if person == "" {
		return nil, errs.E(errs.InvalidInput, "person is required")
	}
	if user == "" {
		user = b.cfg.DefaultUser
	}
	now := b.now().UTC()

	canonical := b.resolveName(ctx, user, person)
	briefing := &types.Briefing{Person: canonical, GeneratedAt: now}

	rel, relErr := b.store.GetRelationship(ctx, user, canonical)
	if relErr == nil {
		if rel.LastInteractionAt != nil {
			rel.DaysSince = int(now.Sub(*rel.LastInteractionAt).Hours() / 24)
		}
		briefing.Relationship = rel
		briefing.Sensitivities = rel.Sensitivities
	}

	limit := 10
	if quick {
		limit = quickLimit
	}

	loops, err := b.store.FindLoops(ctx, store.LoopFilter{User: user, Person: canonical, Limit: limit})
	if err != nil {
		return nil, err
	}
	briefing.OpenLoops = loops

	horizon := now.Add(eventHorizon)
	events, err := b.store.FindEvents(ctx, store.EventFilter{User: user, Person: canonical, From: &now, To: &horizon, Limit: limit})
	if err != nil {
		return nil, err
	}
	briefing.UpcomingEvents = events

	memories, err := b.store.FindMemories(ctx, store.MemoryFilter{
		User: user, People: []string{canonical}, Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(memories, func(i, j int) bool {
		if memories[i].Salience != memories[j].Salience {
			return memories[i].Salience > memories[j].Salience
		}
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})

	topics := make(map[string]bool)
	for _, m := range memories {
		briefing.RecentMemories = append(briefing.RecentMemories, types.MemoryRef{
			ID: m.ID, Text: m.Text, Salience: m.Salience, CreatedAt: m.CreatedAt,
		})
		for _, t := range m.AllTopics() {
			topics[t] = true
		}
	}
	for t := range topics {
		briefing.SuggestedTopics = append(briefing.SuggestedTopics, t)
	}
	sort.Strings(briefing.SuggestedTopics)

	if briefing.Relationship == nil && len(briefing.RecentMemories) == 0 &&
		len(briefing.OpenLoops) == 0 && len(briefing.UpcomingEvents) == 0 {
		return nil, errs.E(errs.NotFound, "nothing known about %s", person)
	}
	return briefing, nil
}

func (b *Builder) resolveName(ctx context.Context, user, name string) string {
	relationships, err := b.store.ListRelationships(ctx, user)
	if err != nil {
		relationships = nil
	}
	f := extract.Canonicalize(types.Features{People: []string{name}}, extract.BuildAliases(relationships))
	if len(f.People) == 0 {
		return name
	}
	return f.People[0]
}
