// Package service is the facade behind the tool surface: it composes the
// pipeline, retrieval, frames, briefings, anticipation, and behavioral
// engines into the operations clients call.
package service

import (
	"context"
	"time"

	"github.com/vthunder/memento/internal/anticipate"
	"github.com/vthunder/memento/internal/behavioral"
	"github.com/vthunder/memento/internal/briefing"
	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/frame"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/pipeline"
	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/recall"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

// Service bundles every engine behind one facade
type Service struct {
	Store      *store.Store
	Pipeline   *pipeline.Pipeline
	Recall     *recall.Engine
	Frames     *frame.Manager
	Briefings  *briefing.Builder
	Anticipate *anticipate.Engine
	Behavioral *behavioral.Engine
	LLMGate    *provider.Gate
	EmbedGate  *provider.Gate
	Locks      *keylock.Lock
	Cfg        config.Config

	StartedAt time.Time

	now func() time.Time
}

// New finishes service construction. Fields are wired by the caller; this
// stamps the start time and the clock.
func New(s *Service) *Service {
	s.StartedAt = time.Now().UTC()
	s.now = time.Now
	return s
}

// SetClock overrides the service clock and pushes it into every engine
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.Pipeline.SetClock(now)
	s.Recall.SetClock(now)
	s.Frames.SetClock(now)
	s.Briefings.SetClock(now)
	s.Anticipate.SetClock(now)
	s.Behavioral.SetClock(now)
}

// LoopView is an open loop with its derived overdue flag
type LoopView struct {
	types.OpenLoop
	IsOverdue bool `json:"is_overdue"`
}

// LoopOptions narrows ListLoops
type LoopOptions struct {
	Owner          string
	Person         string
	IncludeOverdue bool
}

// ListLoops returns the user's open loops, soonest deadline first. With
// IncludeOverdue false, loops already past due drop out.
func (s *Service) ListLoops(ctx context.Context, user string, opts LoopOptions) ([]LoopView, error) {
	if user == "" {
		user = s.Cfg.DefaultUser
	}
	loops, err := s.Store.FindLoops(ctx, store.LoopFilter{User: user, Person: opts.Person})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := make([]LoopView, 0, len(loops))
	for _, l := range loops {
		if opts.Owner != "" && l.Owner != opts.Owner {
			continue
		}
		overdue := l.IsOverdue(now)
		if overdue && !opts.IncludeOverdue {
			continue
		}
		out = append(out, LoopView{OpenLoop: l, IsOverdue: overdue})
	}
	return out, nil
}

// CloseLoop closes a loop. Re-closing is a no-op returning the original
// closed_at.
func (s *Service) CloseLoop(ctx context.Context, loopID, note string) (*types.OpenLoop, error) {
	if loopID == "" {
		return nil, errs.E(errs.InvalidInput, "loopId is required")
	}
	return s.Store.CloseLoop(ctx, loopID, s.now().UTC(), note)
}

// Relevant is the whatsRelevant response: the current context plus the
// memories that matter in it
type Relevant struct {
	Frame    *types.ContextFrame      `json:"frame,omitempty"`
	Unified  *types.UnifiedContext    `json:"unified,omitempty"`
	Snapshot *types.RelevanceSnapshot `json:"snapshot,omitempty"`
	Memories []recall.Result          `json:"memories,omitempty"`
}

// WhatsRelevant combines the context lookup with a recall scoped to the
// people currently in context
func (s *Service) WhatsRelevant(ctx context.Context, user, deviceID string, unified bool) (*Relevant, error) {
	f, uc, snap, err := s.Frames.WhatMattersNow(ctx, user, deviceID, unified)
	if err != nil {
		return nil, err
	}
	rel := &Relevant{Frame: f, Unified: uc, Snapshot: snap}

	var people []string
	query := ""
	if uc != nil {
		people = uc.People
		query = uc.Activity
	} else if f != nil {
		if f.People != nil {
			people = f.People.Values
		}
		if f.Activity != nil {
			query = f.Activity.Value
		}
	}

	memories, err := s.Recall.Recall(ctx, user, query, recall.Options{Limit: 5, People: people})
	if err != nil {
		return nil, err
	}
	rel.Memories = memories
	return rel, nil
}
