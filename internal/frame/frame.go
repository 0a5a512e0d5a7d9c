// Package frame manages per-device context frames, the unified fusion view,
// and the relevance snapshots computed on every context write.
package frame

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/memento/internal/anticipate"
	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

// userLevelDevice is the synthetic frame used when a client never supplies
// a device id. clearContext without a device only ever touches this one.
const userLevelDevice = "user-level"

// snapshotWindow bounds the upcoming-events slice of a relevance snapshot
const snapshotWindow = 14 * 24 * time.Hour

// Observer receives the context observation emitted by every SetContext.
// The anticipation engine registers here; a nil observer drops observations.
type Observer func(ctx context.Context, o types.Observation)

// Manager serializes frame writes per (user, device) and computes snapshots
type Manager struct {
	store    *store.Store
	locks    *keylock.Lock
	cfg      config.Config
	observer Observer

	now func() time.Time
}

// New builds a frame manager
func New(s *store.Store, locks *keylock.Lock, cfg config.Config) *Manager {
	return &Manager{store: s, locks: locks, cfg: cfg, now: time.Now}
}

// SetObserver registers the observation sink
func (m *Manager) SetObserver(obs Observer) {
	m.observer = obs
}

// SetClock overrides the manager clock
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Update carries the dimensions a SetContext call provides. Nil pointers
// leave the stored dimension untouched.
type Update struct {
	Location *string
	People   []string
	Activity *string
	Mood     *string
	Calendar *string
}

// Device identifies the frame a context write lands in
type Device struct {
	ID   string
	Type types.DeviceType
}

// SetContext updates the provided dimensions of one device frame and
// returns the frame with its relevance snapshot
func (m *Manager) SetContext(ctx context.Context, user string, upd Update, dev Device) (*types.ContextFrame, *types.RelevanceSnapshot, error) {
	if user == "" {
		user = m.cfg.DefaultUser
	}
	if dev.ID == "" {
		dev.ID = userLevelDevice
	}
	if dev.Type == "" {
		dev.Type = types.DeviceAPI
	}

	release := m.locks.Acquire("frame:" + user + "|" + dev.ID)
	defer release()

	now := m.now().UTC()
	f, err := m.store.GetFrame(ctx, user, dev.ID)
	if errs.Is(err, errs.NotFound) {
		if err := m.evictIfFull(ctx, user, now); err != nil {
			return nil, nil, err
		}
		f = &types.ContextFrame{User: user, DeviceID: dev.ID}
	} else if err != nil {
		return nil, nil, err
	}
	f.DeviceType = dev.Type
	f.LastUpdated = now

	if upd.Location != nil {
		f.Location = &types.Dimension{Value: *upd.Location, Provenance: types.ProvUser, SetAt: now}
	}
	if upd.Activity != nil {
		f.Activity = &types.Dimension{Value: *upd.Activity, Provenance: types.ProvUser, SetAt: now}
	}
	if upd.Mood != nil {
		f.Mood = &types.Dimension{Value: *upd.Mood, Provenance: types.ProvUser, SetAt: now}
	}
	if upd.Calendar != nil {
		f.Calendar = &types.Dimension{Value: *upd.Calendar, Provenance: types.ProvUser, SetAt: now}
	}
	if upd.People != nil {
		people := m.canonicalize(ctx, user, upd.People)
		f.People = &types.ListDimension{Values: people, Provenance: types.ProvUser, SetAt: now}
	}

	if err := m.store.UpsertFrame(ctx, f); err != nil {
		return nil, nil, err
	}
	logging.Debug("frame", "set context user=%s device=%s", user, dev.ID)

	if m.observer != nil {
		m.observer(ctx, anticipate.FromFrame(f, now))
	}

	snap, err := m.Snapshot(ctx, user, framePeople(f))
	if err != nil {
		return nil, nil, err
	}
	return f, snap, nil
}

// evictIfFull drops the oldest frame when the device cap is reached,
// preferring frames outside the fusion window
func (m *Manager) evictIfFull(ctx context.Context, user string, now time.Time) error {
	frames, err := m.store.ListFrames(ctx, user)
	if err != nil {
		return err
	}
	if len(frames) < m.cfg.MaxDevicesPerUser {
		return nil
	}

	// ListFrames is newest-first; walk from the back
	victim := frames[len(frames)-1]
	for i := len(frames) - 1; i >= 0; i-- {
		if now.Sub(frames[i].LastUpdated) > m.cfg.UnifiedFusionWindow {
			victim = frames[i]
			break
		}
	}
	logging.Info("frame", "device cap reached for %s, evicting %s", user, victim.DeviceID)
	return m.store.DeleteFrame(ctx, user, victim.DeviceID)
}

// WhatMattersNow returns the current context and its snapshot. A missing
// device id with unified=false is a NotFound: clients must set context first.
func (m *Manager) WhatMattersNow(ctx context.Context, user, deviceID string, unified bool) (*types.ContextFrame, *types.UnifiedContext, *types.RelevanceSnapshot, error) {
	if user == "" {
		user = m.cfg.DefaultUser
	}

	if unified {
		uc, err := m.Unified(ctx, user)
		if err != nil {
			return nil, nil, nil, err
		}
		snap, err := m.Snapshot(ctx, user, uc.People)
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, uc, snap, nil
	}

	if deviceID == "" {
		return nil, nil, nil, errs.E(errs.NotFound, "no device context: set context first or request unified=true")
	}
	f, err := m.store.GetFrame(ctx, user, deviceID)
	if err != nil {
		return nil, nil, nil, err
	}
	snap, err := m.Snapshot(ctx, user, framePeople(f))
	if err != nil {
		return nil, nil, nil, err
	}
	return f, nil, snap, nil
}

// Unified computes the fused view over the user's frames
func (m *Manager) Unified(ctx context.Context, user string) (*types.UnifiedContext, error) {
	if user == "" {
		user = m.cfg.DefaultUser
	}
	frames, err := m.store.ListFrames(ctx, user)
	if err != nil {
		return nil, err
	}
	uc := Fuse(user, frames, m.now().UTC(), m.cfg.UnifiedFusionWindow)
	return &uc, nil
}

// ActiveFrame returns the most recently updated frame, or nil when the user
// has none. Salience scoring uses this as the context snapshot.
func (m *Manager) ActiveFrame(ctx context.Context, user string) (*types.ContextFrame, error) {
	frames, err := m.store.ListFrames(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}
	return &frames[0], nil
}

// ClearContext clears dimensions. Empty dims clears everything; an empty
// device id touches only the synthetic user-level frame.
func (m *Manager) ClearContext(ctx context.Context, user string, dims []string, deviceID string) (*types.ContextFrame, error) {
	if user == "" {
		user = m.cfg.DefaultUser
	}
	if deviceID == "" {
		deviceID = userLevelDevice
	}

	release := m.locks.Acquire("frame:" + user + "|" + deviceID)
	defer release()

	f, err := m.store.GetFrame(ctx, user, deviceID)
	if err != nil {
		return nil, err
	}

	clearAll := len(dims) == 0
	want := make(map[string]bool, len(dims))
	for _, d := range dims {
		want[strings.ToLower(d)] = true
	}
	if clearAll || want["location"] {
		f.Location = nil
	}
	if clearAll || want["people"] {
		f.People = nil
	}
	if clearAll || want["activity"] {
		f.Activity = nil
	}
	if clearAll || want["mood"] {
		f.Mood = nil
	}
	if clearAll || want["calendar"] {
		f.Calendar = nil
	}
	f.LastUpdated = m.now().UTC()

	if err := m.store.UpsertFrame(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ListDevices summarizes the user's frames with an active flag
func (m *Manager) ListDevices(ctx context.Context, user string) ([]types.DeviceSummary, error) {
	if user == "" {
		user = m.cfg.DefaultUser
	}
	frames, err := m.store.ListFrames(ctx, user)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	out := make([]types.DeviceSummary, 0, len(frames))
	for _, f := range frames {
		out = append(out, types.DeviceSummary{
			DeviceID:    f.DeviceID,
			DeviceType:  f.DeviceType,
			LastUpdated: f.LastUpdated,
			Active:      now.Sub(f.LastUpdated) <= m.cfg.UnifiedFusionWindow,
		})
	}
	return out, nil
}

// Snapshot assembles the per-person digests for a set of people: open
// loops, events inside the next two weeks, and recent high-salience
// memories, plus pooled topics and sensitivities
func (m *Manager) Snapshot(ctx context.Context, user string, people []string) (*types.RelevanceSnapshot, error) {
	now := m.now().UTC()
	snap := &types.RelevanceSnapshot{ComputedAt: now}

	topicSet := make(map[string]bool)
	sensSet := make(map[string]bool)

	for _, person := range people {
		digest := types.PersonDigest{Person: person}

		loops, err := m.store.FindLoops(ctx, store.LoopFilter{User: user, Person: person, Limit: 5})
		if err != nil {
			return nil, err
		}
		digest.OpenLoops = loops

		horizon := now.Add(snapshotWindow)
		events, err := m.store.FindEvents(ctx, store.EventFilter{User: user, Person: person, From: &now, To: &horizon, Limit: 5})
		if err != nil {
			return nil, err
		}
		digest.UpcomingEvents = events

		memories, err := m.store.FindMemories(ctx, store.MemoryFilter{
			User: user, People: []string{person}, MinSalience: 60, Limit: 3,
		})
		if err != nil {
			return nil, err
		}
		for _, mem := range memories {
			digest.RecentMemories = append(digest.RecentMemories, types.MemoryRef{
				ID: mem.ID, Text: mem.Text, Salience: mem.Salience, CreatedAt: mem.CreatedAt,
			})
			for _, t := range mem.AllTopics() {
				topicSet[t] = true
			}
		}

		if r, err := m.store.GetRelationship(ctx, user, person); err == nil {
			for _, s := range r.Sensitivities {
				sensSet[s] = true
			}
		}

		snap.AboutPeople = append(snap.AboutPeople, digest)
	}

	snap.SuggestedTopics = sortedKeys(topicSet)
	snap.Sensitivities = sortedKeys(sensSet)
	return snap, nil
}

// canonicalize folds people names through the relationship alias table
func (m *Manager) canonicalize(ctx context.Context, user string, people []string) []string {
	relationships, err := m.store.ListRelationships(ctx, user)
	if err != nil {
		relationships = nil
	}
	f := extract.Canonicalize(types.Features{People: people}, extract.BuildAliases(relationships))
	return f.People
}

func framePeople(f *types.ContextFrame) []string {
	if f.People == nil {
		return nil
	}
	return f.People.Values
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
