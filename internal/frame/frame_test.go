package frame

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setupManager(t *testing.T) (*Manager, *store.Store, *clock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memento.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c := &clock{t: baseTime}
	m := New(s, keylock.New(), config.Default())
	m.SetClock(c.now)
	return m, s, c
}

func strPtr(s string) *string { return &s }

func TestSetContextCreatesFrame(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	f, snap, err := m.SetContext(ctx, "alice", Update{
		Location: strPtr("office"),
		People:   []string{"Sarah"},
		Activity: strPtr("sprint planning"),
	}, Device{ID: "desktop-1", Type: types.DeviceDesktop})
	if err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	if f.Location == nil || f.Location.Value != "office" {
		t.Errorf("location = %+v", f.Location)
	}
	if f.Location.Provenance != types.ProvUser {
		t.Errorf("provenance = %s, want user", f.Location.Provenance)
	}
	if f.Mood != nil {
		t.Errorf("mood should stay unset, got %+v", f.Mood)
	}
	if snap == nil || len(snap.AboutPeople) != 1 {
		t.Fatalf("snapshot = %+v, want one person digest", snap)
	}
	if snap.AboutPeople[0].Person != "Sarah" {
		t.Errorf("digest person = %q", snap.AboutPeople[0].Person)
	}
}

func TestSetContextPartialUpdate(t *testing.T) {
	m, _, c := setupManager(t)
	ctx := context.Background()
	dev := Device{ID: "mobile-1", Type: types.DeviceMobile}

	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("home")}, dev); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	c.t = c.t.Add(5 * time.Minute)
	f, _, err := m.SetContext(ctx, "alice", Update{Mood: strPtr("tired")}, dev)
	if err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	if f.Location == nil || f.Location.Value != "home" {
		t.Errorf("location lost on partial update: %+v", f.Location)
	}
	if !f.Location.SetAt.Equal(baseTime) {
		t.Errorf("location set_at moved: %v", f.Location.SetAt)
	}
	if f.Mood == nil || f.Mood.Value != "tired" {
		t.Errorf("mood = %+v", f.Mood)
	}
}

func TestFusionMobileWinsLocation(t *testing.T) {
	m, _, c := setupManager(t)
	ctx := context.Background()

	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("park"), Mood: strPtr("relaxed")},
		Device{ID: "phone", Type: types.DeviceMobile}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	c.t = c.t.Add(2 * time.Minute)
	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("office"), Activity: strPtr("writing docs")},
		Device{ID: "laptop", Type: types.DeviceDesktop}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	uc, err := m.Unified(ctx, "alice")
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}
	// desktop wrote later, but mobile owns location and mood
	if uc.Location != "park" || uc.LocationDevice != "phone" {
		t.Errorf("location = %q from %q, want park from phone", uc.Location, uc.LocationDevice)
	}
	if uc.Mood != "relaxed" {
		t.Errorf("mood = %q, want relaxed", uc.Mood)
	}
	if uc.Activity != "writing docs" {
		t.Errorf("activity = %q, want the most recent setter", uc.Activity)
	}
	if uc.PrimaryDevice != "laptop" {
		t.Errorf("primary = %q, want the most recent writer", uc.PrimaryDevice)
	}
	if uc.ActiveDevices != 2 {
		t.Errorf("active devices = %d, want 2", uc.ActiveDevices)
	}
}

func TestFusionDropsStaleDevices(t *testing.T) {
	m, _, c := setupManager(t)
	ctx := context.Background()

	// desktop wrote 31 minutes before the read, phone 29 minutes before
	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("office"), People: []string{"Bob"}},
		Device{ID: "laptop", Type: types.DeviceDesktop}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	c.t = c.t.Add(2 * time.Minute)
	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("park"), People: []string{"Sarah"}},
		Device{ID: "phone", Type: types.DeviceMobile}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	c.t = c.t.Add(29 * time.Minute)
	uc, err := m.Unified(ctx, "alice")
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}
	if uc.ActiveDevices != 1 {
		t.Fatalf("active devices = %d, want 1 (desktop is stale)", uc.ActiveDevices)
	}
	if uc.Location != "park" {
		t.Errorf("location = %q, want park", uc.Location)
	}
	if len(uc.People) != 1 || uc.People[0] != "Sarah" {
		t.Errorf("people = %v, stale device must not contribute", uc.People)
	}
}

func TestFusionPeopleUnion(t *testing.T) {
	m, _, c := setupManager(t)
	ctx := context.Background()

	if _, _, err := m.SetContext(ctx, "alice", Update{People: []string{"Sarah", "Bob"}},
		Device{ID: "phone", Type: types.DeviceMobile}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	c.t = c.t.Add(time.Minute)
	if _, _, err := m.SetContext(ctx, "alice", Update{People: []string{"bob", "Tom"}},
		Device{ID: "laptop", Type: types.DeviceDesktop}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	uc, err := m.Unified(ctx, "alice")
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}
	if len(uc.People) != 3 {
		t.Errorf("people = %v, want case-folded union of 3", uc.People)
	}
}

func TestWhatMattersNowNeedsDeviceOrUnified(t *testing.T) {
	m, _, _ := setupManager(t)
	_, _, _, err := m.WhatMattersNow(context.Background(), "alice", "", false)
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestClearContextDimensions(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()
	dev := Device{ID: "phone", Type: types.DeviceMobile}

	if _, _, err := m.SetContext(ctx, "alice", Update{
		Location: strPtr("home"), Mood: strPtr("tired"), People: []string{"Sarah"},
	}, dev); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	f, err := m.ClearContext(ctx, "alice", []string{"mood"}, "phone")
	if err != nil {
		t.Fatalf("ClearContext failed: %v", err)
	}
	if f.Mood != nil {
		t.Errorf("mood survived the clear: %+v", f.Mood)
	}
	if f.Location == nil {
		t.Errorf("location cleared but only mood was named")
	}

	f, err = m.ClearContext(ctx, "alice", nil, "phone")
	if err != nil {
		t.Fatalf("ClearContext failed: %v", err)
	}
	if f.Location != nil || f.People != nil {
		t.Errorf("clear-all left dimensions: %+v", f)
	}
}

func TestDeviceEviction(t *testing.T) {
	m, s, c := setupManager(t)
	m.cfg.MaxDevicesPerUser = 3
	ctx := context.Background()

	for i, id := range []string{"d1", "d2", "d3"} {
		c.t = baseTime.Add(time.Duration(i) * time.Minute)
		if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("x")},
			Device{ID: id, Type: types.DeviceDesktop}); err != nil {
			t.Fatalf("SetContext failed: %v", err)
		}
	}

	// a fourth device pushes out the oldest
	c.t = baseTime.Add(time.Hour)
	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("y")},
		Device{ID: "d4", Type: types.DeviceMobile}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	frames, err := s.ListFrames(ctx, "alice")
	if err != nil {
		t.Fatalf("ListFrames failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3 after eviction", len(frames))
	}
	for _, f := range frames {
		if f.DeviceID == "d1" {
			t.Errorf("oldest device d1 survived eviction")
		}
	}
}

func TestListDevicesActiveFlag(t *testing.T) {
	m, _, c := setupManager(t)
	ctx := context.Background()

	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("home")},
		Device{ID: "phone", Type: types.DeviceMobile}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	c.t = c.t.Add(45 * time.Minute)
	if _, _, err := m.SetContext(ctx, "alice", Update{Location: strPtr("office")},
		Device{ID: "laptop", Type: types.DeviceDesktop}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	devices, err := m.ListDevices(ctx, "alice")
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices", len(devices))
	}
	for _, d := range devices {
		switch d.DeviceID {
		case "phone":
			if d.Active {
				t.Errorf("phone should be inactive after 45 minutes")
			}
		case "laptop":
			if !d.Active {
				t.Errorf("laptop should be active")
			}
		}
	}
}

func TestObserverReceivesObservation(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	var got []types.Observation
	m.SetObserver(func(ctx context.Context, o types.Observation) {
		got = append(got, o)
	})

	if _, _, err := m.SetContext(ctx, "alice", Update{
		Location: strPtr("gym"), Activity: strPtr("workout"),
	}, Device{ID: "phone", Type: types.DeviceMobile}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("observer saw %d observations, want 1", len(got))
	}
	o := got[0]
	if o.User != "alice" || o.Activity != "workout" {
		t.Errorf("observation = %+v", o)
	}
	if o.TimeOfDay != "morning" {
		t.Errorf("time of day = %q, want morning for 09:00", o.TimeOfDay)
	}
	if o.LocationBucket == "" {
		t.Errorf("location bucket missing")
	}
}

func TestSnapshotSurfacesLoopsAndSensitivities(t *testing.T) {
	m, s, _ := setupManager(t)
	ctx := context.Background()

	if err := s.CreateLoop(ctx, &types.OpenLoop{
		ID: "l1", User: "alice", Description: "send the recipe",
		Owner: "self", OtherParty: "Sarah", LoopType: "commitment", CreatedAt: baseTime,
	}); err != nil {
		t.Fatalf("CreateLoop failed: %v", err)
	}
	if err := s.UpsertRelationship(ctx, &types.Relationship{
		User: "alice", Name: "Sarah", Trend: types.TrendStable,
		Sensitivities: []string{"health"}, ColdThresholdDays: 30,
	}); err != nil {
		t.Fatalf("UpsertRelationship failed: %v", err)
	}

	snap, err := m.Snapshot(ctx, "alice", []string{"Sarah"})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.AboutPeople) != 1 {
		t.Fatalf("digests = %d", len(snap.AboutPeople))
	}
	if len(snap.AboutPeople[0].OpenLoops) != 1 {
		t.Errorf("open loops = %d, want 1", len(snap.AboutPeople[0].OpenLoops))
	}
	if len(snap.Sensitivities) != 1 || snap.Sensitivities[0] != "health" {
		t.Errorf("sensitivities = %v", snap.Sensitivities)
	}
}
