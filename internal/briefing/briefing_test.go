package briefing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func setupBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memento.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b := New(s, config.Default())
	b.SetClock(func() time.Time { return testNow })
	return b, s
}

func seedSarah(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()

	last := testNow.Add(-3 * 24 * time.Hour)
	if err := s.UpsertRelationship(ctx, &types.Relationship{
		User: "alice", Name: "Sarah", Nicknames: []string{"Sar"},
		TotalInteractions: 4, LastInteractionAt: &last,
		Trend: types.TrendStable, Sensitivities: []string{"health"},
		ColdThresholdDays: 30,
	}); err != nil {
		t.Fatalf("UpsertRelationship failed: %v", err)
	}

	memories := []struct {
		id       string
		text     string
		salience int
		topics   []string
	}{
		{"m-allergy", "Sarah is allergic to shellfish", 85, []string{"health"}},
		{"m-lunch", "Lunch with Sarah at the deli", 40, []string{"food"}},
		{"m-project", "Sarah started a pottery class", 60, []string{"pottery"}},
	}
	for i, mm := range memories {
		m := &types.Memory{
			ID: mm.id, User: "alice",
			CreatedAt:      testNow.Add(-time.Duration(i+1) * 24 * time.Hour),
			Text:           mm.text,
			NormalizedText: mm.text,
			Features:       types.Features{People: []string{"Sarah"}, Topics: mm.topics},
			Salience:       mm.salience,
			Tier:           types.TierGeneral, Forgotten: types.StateActive,
			VectorState: types.VectorSkipped, ExtractionStatus: types.ExtractionOK,
		}
		if err := s.InsertMemory(ctx, m); err != nil {
			t.Fatalf("InsertMemory failed: %v", err)
		}
	}

	due := testNow.Add(3 * 24 * time.Hour)
	if err := s.CreateLoop(ctx, &types.OpenLoop{
		ID: "l1", User: "alice", Description: "send the recipe",
		Owner: "self", OtherParty: "Sarah", DueDate: &due,
		LoopType: "commitment", SourceMemoryID: "m-allergy", CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("CreateLoop failed: %v", err)
	}

	if err := s.CreateEvent(ctx, &types.TimelineEvent{
		ID: "e1", User: "alice", Description: "Sarah's gallery opening",
		Person: "Sarah", EventDate: testNow.Add(7 * 24 * time.Hour),
		Category: "party", SourceMemoryID: "m-project", CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
}

func TestBriefingAssemblesSections(t *testing.T) {
	b, s := setupBuilder(t)
	seedSarah(t, s)

	br, err := b.Get(context.Background(), "alice", "Sarah", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if br.Person != "Sarah" {
		t.Errorf("person = %q", br.Person)
	}
	if br.Relationship == nil {
		t.Fatal("relationship missing")
	}
	if br.Relationship.DaysSince != 3 {
		t.Errorf("days since = %d, want 3", br.Relationship.DaysSince)
	}
	if len(br.OpenLoops) != 1 {
		t.Errorf("open loops = %d", len(br.OpenLoops))
	}
	if len(br.UpcomingEvents) != 1 {
		t.Errorf("upcoming events = %d", len(br.UpcomingEvents))
	}
	if len(br.RecentMemories) != 3 {
		t.Fatalf("memories = %d", len(br.RecentMemories))
	}
	// salience-first ordering
	if br.RecentMemories[0].ID != "m-allergy" {
		t.Errorf("first memory = %s, want the allergy note", br.RecentMemories[0].ID)
	}
	if len(br.Sensitivities) != 1 || br.Sensitivities[0] != "health" {
		t.Errorf("sensitivities = %v", br.Sensitivities)
	}
	// topics pooled across memories, sorted
	want := []string{"food", "health", "pottery"}
	if len(br.SuggestedTopics) != len(want) {
		t.Fatalf("topics = %v", br.SuggestedTopics)
	}
	for i, topic := range want {
		if br.SuggestedTopics[i] != topic {
			t.Errorf("topics = %v, want %v", br.SuggestedTopics, want)
			break
		}
	}
}

func TestBriefingResolvesNickname(t *testing.T) {
	b, s := setupBuilder(t)
	seedSarah(t, s)

	br, err := b.Get(context.Background(), "alice", "sar", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if br.Person != "Sarah" {
		t.Errorf("person = %q, nickname did not resolve", br.Person)
	}
}

func TestBriefingQuickModeTrims(t *testing.T) {
	b, s := setupBuilder(t)
	seedSarah(t, s)
	ctx := context.Background()

	// pad beyond the quick limit
	for i := 0; i < 5; i++ {
		m := &types.Memory{
			ID: "pad-" + string(rune('a'+i)), User: "alice",
			CreatedAt: testNow.Add(-time.Duration(10+i) * 24 * time.Hour),
			Text:      "padding", NormalizedText: "padding",
			Features: types.Features{People: []string{"Sarah"}},
			Salience: 30, Tier: types.TierGeneral, Forgotten: types.StateActive,
			VectorState: types.VectorSkipped, ExtractionStatus: types.ExtractionOK,
		}
		if err := s.InsertMemory(ctx, m); err != nil {
			t.Fatalf("InsertMemory failed: %v", err)
		}
	}

	br, err := b.Get(ctx, "alice", "Sarah", true)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(br.RecentMemories) != 3 {
		t.Errorf("quick memories = %d, want 3", len(br.RecentMemories))
	}
}

func TestBriefingUnknownPerson(t *testing.T) {
	b, _ := setupBuilder(t)
	_, err := b.Get(context.Background(), "alice", "Zorp", false)
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestBriefingMissingPersonArg(t *testing.T) {
	b, _ := setupBuilder(t)
	_, err := b.Get(context.Background(), "alice", "", false)
	if !errs.Is(err, errs.InvalidInput) {
		t.Errorf("got %v, want invalid input", err)
	}
}
