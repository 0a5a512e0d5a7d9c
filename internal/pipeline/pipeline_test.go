package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
	"github.com/vthunder/memento/internal/vault"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC) // a Tuesday

func setupPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memento.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sealer, err := vault.NewSealer("")
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	cfg := config.Default()
	p := New(s, nil, nil, nil, extract.New(nil, nil, 0), sealer, keylock.New(), cfg)
	p.SetClock(func() time.Time { return testNow })
	return p, s
}

func TestStoreAllergyAndCommitment(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	text := "Had lunch with Sarah today, she mentioned she's allergic to shellfish. I'll send her that recipe by Friday"
	res, err := p.Store(ctx, "alice", text, nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if res.Salience < 65 {
		t.Errorf("salience = %d, want >= 65 (factors %+v)", res.Salience, res.Factors)
	}
	if res.LoopsCreated != 1 {
		t.Errorf("loops created = %d, want 1", res.LoopsCreated)
	}
	if !contains(res.People, "Sarah") {
		t.Errorf("people = %v, want Sarah", res.People)
	}
	// "allergic" is a health sensitivity, so the memory is personal tier
	if res.Tier != types.TierPersonal {
		t.Errorf("tier = %s, want personal", res.Tier)
	}

	loops, err := s.FindLoops(ctx, store.LoopFilter{User: "alice"})
	if err != nil {
		t.Fatalf("FindLoops failed: %v", err)
	}
	if len(loops) != 1 {
		t.Fatalf("got %d loops, want 1", len(loops))
	}
	l := loops[0]
	if l.Owner != "self" {
		t.Errorf("owner = %q, want self", l.Owner)
	}
	if l.OtherParty != "Sarah" {
		t.Errorf("other party = %q, want Sarah", l.OtherParty)
	}
	if l.DueDate == nil {
		t.Fatal("loop has no due date")
	}
	// "by Friday" from a Tuesday resolves to 2026-03-13
	if got := l.DueDate.Format("2006-01-02"); got != "2026-03-13" {
		t.Errorf("due date = %s, want 2026-03-13", got)
	}

	// metadata is durable even though no embedder is wired
	m, err := s.GetMemory(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if m.VectorState != types.VectorSkipped {
		t.Errorf("vector state = %s, want skipped without an embedder", m.VectorState)
	}

	// the mention created a relationship
	r, err := s.GetRelationship(ctx, "alice", "Sarah")
	if err != nil {
		t.Fatalf("GetRelationship failed: %v", err)
	}
	if r.TotalInteractions != 1 {
		t.Errorf("interactions = %d, want 1", r.TotalInteractions)
	}
	if !contains(r.Sensitivities, "health") {
		t.Errorf("sensitivities = %v, want health", r.Sensitivities)
	}
}

func TestStorePreferenceAllergyHeuristicOnly(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	// no commitment cue: salience has to clear 65 on the allergy alone
	res, err := p.Store(ctx, "alice", "Sarah prefers morning meetings and is allergic to shellfish", nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if res.Salience < 65 {
		t.Errorf("salience = %d, want >= 65 (factors %+v)", res.Salience, res.Factors)
	}
	if len(res.People) != 1 || res.People[0] != "Sarah" {
		t.Errorf("people = %v, want [Sarah]", res.People)
	}
	if res.Tier != types.TierPersonal {
		t.Errorf("tier = %s, want personal", res.Tier)
	}

	// the sentence-initial mention still lands a relationship row
	r, err := s.GetRelationship(ctx, "alice", "Sarah")
	if err != nil {
		t.Fatalf("GetRelationship failed: %v", err)
	}
	if r.TotalInteractions != 1 {
		t.Errorf("interactions = %d, want 1", r.TotalInteractions)
	}
}

func TestStoreEmptyTextRejected(t *testing.T) {
	p, _ := setupPipeline(t)
	_, err := p.Store(context.Background(), "alice", "   ", nil, false)
	if !errs.Is(err, errs.InvalidInput) {
		t.Errorf("got %v, want invalid input", err)
	}
}

func TestVaultContentSealedAtRest(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	res, err := p.Store(ctx, "alice", "My bank password is hunter2", nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if res.Tier != types.TierVault {
		t.Fatalf("tier = %s, want vault", res.Tier)
	}

	m, err := s.GetMemory(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if m.Text != "" || m.NormalizedText != "" {
		t.Errorf("vault text must be empty at rest, got %q / %q", m.Text, m.NormalizedText)
	}
	if m.Envelope == nil {
		t.Fatal("vault memory has no envelope")
	}
	if m.VectorState != types.VectorSkipped {
		t.Errorf("vector state = %s, vault memories never embed", m.VectorState)
	}

	sealer, _ := vault.NewSealer("")
	text, err := sealer.Open(m.Envelope)
	if err != nil {
		t.Fatalf("Open envelope failed: %v", err)
	}
	if text != "My bank password is hunter2" {
		t.Errorf("unsealed text = %q", text)
	}
}

func TestForgetSuppressKeepsLoops(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	res, err := p.Store(ctx, "alice", "I'll send Sarah the recipe by Friday", nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	fr, err := p.Forget(ctx, res.ID, types.ForgetSuppress, "testing")
	if err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if fr.State != types.StateSuppressed {
		t.Errorf("state = %s, want suppressed", fr.State)
	}
	if fr.LoopsClosed != 0 {
		t.Errorf("suppress closed %d loops, want 0", fr.LoopsClosed)
	}

	loops, _ := s.FindLoops(ctx, store.LoopFilter{User: "alice"})
	if len(loops) != 1 {
		t.Errorf("open loops = %d, suppress must not cascade", len(loops))
	}
}

func TestForgetDeleteCascades(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	res, err := p.Store(ctx, "alice", "I'll send Sarah the recipe by Friday. Dinner with Sarah on Saturday", nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if res.LoopsCreated == 0 || res.EventsCreated == 0 {
		t.Fatalf("setup: loops=%d events=%d, want both > 0", res.LoopsCreated, res.EventsCreated)
	}

	fr, err := p.Forget(ctx, res.ID, types.ForgetDelete, "gdpr")
	if err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if fr.State != types.StatePendingDelete {
		t.Errorf("state = %s, want pending_delete", fr.State)
	}
	if fr.LoopsClosed != res.LoopsCreated {
		t.Errorf("loops closed = %d, want %d", fr.LoopsClosed, res.LoopsCreated)
	}
	if fr.EventsRemoved != res.EventsCreated {
		t.Errorf("events removed = %d, want %d", fr.EventsRemoved, res.EventsCreated)
	}

	loops, _ := s.FindLoops(ctx, store.LoopFilter{User: "alice"})
	if len(loops) != 0 {
		t.Errorf("open loops = %d after delete cascade", len(loops))
	}
}

func TestForgetUnknownMemory(t *testing.T) {
	p, _ := setupPipeline(t)
	_, err := p.Forget(context.Background(), "nope", types.ForgetSuppress, "")
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestRestoreSuppressed(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	res, err := p.Store(ctx, "alice", "Met Tom at the park", nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := p.Forget(ctx, res.ID, types.ForgetSuppress, ""); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}

	m, err := p.Restore(ctx, res.ID)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if m.Forgotten != types.StateActive {
		t.Errorf("state = %s, want active", m.Forgotten)
	}

	got, _ := s.GetMemory(ctx, res.ID)
	if got.ForgottenAt != nil {
		t.Errorf("forgotten_at still set after restore")
	}
}

func TestRestorePendingDeleteRefused(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	res, err := p.Store(ctx, "alice", "Met Tom at the park", nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := p.Forget(ctx, res.ID, types.ForgetDelete, ""); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}

	_, err = p.Restore(ctx, res.ID)
	if !errs.Is(err, errs.PreconditionFailed) {
		t.Errorf("got %v, want precondition failed", err)
	}
}

func TestForgetPerson(t *testing.T) {
	p, _ := setupPipeline(t)
	ctx := context.Background()

	texts := []string{
		"Had coffee with Maria this morning",
		"Maria will send the contract by Friday",
		"Met Tom at the gym",
	}
	for _, text := range texts {
		if _, err := p.Store(ctx, "alice", text, nil, false); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	res, err := p.ForgetPerson(ctx, "alice", "Maria", PersonForgetOpts{
		Mode:         types.ForgetSuppress,
		IncludeLoops: true,
	})
	if err != nil {
		t.Fatalf("ForgetPerson failed: %v", err)
	}
	if res.MemoriesAffected != 2 {
		t.Errorf("memories affected = %d, want 2", res.MemoriesAffected)
	}
	if res.LoopsClosed != 1 {
		t.Errorf("loops closed = %d, want 1", res.LoopsClosed)
	}
}

func TestReassociate(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	res, err := p.Store(ctx, "alice", "Talked with Sarah about the garden", nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	project := "landscaping"
	m, err := p.Reassociate(ctx, res.ID, ReassociateDiff{
		AddPeople: []string{"Tom"},
		AddTopics: []string{"plants"},
		AddTags:   []string{"weekend"},
		Project:   &project,
	}, nil)
	if err != nil {
		t.Fatalf("Reassociate failed: %v", err)
	}
	if !contains(m.Features.People, "Tom") {
		t.Errorf("people = %v, want Tom added", m.Features.People)
	}
	if !contains(m.AddedTopics, "plants") {
		t.Errorf("added topics = %v", m.AddedTopics)
	}
	if !contains(m.AddedTags, "weekend") {
		t.Errorf("added tags = %v", m.AddedTags)
	}
	if m.Project != "landscaping" {
		t.Errorf("project = %q", m.Project)
	}

	// removal and project clearing
	empty := ""
	m, err = p.Reassociate(ctx, res.ID, ReassociateDiff{
		RemovePeople: []string{"tom"}, // case-insensitive
		Project:      &empty,
	}, nil)
	if err != nil {
		t.Fatalf("Reassociate failed: %v", err)
	}
	if contains(m.Features.People, "Tom") {
		t.Errorf("people = %v, Tom should be gone", m.Features.People)
	}
	if m.Project != "" {
		t.Errorf("project = %q, want cleared", m.Project)
	}

	got, _ := s.GetMemory(ctx, res.ID)
	if got.Project != "" {
		t.Errorf("project not persisted: %q", got.Project)
	}
}

func TestRederive(t *testing.T) {
	p, s := setupPipeline(t)
	ctx := context.Background()

	due := time.Date(2026, 3, 13, 17, 0, 0, 0, time.UTC)
	m := &types.Memory{
		ID:        "m-import",
		User:      "alice",
		CreatedAt: testNow,
		Text:      "I'll call the plumber by Friday",
		Features: types.Features{
			Commitments: []types.Commitment{{
				Text: "call the plumber", Owner: "self", DueDate: &due, LoopType: "commitment",
			}},
		},
		Salience:         60,
		Tier:             types.TierGeneral,
		Forgotten:        types.StateActive,
		VectorState:      types.VectorSkipped,
		ExtractionStatus: types.ExtractionOK,
	}
	if err := s.InsertMemory(ctx, m); err != nil {
		t.Fatalf("InsertMemory failed: %v", err)
	}

	loops, events := p.Rederive(ctx, m)
	if loops != 1 || events != 0 {
		t.Errorf("rederive = %d loops %d events, want 1/0", loops, events)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
