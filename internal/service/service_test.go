package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/memento/internal/anticipate"
	"github.com/vthunder/memento/internal/behavioral"
	"github.com/vthunder/memento/internal/briefing"
	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/frame"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/pipeline"
	"github.com/vthunder/memento/internal/recall"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
	"github.com/vthunder/memento/internal/vault"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func setupService(t *testing.T) *Service {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memento.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	locks := keylock.New()
	sealer, err := vault.NewSealer("")
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	pipe := pipeline.New(s, nil, nil, nil, extract.New(nil, nil, 0), sealer, locks, cfg)
	rec := recall.New(s, nil, nil, nil, cfg)
	frames := frame.New(s, locks, cfg)

	svc := New(&Service{
		Store:      s,
		Pipeline:   pipe,
		Recall:     rec,
		Frames:     frames,
		Briefings:  briefing.New(s, cfg),
		Anticipate: anticipate.New(s, rec, locks, cfg),
		Behavioral: behavioral.New(s, locks, cfg),
		Locks:      locks,
		Cfg:        cfg,
	})
	svc.SetClock(func() time.Time { return testNow })
	return svc
}

func storeText(t *testing.T, svc *Service, user, text string) string {
	t.Helper()
	res, err := svc.Pipeline.Store(context.Background(), user, text, nil, false)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	return res.ID
}

func TestListLoopsOverdueFilter(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	past := testNow.Add(-48 * time.Hour)
	future := testNow.Add(48 * time.Hour)
	loops := []types.OpenLoop{
		{ID: "l-overdue", User: "alice", Description: "late reply", Owner: "self", DueDate: &past, LoopType: "commitment", CreatedAt: testNow.Add(-72 * time.Hour)},
		{ID: "l-due", User: "alice", Description: "send recipe", Owner: "self", OtherParty: "Sarah", DueDate: &future, LoopType: "commitment", CreatedAt: testNow},
		{ID: "l-theirs", User: "alice", Description: "contract", Owner: "Maria", OtherParty: "Maria", LoopType: "waiting", CreatedAt: testNow},
	}
	for i := range loops {
		if err := svc.Store.CreateLoop(ctx, &loops[i]); err != nil {
			t.Fatalf("CreateLoop failed: %v", err)
		}
	}

	all, err := svc.ListLoops(ctx, "alice", LoopOptions{IncludeOverdue: true})
	if err != nil {
		t.Fatalf("ListLoops failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d loops, want 3", len(all))
	}
	overdueSeen := false
	for _, l := range all {
		if l.ID == "l-overdue" {
			overdueSeen = true
			if !l.IsOverdue {
				t.Error("l-overdue not flagged overdue")
			}
		}
	}
	if !overdueSeen {
		t.Error("overdue loop missing")
	}

	current, err := svc.ListLoops(ctx, "alice", LoopOptions{IncludeOverdue: false})
	if err != nil {
		t.Fatalf("ListLoops failed: %v", err)
	}
	if len(current) != 2 {
		t.Errorf("got %d loops with overdue excluded, want 2", len(current))
	}

	mine, err := svc.ListLoops(ctx, "alice", LoopOptions{Owner: "self", IncludeOverdue: true})
	if err != nil {
		t.Fatalf("ListLoops failed: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("got %d self loops, want 2", len(mine))
	}
}

func TestCloseLoopIdempotent(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	if err := svc.Store.CreateLoop(ctx, &types.OpenLoop{
		ID: "l1", User: "alice", Description: "send recipe", Owner: "self",
		LoopType: "commitment", CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("CreateLoop failed: %v", err)
	}

	first, err := svc.CloseLoop(ctx, "l1", "done")
	if err != nil {
		t.Fatalf("CloseLoop failed: %v", err)
	}
	if first.ClosedAt == nil {
		t.Fatal("closed_at not set")
	}

	again, err := svc.CloseLoop(ctx, "l1", "done again")
	if err != nil {
		t.Fatalf("re-close failed: %v", err)
	}
	if !again.ClosedAt.Equal(*first.ClosedAt) {
		t.Errorf("re-close moved closed_at: %v -> %v", first.ClosedAt, again.ClosedAt)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := setupService(t)
	dst := setupService(t)
	ctx := context.Background()

	id1 := storeText(t, src, "alice", "Sarah is allergic to shellfish. I'll send her that recipe by Friday")
	id2 := storeText(t, src, "alice", "Met Tom at the gym")

	doc, err := src.ExportMemories(ctx, "alice", false)
	if err != nil {
		t.Fatalf("ExportMemories failed: %v", err)
	}
	if len(doc.Memories) != 2 {
		t.Fatalf("exported %d memories", len(doc.Memories))
	}
	if doc.Checksum == "" || doc.Version != 1 {
		t.Errorf("doc header = version %d checksum %q", doc.Version, doc.Checksum)
	}

	res, err := dst.ImportMemories(ctx, doc, false)
	if err != nil {
		t.Fatalf("ImportMemories failed: %v", err)
	}
	if res.Imported != 2 || res.Skipped != 0 {
		t.Errorf("import result = %+v", res)
	}
	if res.LoopsCreated != 1 {
		t.Errorf("loops created = %d, want the commitment rederived", res.LoopsCreated)
	}

	for _, id := range []string{id1, id2} {
		orig, err := src.Store.GetMemory(ctx, id)
		if err != nil {
			t.Fatalf("GetMemory failed: %v", err)
		}
		got, err := dst.Store.GetMemory(ctx, id)
		if err != nil {
			t.Fatalf("imported memory %s missing: %v", id, err)
		}
		if got.Text != orig.Text || got.Salience != orig.Salience || got.Tier != orig.Tier {
			t.Errorf("memory %s mutated in transit", id)
		}
		if len(got.Features.People) != len(orig.Features.People) {
			t.Errorf("memory %s lost people", id)
		}
	}

	// importing again skips every existing id
	res, err = dst.ImportMemories(ctx, doc, false)
	if err != nil {
		t.Fatalf("re-import failed: %v", err)
	}
	if res.Imported != 0 || res.Skipped != 2 {
		t.Errorf("re-import result = %+v", res)
	}
}

func TestImportSkipRederivation(t *testing.T) {
	src := setupService(t)
	dst := setupService(t)
	ctx := context.Background()

	storeText(t, src, "alice", "I'll send Sarah that recipe by Friday")
	doc, err := src.ExportMemories(ctx, "alice", false)
	if err != nil {
		t.Fatalf("ExportMemories failed: %v", err)
	}

	res, err := dst.ImportMemories(ctx, doc, true)
	if err != nil {
		t.Fatalf("ImportMemories failed: %v", err)
	}
	if res.LoopsCreated != 0 || res.EventsCreated != 0 {
		t.Errorf("rederivation ran despite the skip: %+v", res)
	}
	loops, _ := dst.Store.FindLoops(ctx, store.LoopFilter{User: "alice"})
	if len(loops) != 0 {
		t.Errorf("loops = %d after skipRederivation", len(loops))
	}
}

func TestImportChecksumMismatch(t *testing.T) {
	src := setupService(t)
	dst := setupService(t)
	ctx := context.Background()

	storeText(t, src, "alice", "Met Tom at the gym")
	doc, err := src.ExportMemories(ctx, "alice", false)
	if err != nil {
		t.Fatalf("ExportMemories failed: %v", err)
	}

	doc.Memories[0].Text = "tampered"
	_, err = dst.ImportMemories(ctx, doc, false)
	if !errs.Is(err, errs.PreconditionFailed) {
		t.Errorf("got %v, want precondition failed", err)
	}
}

func TestExportIncludeForgotten(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	keep := storeText(t, svc, "alice", "Met Tom at the gym")
	hide := storeText(t, svc, "alice", "Awkward dinner story")
	if _, err := svc.Pipeline.Forget(ctx, hide, types.ForgetSuppress, "test"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}

	doc, err := svc.ExportMemories(ctx, "alice", false)
	if err != nil {
		t.Fatalf("ExportMemories failed: %v", err)
	}
	if len(doc.Memories) != 1 || doc.Memories[0].ID != keep {
		t.Errorf("default export leaked forgotten memories: %d", len(doc.Memories))
	}

	doc, err = svc.ExportMemories(ctx, "alice", true)
	if err != nil {
		t.Fatalf("ExportMemories failed: %v", err)
	}
	if len(doc.Memories) != 2 {
		t.Errorf("include_forgotten export = %d memories, want 2", len(doc.Memories))
	}
}

func TestWhatsRelevant(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	storeText(t, svc, "alice", "Sarah is allergic to shellfish")
	if _, _, err := svc.Frames.SetContext(ctx, "alice", frame.Update{
		People: []string{"Sarah"},
	}, frame.Device{ID: "phone", Type: types.DeviceMobile}); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	rel, err := svc.WhatsRelevant(ctx, "alice", "phone", false)
	if err != nil {
		t.Fatalf("WhatsRelevant failed: %v", err)
	}
	if rel.Frame == nil || rel.Snapshot == nil {
		t.Fatalf("relevant = %+v", rel)
	}
	if len(rel.Memories) != 1 {
		t.Errorf("memories = %d, want the Sarah memory", len(rel.Memories))
	}

	// unified view works without a device id
	rel, err = svc.WhatsRelevant(ctx, "alice", "", true)
	if err != nil {
		t.Fatalf("WhatsRelevant unified failed: %v", err)
	}
	if rel.Unified == nil {
		t.Error("unified view missing")
	}
}

func TestGetStatus(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	storeText(t, svc, "alice", "Met Tom at the gym")
	st, err := svc.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.Counts.Memories != 1 {
		t.Errorf("memories = %d, want 1", st.Counts.Memories)
	}
	if st.UptimeSeconds < 0 {
		t.Errorf("uptime = %d", st.UptimeSeconds)
	}
}
