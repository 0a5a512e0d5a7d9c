package anticipate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/recall"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

// firstMonday is a Monday at 07:30 UTC
var firstMonday = time.Date(2026, 1, 5, 7, 30, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setupEngine(t *testing.T, recaller Recaller) (*Engine, *store.Store, *clock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memento.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c := &clock{t: firstMonday}
	e := New(s, recaller, keylock.New(), config.Default())
	e.SetClock(c.now)
	return e, s, c
}

func gymObservation(at time.Time) types.Observation {
	return types.Observation{
		User:           "alice",
		ObservedAt:     at,
		TimeOfDay:      TimeOfDay(at),
		DayOfWeek:      at.Weekday().String(),
		Location:       "gym",
		LocationBucket: LocationBucket("gym"),
		People:         []string{"Alex"},
		Activity:       "workout",
	}
}

// seedWeeklyGym records n Monday-morning gym visits, one week apart
func seedWeeklyGym(t *testing.T, e *Engine, n int) time.Time {
	t.Helper()
	ctx := context.Background()
	last := firstMonday
	for i := 0; i < n; i++ {
		last = firstMonday.Add(time.Duration(i) * 7 * 24 * time.Hour)
		e.Observe(ctx, gymObservation(last))
	}
	return last
}

func TestTimeOfDayBuckets(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{4, "night"}, {5, "morning"}, {11, "morning"},
		{12, "afternoon"}, {16, "afternoon"},
		{17, "evening"}, {20, "evening"}, {21, "night"},
	}
	for _, tc := range cases {
		at := time.Date(2026, 1, 5, tc.hour, 0, 0, 0, time.UTC)
		if got := TimeOfDay(at); got != tc.want {
			t.Errorf("TimeOfDay(%02d:00) = %q, want %q", tc.hour, got, tc.want)
		}
	}
}

func TestLocationBucketNormalizes(t *testing.T) {
	if LocationBucket("The Gym") != LocationBucket("  the gym ") {
		t.Error("spelling variants landed in different buckets")
	}
	if LocationBucket("gym") == LocationBucket("office") {
		t.Error("distinct locations collided")
	}
	if LocationBucket("") != "" {
		t.Error("empty location must produce an empty bucket")
	}
}

func TestColdStartReportsDaysUntilReady(t *testing.T) {
	e, _, c := setupEngine(t, nil)
	ctx := context.Background()

	// one week of daily observations
	for i := 0; i < 7; i++ {
		e.Observe(ctx, gymObservation(firstMonday.Add(time.Duration(i)*24*time.Hour)))
	}
	c.t = firstMonday.Add(7 * 24 * time.Hour)

	forecast, err := e.Anticipate(ctx, "alice", nil, time.Hour)
	if err != nil {
		t.Fatalf("Anticipate failed: %v", err)
	}
	if forecast.ReadyForPrediction {
		t.Error("ready after one week, want a cold-start report")
	}
	if forecast.DaysUntilReady != 14 {
		t.Errorf("days until ready = %d, want 14", forecast.DaysUntilReady)
	}

	stats, err := e.PatternStats(ctx, "alice")
	if err != nil {
		t.Fatalf("PatternStats failed: %v", err)
	}
	if stats.Observations != 7 || stats.ObservedDays != 7 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DaysUntilReady != 14 {
		t.Errorf("stats days until ready = %d, want 14", stats.DaysUntilReady)
	}
}

func TestFormationBuildsFormedPattern(t *testing.T) {
	e, s, c := setupEngine(t, nil)
	ctx := context.Background()

	last := seedWeeklyGym(t, e, 18)
	c.t = last.Add(time.Hour)

	if err := e.RunFormation(ctx, "alice"); err != nil {
		t.Fatalf("RunFormation failed: %v", err)
	}

	patterns, err := s.ListPatterns(ctx, "alice", types.PatternFormed)
	if err != nil {
		t.Fatalf("ListPatterns failed: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("formed patterns = %d, want 1", len(patterns))
	}
	p := patterns[0]
	if p.TimeOfDay != "morning" || p.DayOfWeek != "Monday" {
		t.Errorf("pattern slot = %s %s", p.DayOfWeek, p.TimeOfDay)
	}
	if p.Count != 18 {
		t.Errorf("count = %d, want 18", p.Count)
	}
	if p.Confidence < 0.5 {
		t.Errorf("confidence = %.2f, want >= 0.5", p.Confidence)
	}
	if p.Prototype.Location != "gym" || p.Prototype.Activity != "workout" {
		t.Errorf("prototype = %+v", p.Prototype)
	}
	if len(p.Prototype.People) != 1 || p.Prototype.People[0] != "Alex" {
		t.Errorf("prototype people = %v", p.Prototype.People)
	}
	if p.FormedAt == nil {
		t.Error("formed_at not stamped")
	}
}

func TestSparseBucketsStayOut(t *testing.T) {
	e, s, _ := setupEngine(t, nil)
	ctx := context.Background()

	// only three samples, below the formation count
	for i := 0; i < 3; i++ {
		e.Observe(ctx, gymObservation(firstMonday.Add(time.Duration(i)*7*24*time.Hour)))
	}
	if err := e.RunFormation(ctx, "alice"); err != nil {
		t.Fatalf("RunFormation failed: %v", err)
	}

	patterns, err := s.ListPatterns(ctx, "alice", "")
	if err != nil {
		t.Fatalf("ListPatterns failed: %v", err)
	}
	if len(patterns) != 0 {
		t.Errorf("patterns = %d, sparse bucket must stay out", len(patterns))
	}
}

func TestAnticipateMondayMorning(t *testing.T) {
	e, _, c := setupEngine(t, nil)
	ctx := context.Background()

	last := seedWeeklyGym(t, e, 18)
	c.t = last.Add(time.Hour)
	if err := e.RunFormation(ctx, "alice"); err != nil {
		t.Fatalf("RunFormation failed: %v", err)
	}

	// the following Monday at 08:50
	c.t = last.Add(7 * 24 * time.Hour).Truncate(24 * time.Hour).Add(8*time.Hour + 50*time.Minute)

	forecast, err := e.Anticipate(ctx, "alice", nil, time.Hour)
	if err != nil {
		t.Fatalf("Anticipate failed: %v", err)
	}
	if !forecast.ReadyForPrediction {
		t.Fatal("not ready after 18 weeks of observations")
	}
	if len(forecast.Predictions) != 1 {
		t.Fatalf("predictions = %d, want 1", len(forecast.Predictions))
	}
	p := forecast.Predictions[0]
	if p.Confidence < 0.5 {
		t.Errorf("confidence = %.2f, want >= 0.5", p.Confidence)
	}
	if p.Location != "gym" || p.Activity != "workout" {
		t.Errorf("prediction = %+v", p)
	}
	if len(p.SuggestedBriefings) != 1 || p.SuggestedBriefings[0] != "Alex" {
		t.Errorf("suggested briefings = %v", p.SuggestedBriefings)
	}

	// Tuesday the same week matches nothing
	c.t = c.t.Add(24 * time.Hour)
	forecast, err = e.Anticipate(ctx, "alice", nil, time.Hour)
	if err != nil {
		t.Fatalf("Anticipate failed: %v", err)
	}
	if len(forecast.Predictions) != 0 {
		t.Errorf("Tuesday predictions = %d, want 0", len(forecast.Predictions))
	}
}

func TestAnticipateCalendarEvent(t *testing.T) {
	e, _, c := setupEngine(t, nil)
	ctx := context.Background()

	// weekly Monday-morning standup observed via calendar
	var last time.Time
	for i := 0; i < 18; i++ {
		last = firstMonday.Add(time.Duration(i) * 7 * 24 * time.Hour)
		e.Observe(ctx, FromCalendar("alice", types.CalendarEvent{
			Title: "Team Standup", StartsAt: last, Location: "office",
			Attendees: []string{"Bob", "Maria"},
		}))
	}
	c.t = last.Add(time.Hour)
	if err := e.RunFormation(ctx, "alice"); err != nil {
		t.Fatalf("RunFormation failed: %v", err)
	}

	nextMonday := last.Add(7 * 24 * time.Hour)
	c.t = nextMonday.Add(-30 * time.Minute)
	forecast, err := e.Anticipate(ctx, "alice", []types.CalendarEvent{
		{Title: "team standup", StartsAt: nextMonday, Location: "office"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Anticipate failed: %v", err)
	}
	if len(forecast.Predictions) != 1 {
		t.Fatalf("predictions = %d, want 1", len(forecast.Predictions))
	}
	// title matching is case-insensitive
	if forecast.Predictions[0].EventTitle != "team standup" {
		t.Errorf("event title = %q", forecast.Predictions[0].EventTitle)
	}
}

func TestFeedbackMovesConfidence(t *testing.T) {
	e, s, c := setupEngine(t, nil)
	ctx := context.Background()

	last := seedWeeklyGym(t, e, 18)
	c.t = last.Add(time.Hour)
	if err := e.RunFormation(ctx, "alice"); err != nil {
		t.Fatalf("RunFormation failed: %v", err)
	}
	patterns, _ := s.ListPatterns(ctx, "alice", types.PatternFormed)
	if len(patterns) != 1 {
		t.Fatalf("setup: %d patterns", len(patterns))
	}
	id := patterns[0].ID
	before := patterns[0].Confidence

	p, err := e.Feedback(ctx, id, types.FeedbackUsed)
	if err != nil {
		t.Fatalf("Feedback failed: %v", err)
	}
	if p.Confidence < before {
		t.Errorf("used feedback lowered confidence: %.2f -> %.2f", before, p.Confidence)
	}

	for i := 0; i < 6; i++ {
		p, err = e.Feedback(ctx, id, types.FeedbackDismissed)
		if err != nil {
			t.Fatalf("Feedback failed: %v", err)
		}
	}
	if p.Confidence >= before {
		t.Errorf("dismissals did not lower confidence: %.2f", p.Confidence)
	}
	if p.Status != types.PatternDecayed {
		t.Errorf("status = %s, want decayed after repeated dismissals", p.Status)
	}
}

func TestFeedbackValidation(t *testing.T) {
	e, _, _ := setupEngine(t, nil)

	_, err := e.Feedback(context.Background(), "p1", "loved-it")
	if !errs.Is(err, errs.InvalidInput) {
		t.Errorf("got %v, want invalid input", err)
	}
	_, err = e.Feedback(context.Background(), "missing", types.FeedbackUsed)
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

// fixedRecaller returns the same results for every query
type fixedRecaller struct {
	results []recall.Result
}

func (f *fixedRecaller) Recall(ctx context.Context, user, query string, opts recall.Options) ([]recall.Result, error) {
	return f.results, nil
}

func TestPredictionCarriesSuggestedMemories(t *testing.T) {
	rec := &fixedRecaller{results: []recall.Result{{
		Memory: types.Memory{
			ID: "m1", Text: "Alex prefers morning sessions",
			Salience: 70, CreatedAt: firstMonday,
			Features: types.Features{Topics: []string{"fitness"}},
		},
		Relevance: 0.9, Rank: 0.8,
	}}}
	e, _, c := setupEngine(t, rec)
	ctx := context.Background()

	last := seedWeeklyGym(t, e, 18)
	c.t = last.Add(time.Hour)
	if err := e.RunFormation(ctx, "alice"); err != nil {
		t.Fatalf("RunFormation failed: %v", err)
	}

	c.t = last.Add(7 * 24 * time.Hour).Truncate(24 * time.Hour).Add(8 * time.Hour)
	forecast, err := e.Anticipate(ctx, "alice", nil, time.Hour)
	if err != nil {
		t.Fatalf("Anticipate failed: %v", err)
	}
	if len(forecast.Predictions) != 1 {
		t.Fatalf("predictions = %d", len(forecast.Predictions))
	}
	p := forecast.Predictions[0]
	if len(p.SuggestedMemories) != 1 || p.SuggestedMemories[0].ID != "m1" {
		t.Errorf("suggested memories = %+v", p.SuggestedMemories)
	}
	if len(p.SuggestedTopics) != 1 || p.SuggestedTopics[0] != "fitness" {
		t.Errorf("suggested topics = %v", p.SuggestedTopics)
	}
}

func TestDayOutlook(t *testing.T) {
	e, _, c := setupEngine(t, nil)
	ctx := context.Background()

	last := seedWeeklyGym(t, e, 18)
	c.t = last.Add(time.Hour)
	if err := e.RunFormation(ctx, "alice"); err != nil {
		t.Fatalf("RunFormation failed: %v", err)
	}

	// Monday 08:00
	c.t = last.Add(7 * 24 * time.Hour).Truncate(24 * time.Hour).Add(8 * time.Hour)
	out, err := e.DayOutlook(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("DayOutlook failed: %v", err)
	}
	if out.Greeting != "Good morning" {
		t.Errorf("greeting = %q", out.Greeting)
	}
	if out.Outlook != "1 recurring pattern for Monday." {
		t.Errorf("outlook = %q", out.Outlook)
	}
	if len(out.Insights) != 1 {
		t.Fatalf("insights = %v", out.Insights)
	}
	if len(out.UpcomingSwitches) != 1 {
		t.Errorf("upcoming switches = %d, want 1", len(out.UpcomingSwitches))
	}
}

func TestObservedDays(t *testing.T) {
	if got := observedDays(firstMonday, firstMonday); got != 1 {
		t.Errorf("same-day span = %d, want 1", got)
	}
	if got := observedDays(firstMonday, firstMonday.Add(20*24*time.Hour)); got != 21 {
		t.Errorf("three-week span = %d, want 21", got)
	}
	if got := observedDays(firstMonday, firstMonday.Add(-time.Hour)); got != 0 {
		t.Errorf("inverted span = %d, want 0", got)
	}
}
