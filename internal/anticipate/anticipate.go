// Package anticipate learns recurring context patterns from observations
// and turns them, together with upcoming calendar events, into anticipated
// contexts with pre-surfaced memories.
package anticipate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/recall"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

const (
	// countSaturation is where the count half of confidence maxes out
	countSaturation = 30

	// decayFloor retires formed patterns whose confidence collapsed
	decayFloor = 0.2

	maxOutlookSwitches = 5
)

// Recaller is the slice of the retrieval engine anticipation needs for
// suggested memories
type Recaller interface {
	Recall(ctx context.Context, user, query string, opts recall.Options) ([]recall.Result, error)
}

// Engine runs observation ingestion, pattern formation, and prediction
type Engine struct {
	store    *store.Store
	recaller Recaller
	locks    *keylock.Lock
	cfg      config.Config

	now func() time.Time
}

// New wires an anticipation engine. A nil recaller disables suggested
// memories but not prediction.
func New(s *store.Store, recaller Recaller, locks *keylock.Lock, cfg config.Config) *Engine {
	return &Engine{store: s, recaller: recaller, locks: locks, cfg: cfg, now: time.Now}
}

// SetClock overrides the engine clock
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Observe appends one context observation to the ledger
func (e *Engine) Observe(ctx context.Context, o types.Observation) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if err := e.store.AppendObservation(ctx, &o); err != nil {
		logging.Info("anticipate", "failed to record observation for %s: %v", o.User, err)
	}
}

// RunFormation rebuilds one user's patterns from the observation ledger.
// Buckets below the formation count stay out of the pattern table.
func (e *Engine) RunFormation(ctx context.Context, user string) error {
	observations, err := e.store.ListObservations(ctx, user, time.Time{})
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		return nil
	}

	windowDays := observedDays(observations[0].ObservedAt, observations[len(observations)-1].ObservedAt)

	buckets := make(map[string][]types.Observation)
	for _, o := range observations {
		key := featureKey(o)
		buckets[key] = append(buckets[key], o)
	}

	for key, bucket := range buckets {
		if len(bucket) < e.cfg.PatternMinCount {
			continue
		}
		if err := e.updatePattern(ctx, user, key, bucket, windowDays); err != nil {
			return err
		}
	}
	return nil
}

// RunFormationAll runs formation for every user with observations. The
// hourly scheduler calls this.
func (e *Engine) RunFormationAll(ctx context.Context) {
	users, err := e.store.ObservationUsers(ctx)
	if err != nil {
		logging.Info("anticipate", "formation pass failed to list users: %v", err)
		return
	}
	for _, user := range users {
		if err := e.RunFormation(ctx, user); err != nil {
			logging.Info("anticipate", "formation pass for %s failed: %v", user, err)
		}
	}
}

func (e *Engine) updatePattern(ctx context.Context, user, key string, bucket []types.Observation, windowDays int) error {
	sample := bucket[0]

	p, err := e.store.GetPatternByKey(ctx, user, key)
	if errs.Is(err, errs.NotFound) {
		p = &types.Pattern{
			ID:              uuid.NewString(),
			User:            user,
			FeatureKey:      key,
			TimeOfDay:       sample.TimeOfDay,
			DayOfWeek:       sample.DayOfWeek,
			LocationBucket:  sample.LocationBucket,
			EventTitle:      sample.EventTitle,
			Status:          types.PatternNew,
			FirstObservedAt: bucket[0].ObservedAt,
		}
	} else if err != nil {
		return err
	}

	release := e.locks.Acquire("pattern:" + p.ID)
	defer release()

	p.Count = len(bucket)
	p.LastObservedAt = bucket[len(bucket)-1].ObservedAt
	p.Prototype = buildPrototype(bucket)
	p.Confidence = e.confidence(p.Count, p.Feedback)

	switch {
	case p.Status == types.PatternFormed && p.Confidence < decayFloor:
		p.Status = types.PatternDecayed
		logging.Info("anticipate", "pattern %s decayed at confidence %.2f", p.ID, p.Confidence)
	case p.Status != types.PatternDecayed && windowDays >= e.cfg.PatternFormationDays:
		if p.Status != types.PatternFormed {
			now := e.now().UTC()
			p.FormedAt = &now
			logging.Info("anticipate", "pattern %s formed for %s (%s, count=%d)", p.ID, user, key, p.Count)
		}
		p.Status = types.PatternFormed
	case p.Status == types.PatternNew:
		p.Status = types.PatternCandidate
	}

	return e.store.UpsertPattern(ctx, p)
}

// buildPrototype takes the mode of each feature across a bucket. People are
// kept when they appear in at least half the observations.
func buildPrototype(bucket []types.Observation) types.Prototype {
	locations := make(map[string]int)
	activities := make(map[string]int)
	people := make(map[string]int)
	for _, o := range bucket {
		if o.Location != "" {
			locations[o.Location]++
		}
		if o.Activity != "" {
			activities[o.Activity]++
		}
		for _, p := range o.People {
			people[p]++
		}
	}

	proto := types.Prototype{
		Location: mode(locations),
		Activity: mode(activities),
	}
	half := (len(bucket) + 1) / 2
	for p, n := range people {
		if n >= half {
			proto.People = append(proto.People, p)
		}
	}
	sort.Strings(proto.People)
	return proto
}

func mode(counts map[string]int) string {
	best, bestN := "", 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

// confidence combines observation count with the feedback ledger. An empty
// ledger counts as neutral so unreviewed formed patterns can still surface.
func (e *Engine) confidence(count int, feedback []types.FeedbackEntry) float64 {
	used, ignored, dismissed := 0, 0, 0
	for _, f := range feedback {
		switch f.Action {
		case types.FeedbackUsed:
			used++
		case types.FeedbackIgnored:
			ignored++
		case types.FeedbackDismissed:
			dismissed++
		}
	}

	ratio := 0.5
	if len(feedback) > 0 {
		ratio = (float64(used) + 0.5*float64(ignored)) / (float64(used+ignored+dismissed) + 1)
	}
	c := 0.5*math.Min(1, float64(count)/countSaturation) + 0.5*ratio

	c += 0.1 * float64(used)
	c -= 0.2 * float64(dismissed)
	c -= 0.02 * float64(ignored)
	return clamp01(c)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Forecast is the anticipate response: either predictions or the readiness gap
type Forecast struct {
	ReadyForPrediction bool                       `json:"ready_for_prediction"`
	DaysUntilReady     int                        `json:"days_until_ready,omitempty"`
	Predictions        []types.AnticipatedContext `json:"predictions,omitempty"`
}

// Anticipate forecasts upcoming contexts inside the look-ahead window.
// Calendar events also feed the observation ledger.
func (e *Engine) Anticipate(ctx context.Context, user string, calendar []types.CalendarEvent, lookAhead time.Duration) (*Forecast, error) {
	if user == "" {
		user = e.cfg.DefaultUser
	}
	if lookAhead <= 0 {
		lookAhead = time.Hour
	}

	for _, ev := range calendar {
		e.Observe(ctx, FromCalendar(user, ev))
	}

	count, first, last, err := e.store.ObservationSpan(ctx, user)
	if err != nil {
		return nil, err
	}
	days := 0
	if count > 0 {
		days = observedDays(first, last)
	}
	if days < e.cfg.PatternFormationDays {
		return &Forecast{DaysUntilReady: e.cfg.PatternFormationDays - days}, nil
	}

	formed, err := e.store.ListPatterns(ctx, user, types.PatternFormed)
	if err != nil {
		return nil, err
	}
	if len(formed) == 0 {
		return &Forecast{}, nil
	}

	now := e.now().UTC()
	forecast := &Forecast{ReadyForPrediction: true}
	seen := make(map[string]bool)

	add := func(p types.Pattern, trigger time.Time, eventTitle string) {
		if p.Confidence < e.cfg.MinConfidenceSurface || seen[p.ID] {
			return
		}
		seen[p.ID] = true
		forecast.Predictions = append(forecast.Predictions, e.predict(ctx, user, p, trigger, eventTitle))
	}

	for _, ev := range calendar {
		if ev.StartsAt.Before(now) || ev.StartsAt.After(now.Add(lookAhead)) {
			continue
		}
		for _, p := range formed {
			if matchesTime(p, ev.StartsAt) &&
				(p.EventTitle == "" || strings.EqualFold(p.EventTitle, ev.Title)) {
				add(p, ev.StartsAt, ev.Title)
			}
		}
	}

	// Patterns without a bound event match the window on time alone
	for _, p := range formed {
		if p.EventTitle != "" {
			continue
		}
		for _, t := range []time.Time{now, now.Add(lookAhead)} {
			if matchesTime(p, t) {
				add(p, t, "")
				break
			}
		}
	}

	sort.SliceStable(forecast.Predictions, func(i, j int) bool {
		return forecast.Predictions[i].Confidence > forecast.Predictions[j].Confidence
	})
	return forecast, nil
}

func matchesTime(p types.Pattern, t time.Time) bool {
	return p.TimeOfDay == TimeOfDay(t) && p.DayOfWeek == t.Weekday().String()
}

// predict fills one anticipated context from a pattern prototype
func (e *Engine) predict(ctx context.Context, user string, p types.Pattern, trigger time.Time, eventTitle string) types.AnticipatedContext {
	if eventTitle == "" {
		eventTitle = p.EventTitle
	}
	ac := types.AnticipatedContext{
		PatternID:          p.ID,
		TriggerTime:        trigger,
		Confidence:         p.Confidence,
		Location:           p.Prototype.Location,
		People:             p.Prototype.People,
		Activity:           p.Prototype.Activity,
		EventTitle:         eventTitle,
		SuggestedBriefings: p.Prototype.People,
	}

	if e.recaller != nil {
		query := strings.TrimSpace(strings.Join(append([]string{p.Prototype.Activity, p.Prototype.Location, eventTitle}, p.Prototype.People...), " "))
		if query != "" {
			results, err := e.recaller.Recall(ctx, user, query, recall.Options{Limit: 3})
			if err != nil {
				logging.Debug("anticipate", "suggested-memory recall failed for %s: %v", p.ID, err)
			}
			topics := make(map[string]bool)
			for _, r := range results {
				ac.SuggestedMemories = append(ac.SuggestedMemories, types.MemoryRef{
					ID: r.Memory.ID, Text: r.Memory.Text, Salience: r.Memory.Salience, CreatedAt: r.Memory.CreatedAt,
				})
				for _, t := range r.Memory.AllTopics() {
					topics[t] = true
				}
			}
			for t := range topics {
				ac.SuggestedTopics = append(ac.SuggestedTopics, t)
			}
			sort.Strings(ac.SuggestedTopics)
		}
	}
	return ac
}

// DayOutlook summarizes the day ahead from formed patterns
func (e *Engine) DayOutlook(ctx context.Context, user string, date *time.Time) (*types.DayOutlook, error) {
	if user == "" {
		user = e.cfg.DefaultUser
	}
	now := e.now().UTC()
	day := now
	if date != nil {
		day = *date
	}

	formed, err := e.store.ListPatterns(ctx, user, types.PatternFormed)
	if err != nil {
		return nil, err
	}

	out := &types.DayOutlook{
		Greeting:    greeting(now),
		GeneratedAt: now,
	}

	var todays []types.Pattern
	for _, p := range formed {
		if p.DayOfWeek == day.Weekday().String() {
			todays = append(todays, p)
		}
	}
	switch len(todays) {
	case 0:
		out.Outlook = fmt.Sprintf("No recurring patterns for %s yet.", day.Weekday())
	case 1:
		out.Outlook = fmt.Sprintf("1 recurring pattern for %s.", day.Weekday())
	default:
		out.Outlook = fmt.Sprintf("%d recurring patterns for %s.", len(todays), day.Weekday())
	}

	for _, p := range todays {
		out.Insights = append(out.Insights, describePattern(p))
	}

	forecast, err := e.Anticipate(ctx, user, nil, 12*time.Hour)
	if err != nil {
		return nil, err
	}
	switches := forecast.Predictions
	if len(switches) > maxOutlookSwitches {
		switches = switches[:maxOutlookSwitches]
	}
	out.UpcomingSwitches = switches
	return out, nil
}

func greeting(now time.Time) string {
	switch TimeOfDay(now) {
	case "morning":
		return "Good morning"
	case "afternoon":
		return "Good afternoon"
	case "evening":
		return "Good evening"
	}
	return "Hello"
}

func describePattern(p types.Pattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %ss", p.DayOfWeek, p.TimeOfDay)
	if p.Prototype.Activity != "" {
		fmt.Fprintf(&b, " you usually %s", p.Prototype.Activity)
	}
	if p.Prototype.Location != "" {
		fmt.Fprintf(&b, " at %s", p.Prototype.Location)
	}
	if len(p.Prototype.People) > 0 {
		fmt.Fprintf(&b, " with %s", strings.Join(p.Prototype.People, ", "))
	}
	fmt.Fprintf(&b, " (seen %d times, confidence %.2f)", p.Count, p.Confidence)
	return b.String()
}

// Stats is the patternStats response
type Stats struct {
	Observations       int             `json:"observations"`
	ObservedDays       int             `json:"observed_days"`
	Patterns           int             `json:"patterns"`
	Formed             int             `json:"formed"`
	ReadyForPrediction bool            `json:"ready_for_prediction"`
	DaysUntilReady     int             `json:"days_until_ready,omitempty"`
	TopPatterns        []types.Pattern `json:"top_patterns,omitempty"`
}

// PatternStats reports formation progress for a user
func (e *Engine) PatternStats(ctx context.Context, user string) (*Stats, error) {
	if user == "" {
		user = e.cfg.DefaultUser
	}

	count, first, last, err := e.store.ObservationSpan(ctx, user)
	if err != nil {
		return nil, err
	}
	st := &Stats{Observations: count}
	if count > 0 {
		st.ObservedDays = observedDays(first, last)
	}

	patterns, err := e.store.ListPatterns(ctx, user, "")
	if err != nil {
		return nil, err
	}
	st.Patterns = len(patterns)
	for _, p := range patterns {
		if p.Status == types.PatternFormed {
			st.Formed++
		}
	}
	st.ReadyForPrediction = st.ObservedDays >= e.cfg.PatternFormationDays && st.Formed > 0
	if st.ObservedDays < e.cfg.PatternFormationDays {
		st.DaysUntilReady = e.cfg.PatternFormationDays - st.ObservedDays
	}
	if len(patterns) > 3 {
		patterns = patterns[:3]
	}
	st.TopPatterns = patterns
	return st, nil
}

// Feedback appends one ledger entry and recomputes the pattern confidence
func (e *Engine) Feedback(ctx context.Context, patternID string, action types.FeedbackAction) (*types.Pattern, error) {
	switch action {
	case types.FeedbackUsed, types.FeedbackIgnored, types.FeedbackDismissed:
	default:
		return nil, errs.E(errs.InvalidInput, "unknown feedback action %q", action)
	}

	release := e.locks.Acquire("pattern:" + patternID)
	defer release()

	p, err := e.store.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}

	p.Feedback = append(p.Feedback, types.FeedbackEntry{Action: action, At: e.now().UTC()})
	p.Confidence = e.confidence(p.Count, p.Feedback)
	if p.Status == types.PatternFormed && p.Confidence < decayFloor {
		p.Status = types.PatternDecayed
	}

	if err := e.store.UpsertPattern(ctx, p); err != nil {
		return nil, err
	}
	logging.Debug("anticipate", "feedback %s on %s, confidence now %.2f", action, patternID, p.Confidence)
	return p, nil
}

// observedDays counts calendar days covered by an observation span
func observedDays(first, last time.Time) int {
	if last.Before(first) {
		return 0
	}
	return int(last.Sub(first).Hours()/24) + 1
}
