package behavioral

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

// Engine identifies message authors by stylometric fingerprint and folds
// feedback back into the fingerprints
type Engine struct {
	store *store.Store
	locks *keylock.Lock
	cfg   config.Config

	now func() time.Time
}

// New wires a behavioral engine
func New(s *store.Store, locks *keylock.Lock, cfg config.Config) *Engine {
	return &Engine{store: s, locks: locks, cfg: cfg, now: time.Now}
}

// SetClock overrides the engine clock
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// TrainSample folds one known-author message into the user's fingerprint
func (e *Engine) TrainSample(ctx context.Context, user, message string, at *time.Time) (*types.Fingerprint, error) {
	if user == "" || message == "" {
		return nil, errs.E(errs.InvalidInput, "user and message are required")
	}
	when := e.now().UTC()
	if at != nil {
		when = at.UTC()
	}
	return e.blendInto(ctx, user, BuildSignals(message, when), when)
}

// IdentifyUser scores a message against stored fingerprints. Every call
// persists a prediction so later feedback can land on it. The predicted
// user is empty when no ready fingerprint clears the threshold.
func (e *Engine) IdentifyUser(ctx context.Context, message string, candidates []string) (*types.IdentityPrediction, error) {
	if message == "" {
		return nil, errs.E(errs.InvalidInput, "message is required")
	}
	now := e.now().UTC()
	sig := BuildSignals(message, now)

	fingerprints, err := e.store.ListFingerprints(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		want := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			want[c] = true
		}
		filtered := fingerprints[:0]
		for _, f := range fingerprints {
			if want[f.User] {
				filtered = append(filtered, f)
			}
		}
		fingerprints = filtered
	}

	var (
		bestUser   string
		bestScore  float64
		bestBlocks map[string]float64
		bestReady  bool
	)
	for _, f := range fingerprints {
		score, blocks := Match(sig, f.Signals)
		if score > bestScore {
			bestUser, bestScore, bestBlocks = f.User, score, blocks
			bestReady = f.Ready(e.cfg.FingerprintReadySamples)
		}
	}

	p := &types.IdentityPrediction{
		ID:          uuid.NewString(),
		MessageHash: messageHash(message),
		Confidence:  bestScore,
		BlockScores: bestBlocks,
		Signals:     &sig,
		ObservedAt:  now,
	}
	if bestScore >= e.cfg.IdentificationThreshold && bestReady {
		p.PredictedUser = bestUser
	}

	if err := e.store.InsertPrediction(ctx, p); err != nil {
		return nil, err
	}
	logging.Debug("behavioral", "identified %q at %.2f (hash %s)", p.PredictedUser, p.Confidence, p.MessageHash[:8])
	return p, nil
}

// Feedback confirms or corrects a prediction and re-blends the prediction's
// stored signals into the right fingerprint, so confirmed predictions
// strengthen readiness. The message text is optional; when supplied it must
// match the stored hash and its signals are rebuilt from it directly.
func (e *Engine) Feedback(ctx context.Context, predictionID, message string, correct bool, actualUser string) (*types.IdentityPrediction, error) {
	if predictionID == "" {
		return nil, errs.E(errs.InvalidInput, "predictionId is required")
	}

	p, err := e.store.GetPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if message != "" && messageHash(message) != p.MessageHash {
		return nil, errs.E(errs.InvalidInput, "message does not match prediction %s", predictionID)
	}

	feedback := "confirmed"
	target := p.PredictedUser
	if !correct {
		if actualUser == "" {
			return nil, errs.E(errs.InvalidInput, "actualUserId is required when the prediction was wrong")
		}
		feedback = "corrected:" + actualUser
		target = actualUser
	}
	if target == "" {
		return nil, errs.E(errs.PreconditionFailed, "prediction %s named no user to confirm", predictionID)
	}

	now := e.now().UTC()
	if err := e.store.SetPredictionFeedback(ctx, predictionID, feedback, now); err != nil {
		return nil, err
	}

	sig := p.Signals
	if message != "" {
		s := BuildSignals(message, p.ObservedAt)
		sig = &s
	}
	if sig != nil {
		if _, err := e.blendInto(ctx, target, *sig, now); err != nil {
			return nil, err
		}
	}
	return e.store.GetPrediction(ctx, predictionID)
}

// blendInto merges new signals into a fingerprint with learning rate
// 1/(sampleCount+1), so early samples dominate and later ones refine
func (e *Engine) blendInto(ctx context.Context, user string, sig types.Signals, now time.Time) (*types.Fingerprint, error) {
	release := e.locks.Acquire("fingerprint:" + user)
	defer release()

	f, err := e.store.GetFingerprint(ctx, user)
	if errs.Is(err, errs.NotFound) {
		f = &types.Fingerprint{User: user}
	} else if err != nil {
		return nil, err
	}

	lr := 1 / float64(f.SampleCount+1)
	f.Signals = blendSignals(f.Signals, sig, lr)
	f.SampleCount++
	f.LastUpdated = now

	if err := e.store.UpsertFingerprint(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func blendSignals(old, new types.Signals, lr float64) types.Signals {
	var out types.Signals

	out.CharNGrams.Top = blendFreq(old.CharNGrams.Top, new.CharNGrams.Top, lr, topNGrams)
	out.CharNGrams.Signature = signatureOf(out.CharNGrams.Top)

	out.FunctionWords.Freq = blendFreq(old.FunctionWords.Freq, new.FunctionWords.Freq, lr, len(functionWordVocabulary))
	out.FunctionWords.Signature = signatureOf(out.FunctionWords.Freq)

	out.Vocabulary = types.VocabularyBlock{
		AvgWordLen:        lerp(old.Vocabulary.AvgWordLen, new.Vocabulary.AvgWordLen, lr),
		AbbreviationRatio: lerp(old.Vocabulary.AbbreviationRatio, new.Vocabulary.AbbreviationRatio, lr),
		TypeTokenRatio:    lerp(old.Vocabulary.TypeTokenRatio, new.Vocabulary.TypeTokenRatio, lr),
		HapaxRatio:        lerp(old.Vocabulary.HapaxRatio, new.Vocabulary.HapaxRatio, lr),
		AvgSyllables:      lerp(old.Vocabulary.AvgSyllables, new.Vocabulary.AvgSyllables, lr),
	}
	out.Syntax = types.SyntaxBlock{
		AvgSentenceLen:      lerp(old.Syntax.AvgSentenceLen, new.Syntax.AvgSentenceLen, lr),
		CapitalizationRatio: lerp(old.Syntax.CapitalizationRatio, new.Syntax.CapitalizationRatio, lr),
		CommaFreq:           lerp(old.Syntax.CommaFreq, new.Syntax.CommaFreq, lr),
		ClauseComplexity:    lerp(old.Syntax.ClauseComplexity, new.Syntax.ClauseComplexity, lr),
		PunctuationStyle:    stickyCategory(old.Syntax.PunctuationStyle, new.Syntax.PunctuationStyle, lr),
		UsesSemicolons:      old.Syntax.UsesSemicolons || new.Syntax.UsesSemicolons,
		UsesEllipses:        old.Syntax.UsesEllipses || new.Syntax.UsesEllipses,
	}
	out.Style = types.StyleBlock{
		Formality:        lerp(old.Style.Formality, new.Style.Formality, lr),
		EmojiDensity:     lerp(old.Style.EmojiDensity, new.Style.EmojiDensity, lr),
		Politeness:       lerp(old.Style.Politeness, new.Style.Politeness, lr),
		ContractionRatio: lerp(old.Style.ContractionRatio, new.Style.ContractionRatio, lr),
		NumberStyle:      stickyCategory(old.Style.NumberStyle, new.Style.NumberStyle, lr),
		ListUsage:        old.Style.ListUsage || new.Style.ListUsage,
	}
	out.Timing = types.TimingBlock{
		Hours: unionInts(old.Timing.Hours, new.Timing.Hours),
		Days:  unionStrings(old.Timing.Days, new.Timing.Days),
	}
	out.Topics = blendFreq(old.Topics, new.Topics, lr, topicCap)
	return out
}

// blendFreq merges two frequency maps with the learning rate and keeps the
// top k entries
func blendFreq(old, new map[string]float64, lr float64, k int) map[string]float64 {
	merged := make(map[string]float64, len(old)+len(new))
	for key, v := range old {
		merged[key] = (1 - lr) * v
	}
	for key, v := range new {
		merged[key] += lr * v
	}
	keys := sortedByCount(merged)
	if len(keys) > k {
		keys = keys[:k]
	}
	out := make(map[string]float64, len(keys))
	for _, key := range keys {
		out[key] = merged[key]
	}
	return out
}

func lerp(old, new, lr float64) float64 {
	return (1-lr)*old + lr*new
}

// stickyCategory keeps the established category once the fingerprint has
// settled; the first sample sets it
func stickyCategory(old, new string, lr float64) string {
	if old == "" || lr >= 1 {
		return new
	}
	return old
}

func unionInts(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var out []int
	for _, v := range append(append([]int{}, a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Metrics is the behavioralMetrics response
type Metrics struct {
	Fingerprints []FingerprintSummary  `json:"fingerprints,omitempty"`
	Predictions  store.PredictionStats `json:"predictions"`
}

// FingerprintSummary is one user's readiness snapshot
type FingerprintSummary struct {
	User             string    `json:"user"`
	SampleCount      int       `json:"sample_count"`
	Ready            bool      `json:"ready"`
	TopFunctionWords []string  `json:"top_function_words,omitempty"`
	ActiveHours      []int     `json:"active_hours,omitempty"`
	ActiveDays       []string  `json:"active_days,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Metrics summarizes fingerprints and prediction accuracy. An empty user
// covers everyone.
func (e *Engine) Metrics(ctx context.Context, user string) (*Metrics, error) {
	var fingerprints []types.Fingerprint
	if user != "" {
		f, err := e.store.GetFingerprint(ctx, user)
		if err != nil {
			return nil, err
		}
		fingerprints = []types.Fingerprint{*f}
	} else {
		var err error
		fingerprints, err = e.store.ListFingerprints(ctx)
		if err != nil {
			return nil, err
		}
	}

	m := &Metrics{}
	for _, f := range fingerprints {
		top := sortedByCount(f.Signals.FunctionWords.Freq)
		if len(top) > 5 {
			top = top[:5]
		}
		m.Fingerprints = append(m.Fingerprints, FingerprintSummary{
			User:             f.User,
			SampleCount:      f.SampleCount,
			Ready:            f.Ready(e.cfg.FingerprintReadySamples),
			TopFunctionWords: top,
			ActiveHours:      f.Signals.Timing.Hours,
			ActiveDays:       f.Signals.Timing.Days,
			LastUpdated:      f.LastUpdated,
		})
	}

	stats, err := e.store.PredictionAccuracy(ctx)
	if err != nil {
		return nil, err
	}
	m.Predictions = stats
	return m, nil
}

// messageHash fingerprints message text for feedback correlation
func messageHash(message string) string {
	sum := blake3.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}
