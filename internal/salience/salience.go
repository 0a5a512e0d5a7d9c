// Package salience scores memories 0-100 from five weighted factors. The
// same inputs always produce the same score: no randomness, no map-order
// dependence, so re-scoring a memory under an unchanged context is a no-op.
package salience

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/vthunder/memento/internal/types"
)

// Factor weights. They sum to 1 so the score maps cleanly onto 0-100.
const (
	weightEmotion       = 0.30
	weightNovelty       = 0.20
	weightRelevance     = 0.20
	weightSocial        = 0.15
	weightConsequential = 0.15
)

var emotionWords = map[string]bool{
	"love": true, "hate": true, "excited": true, "thrilled": true, "scared": true,
	"worried": true, "angry": true, "furious": true, "amazing": true, "terrible": true,
	"wonderful": true, "awful": true, "devastated": true, "anxious": true, "happy": true,
	"sad": true, "delighted": true, "heartbroken": true, "stressed": true, "proud": true,
	"embarrassed": true, "overjoyed": true, "miserable": true, "ecstatic": true,
	"terrified": true, "grateful": true, "relieved": true, "shocked": true,
	"frustrated": true, "nervous": true, "upset": true, "crying": true, "cried": true,
}

var boosterWords = map[string]bool{
	"very": true, "so": true, "really": true, "extremely": true,
	"incredibly": true, "totally": true, "absolutely": true, "super": true,
}

// consequential marker categories. One hit per category counts.
var consequentialCategories = map[string][]string{
	"safety":   {"allergic", "allergy", "emergency", "urgent", "critical", "danger"},
	"medical":  {"surgery", "medication", "diagnosis", "diagnosed", "hospital", "prescription", "doctor"},
	"secrets":  {"pin", "password", "passcode", "ssn", "social security", "passport", "bank account", "credit card", "license"},
	"deadline": {"deadline", "due", "owe", "owes", "promised", "must", "contract", "signing"},
	"money":    {"salary", "raise", "bonus", "invoice", "payment", "loan", "rent", "mortgage"},
}

// Inputs is everything scoring needs. Recent is the user's active memories
// from the last 30 days; Frame is the device context at storage time, nil
// when the user has none.
type Inputs struct {
	Text     string
	Features types.Features
	Recent   []types.Memory
	Frame    *types.ContextFrame
	Now      time.Time
}

// Score computes the salience and its factor breakdown
func Score(in Inputs) (int, types.SalienceFactors) {
	f := types.SalienceFactors{
		Emotion:       emotionFactor(in.Text, in.Features),
		Novelty:       noveltyFactor(in.Features, in.Recent, in.Now),
		Relevance:     relevanceFactor(in.Features, in.Frame),
		Social:        socialFactor(in.Features, in.Recent, in.Now),
		Consequential: consequentialFactor(in.Text, in.Features),
	}

	weighted := weightEmotion*f.Emotion +
		weightNovelty*f.Novelty +
		weightRelevance*f.Relevance +
		weightSocial*f.Social +
		weightConsequential*f.Consequential
	return int(math.Round(100 * weighted)), f
}

// emotionFactor measures emotional intensity: lexicon hits, boosters,
// exclamations, shouted words, and the charge of a sensitive topic
func emotionFactor(text string, features types.Features) float64 {
	score := 0.0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"()")
		if emotionWords[word] {
			score += 0.25
		}
		if boosterWords[word] {
			score += 0.10
		}
	}
	score += 0.15 * float64(strings.Count(text, "!"))
	for _, word := range strings.Fields(text) {
		if isShouted(word) {
			score += 0.15
		}
	}
	if len(features.Sensitivities) > 0 {
		score += 0.25
	}
	return clamp01(score)
}

// isShouted reports whether a word of 3+ letters is all caps
func isShouted(word string) bool {
	word = strings.Trim(word, ".,!?;:'\"()")
	letters := 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters >= 3
}

// noveltyFactor is the inverse recency of similar content: 1.0 when nothing
// in the last 30 days shares a person or topic, approaching 0 when a match
// landed moments ago. Featureless memories sit at the neutral midpoint.
func noveltyFactor(features types.Features, recent []types.Memory, now time.Time) float64 {
	if len(features.People) == 0 && len(features.Topics) == 0 {
		return 0.5
	}

	people := foldSet(features.People)
	topics := foldSet(features.Topics)

	var newestMatch *time.Time
	for i := range recent {
		m := &recent[i]
		if now.Sub(m.CreatedAt) > 30*24*time.Hour {
			continue
		}
		if !sharesAny(people, m.Features.People) && !sharesAny(topics, m.AllTopics()) {
			continue
		}
		if newestMatch == nil || m.CreatedAt.After(*newestMatch) {
			t := m.CreatedAt
			newestMatch = &t
		}
	}
	if newestMatch == nil {
		return 1.0
	}
	ageDays := now.Sub(*newestMatch).Hours() / 24
	return clamp01(ageDays / 30)
}

// relevanceFactor is the Jaccard overlap between the memory's features and
// the frame's people, activity and location. No frame means the neutral 0.5.
func relevanceFactor(features types.Features, frame *types.ContextFrame) float64 {
	if frame == nil {
		return 0.5
	}

	memTokens := make(map[string]bool)
	for _, p := range features.People {
		memTokens[strings.ToLower(p)] = true
	}
	for _, t := range features.Topics {
		memTokens[strings.ToLower(t)] = true
	}

	frameTokens := make(map[string]bool)
	if frame.People != nil {
		for _, p := range frame.People.Values {
			frameTokens[strings.ToLower(p)] = true
		}
	}
	if frame.Activity != nil {
		for _, w := range strings.Fields(strings.ToLower(frame.Activity.Value)) {
			frameTokens[w] = true
		}
	}
	if frame.Location != nil {
		for _, w := range strings.Fields(strings.ToLower(frame.Location.Value)) {
			frameTokens[w] = true
		}
	}

	if len(memTokens) == 0 || len(frameTokens) == 0 {
		return 0
	}
	intersection := 0
	for t := range memTokens {
		if frameTokens[t] {
			intersection++
		}
	}
	union := len(memTokens) + len(frameTokens) - intersection
	return float64(intersection) / float64(union)
}

// socialFactor rewards memories about people, with a boost when any of them
// is brand new or recently interacted with
func socialFactor(features types.Features, recent []types.Memory, now time.Time) float64 {
	if len(features.People) == 0 {
		return 0
	}

	// last time each mentioned person showed up in a recent memory
	lastSeen := make(map[string]time.Time)
	for i := range recent {
		for _, p := range recent[i].Features.People {
			key := strings.ToLower(p)
			if recent[i].CreatedAt.After(lastSeen[key]) {
				lastSeen[key] = recent[i].CreatedAt
			}
		}
	}

	boost := 0.0
	for _, p := range features.People {
		seen, ok := lastSeen[strings.ToLower(p)]
		switch {
		case !ok:
			boost = 1.0 // first mention
		case now.Sub(seen) <= 7*24*time.Hour:
			boost = math.Max(boost, 1.0)
		case now.Sub(seen) <= 30*24*time.Hour:
			boost = math.Max(boost, 0.5)
		}
	}
	return clamp01(0.7 + 0.3*boost)
}

// consequentialFactor flags content with lasting stakes: safety, medical,
// secrets, deadlines, money, plus explicit commitments
func consequentialFactor(text string, features types.Features) float64 {
	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		words[strings.Trim(w, ".,!?;:'\"()")] = true
	}

	score := 0.0
	for _, terms := range consequentialCategories {
		for _, term := range terms {
			// single words match on word boundaries, phrases by substring
			hit := words[term] || (strings.Contains(term, " ") && strings.Contains(lower, term))
			if hit {
				score += 0.5
				break
			}
		}
	}
	// an extracted sensitivity (health, loss, finance, ...) carries lasting
	// stakes the same way an explicit marker term does
	if len(features.Sensitivities) > 0 {
		score += 0.5
	}
	if len(features.Commitments) > 0 {
		score += 0.25
		for _, c := range features.Commitments {
			if c.DueDate != nil {
				score += 0.25
				break
			}
		}
	}
	return clamp01(score)
}

func foldSet(ss []string) map[string]bool {
	set := make(map[string]bool, len(ss))
	for _, s := range ss {
		set[strings.ToLower(s)] = true
	}
	return set
}

func sharesAny(set map[string]bool, ss []string) bool {
	for _, s := range ss {
		if set[strings.ToLower(s)] {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
