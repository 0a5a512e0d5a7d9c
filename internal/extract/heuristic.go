package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tsawler/prose/v3"

	"github.com/vthunder/memento/internal/types"
)

var (
	selfCommitmentRegex  = regexp.MustCompile(`(?i)\b(i'll|i will|i owe|i need to|i promised|need to|promised to)\b`)
	otherCommitmentRegex = regexp.MustCompile(`(?i)^\s*(\w+)\s+(will|promised|owes)\b`)
	dueByRegex           = regexp.MustCompile(`(?i)\bby\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|today|next week|end of (?:the )?week|eod|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2})`)
	onDateRegex          = regexp.MustCompile(`(?i)\b(?:on|next|this)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	isoDateRegex         = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRegex       = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)

	eventCueRegex = regexp.MustCompile(`(?i)\b(meeting|lunch|dinner|coffee|call|interview|review|appointment|demo|standup|1:1|offsite|party|wedding|flight)\b`)

	weekdays = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}

	// sensitivity dictionary: term -> category surfaced as a handle-with-care flag
	sensitivityTerms = map[string]string{
		"allergic": "health", "allergy": "health", "diagnosis": "health",
		"diagnosed": "health", "surgery": "health", "medication": "health",
		"hospital": "health", "chemo": "health", "pregnant": "health",
		"divorce": "relationship", "breakup": "relationship", "broke up": "relationship",
		"funeral": "loss", "grief": "loss", "passed away": "loss", "died": "loss",
		"miscarriage": "loss",
		"laid off": "work", "fired": "work", "layoff": "work", "layoffs": "work",
		"bankruptcy": "finance", "debt": "finance", "foreclosure": "finance",
		"depression": "mental-health", "anxiety": "mental-health", "therapy": "mental-health",
		"rehab": "mental-health", "relapse": "mental-health",
	}

	// words the capitalized scan must never treat as names
	capitalizedSkip = map[string]bool{
		"I": true, "The": true, "A": true, "An": true, "This": true, "That": true,
		"It": true, "Is": true, "Are": true, "Was": true, "Were": true,
		"He": true, "She": true, "They": true, "We": true, "You": true,
		"My": true, "Your": true, "His": true, "Her": true, "Its": true, "Our": true,
		"What": true, "When": true, "Where": true, "Who": true, "Why": true, "How": true,
		"But": true, "And": true, "Or": true, "So": true, "If": true, "Then": true,
		"Yes": true, "No": true, "Ok": true, "Okay": true, "Sure": true, "Thanks": true,
		"Hello": true, "Hi": true, "Hey": true, "Bye": true, "Also": true,
		"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
		"Friday": true, "Saturday": true, "Sunday": true,
		"January": true, "February": true, "March": true, "April": true, "May": true,
		"June": true, "July": true, "August": true, "September": true,
		"October": true, "November": true, "December": true,
		"Remember": true, "Remind": true, "Note": true, "Today": true, "Tomorrow": true,
	}

	// verbs that mark a sentence-initial capitalized word as the sentence's
	// subject ("Sarah prefers ...", "Maya will send ...")
	subjectCues = map[string]bool{
		"will": true, "is": true, "was": true, "has": true, "had": true,
		"says": true, "said": true, "told": true, "asked": true,
		"mentioned": true, "promised": true, "owes": true,
		"prefers": true, "likes": true, "loves": true, "hates": true,
		"wants": true, "needs": true, "thinks": true, "feels": true,
		"started": true, "works": true, "lives": true, "moved": true,
	}
)

// heuristicExtract derives features from text without an LLM. It never
// fails: on any parsing trouble it returns whatever it found so far.
func heuristicExtract(text string, now time.Time) types.Features {
	var f types.Features

	doc, err := prose.NewDocument(text)
	var sentences []string
	if err == nil {
		for _, ent := range doc.Entities() {
			name := strings.TrimSpace(ent.Text)
			if name == "" {
				continue
			}
			switch strings.ToUpper(ent.Label) {
			case "PERSON":
				f.People = append(f.People, name)
			case "ORG", "GPE", "LOC", "FAC", "PRODUCT", "EVENT", "WORK_OF_ART", "NORP":
				f.Topics = append(f.Topics, strings.ToLower(name))
			}
		}
		for _, s := range doc.Sentences() {
			sentences = append(sentences, s.Text)
		}
	}
	if len(sentences) == 0 {
		sentences = splitSentences(text)
	}

	// prose misses plenty of names; the capitalized scan backstops it
	f.People = append(f.People, scanCapitalized(text)...)
	f.People = dedupeFold(f.People)
	f.Topics = dedupeFold(f.Topics)

	// a name the tagger misread as a topic keeps only its person role
	peopleSet := make(map[string]bool, len(f.People))
	for _, p := range f.People {
		peopleSet[strings.ToLower(p)] = true
	}
	kept := f.Topics[:0]
	for _, topic := range f.Topics {
		if !peopleSet[strings.ToLower(topic)] {
			kept = append(kept, topic)
		}
	}
	f.Topics = kept

	lower := strings.ToLower(text)
	lowerWords := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		lowerWords[strings.Trim(w, ".,!?;:'\"()")] = true
	}
	for term, category := range sensitivityTerms {
		// single words match on word boundaries, phrases by substring
		hit := lowerWords[term] || (strings.Contains(term, " ") && strings.Contains(lower, term))
		if hit {
			f.Sensitivities = append(f.Sensitivities, category)
		}
	}
	f.Sensitivities = dedupeFold(f.Sensitivities)
	sort.Strings(f.Sensitivities)

	for _, sentence := range sentences {
		if c := extractCommitment(sentence, f.People, now); c != nil {
			f.Commitments = append(f.Commitments, *c)
		}
		if e := extractEvent(sentence, f.People, now); e != nil {
			f.Events = append(f.Events, *e)
		}
	}

	return f
}

// extractCommitment finds at most one commitment cue per sentence
func extractCommitment(sentence string, people []string, now time.Time) *types.Commitment {
	var owner, loopType string
	if selfCommitmentRegex.MatchString(sentence) {
		owner = "self"
		loopType = "commitment"
	} else if m := otherCommitmentRegex.FindStringSubmatch(sentence); m != nil && isKnownPerson(m[1], people) {
		owner = canonicalName(m[1])
		loopType = "waiting"
	} else {
		return nil
	}

	c := &types.Commitment{
		Text:     strings.TrimSpace(sentence),
		Owner:    owner,
		LoopType: loopType,
	}
	if m := dueByRegex.FindStringSubmatch(sentence); m != nil {
		c.DueDate = parseDuePhrase(m[1], now)
	} else if m := onDateRegex.FindStringSubmatch(sentence); m != nil {
		c.DueDate = parseDuePhrase(m[1], now)
	}
	if owner == "self" {
		c.OtherParty = firstMentioned(sentence, people)
	} else {
		c.OtherParty = owner
	}
	return c
}

// extractEvent finds at most one dated event cue per sentence
func extractEvent(sentence string, people []string, now time.Time) *types.EventMention {
	cue := eventCueRegex.FindString(sentence)
	if cue == "" {
		return nil
	}
	date := parseAnyDate(sentence, now)
	if date == nil {
		return nil
	}
	return &types.EventMention{
		Description: strings.TrimSpace(sentence),
		Person:      firstMentioned(sentence, people),
		Date:        *date,
		Category:    strings.ToLower(cue),
	}
}

// parseAnyDate finds the first recognizable date in a sentence
func parseAnyDate(sentence string, now time.Time) *time.Time {
	if m := isoDateRegex.FindStringSubmatch(sentence); m != nil {
		if t, err := time.Parse("2006-01-02", m[0]); err == nil {
			u := t.UTC()
			return &u
		}
	}
	if m := slashDateRegex.FindStringSubmatch(sentence); m != nil {
		if t := parseSlashDate(m, now); t != nil {
			return t
		}
	}
	if m := onDateRegex.FindStringSubmatch(sentence); m != nil {
		return parseDuePhrase(m[1], now)
	}
	if m := dueByRegex.FindStringSubmatch(sentence); m != nil {
		return parseDuePhrase(m[1], now)
	}
	lower := strings.ToLower(sentence)
	if strings.Contains(lower, "tomorrow") {
		return parseDuePhrase("tomorrow", now)
	}
	if strings.Contains(lower, "today") || strings.Contains(lower, "tonight") {
		return parseDuePhrase("today", now)
	}
	return nil
}

// parseDuePhrase resolves a relative due phrase against now. Weekdays mean
// the next occurrence; a weekday matching today means a week out.
func parseDuePhrase(phrase string, now time.Time) *time.Time {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	day := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 17, 0, 0, 0, time.UTC)
	}

	switch phrase {
	case "today", "eod":
		t := day(now)
		return &t
	case "tomorrow":
		t := day(now.Add(24 * time.Hour))
		return &t
	case "next week":
		t := day(now.Add(7 * 24 * time.Hour))
		return &t
	case "end of week", "end of the week":
		return parseDuePhrase("friday", now)
	}

	if wd, ok := weekdays[phrase]; ok {
		delta := (int(wd) - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		t := day(now.Add(time.Duration(delta) * 24 * time.Hour))
		return &t
	}

	if t, err := time.Parse("2006-01-02", phrase); err == nil {
		u := t.UTC()
		return &u
	}
	if m := slashDateRegex.FindStringSubmatch(phrase); m != nil {
		return parseSlashDate(m, now)
	}
	return nil
}

// parseSlashDate handles MM/DD and MM/DD/YYYY, rolling a passed date into
// next year when the year is omitted
func parseSlashDate(m []string, now time.Time) *time.Time {
	month, day := atoi(m[1]), atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	year := now.Year()
	if m[3] != "" {
		year = atoi(m[3])
		if year < 100 {
			year += 2000
		}
	}
	t := time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.UTC)
	if m[3] == "" && t.Before(now.Add(-24*time.Hour)) {
		t = t.AddDate(1, 0, 0)
	}
	return &t
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// scanCapitalized finds mid-sentence capitalized words that look like names
func scanCapitalized(text string) []string {
	var names []string
	words := strings.Fields(text)
	for i, word := range words {
		clean := strings.Trim(word, ".,!?;:'\"()[]{}@#")
		clean = strings.TrimSuffix(clean, "'s")
		if clean == "" || capitalizedSkip[clean] {
			continue
		}
		runes := []rune(clean)
		if len(runes) < 2 || !unicode.IsUpper(runes[0]) || !unicode.IsLower(runes[1]) {
			continue
		}
		// sentence-initial words are usually not names; admit one only when
		// the next word reads as its verb
		if i == 0 || strings.HasSuffix(words[i-1], ".") || strings.HasSuffix(words[i-1], "!") || strings.HasSuffix(words[i-1], "?") {
			next := ""
			if i+1 < len(words) {
				next = strings.Trim(strings.ToLower(words[i+1]), ".,!?;:'\"()")
			}
			if !subjectCues[next] {
				continue
			}
		}
		names = append(names, clean)
	}
	return names
}

// splitSentences is the fallback when prose cannot parse the text
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// firstMentioned returns the first known person appearing in the sentence
func firstMentioned(sentence string, people []string) string {
	lower := strings.ToLower(sentence)
	best := ""
	bestIdx := len(sentence) + 1
	for _, p := range people {
		idx := strings.Index(lower, strings.ToLower(p))
		if idx >= 0 && idx < bestIdx {
			best = p
			bestIdx = idx
		}
	}
	return best
}

func isKnownPerson(word string, people []string) bool {
	for _, p := range people {
		if strings.EqualFold(word, p) {
			return true
		}
	}
	return false
}

func dedupeFold(ss []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range ss {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
