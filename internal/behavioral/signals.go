// Package behavioral builds stylometric fingerprints from message samples
// and matches incoming messages against them.
package behavioral

import (
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tsawler/prose/v3"
	"github.com/zeebo/blake3"

	"github.com/vthunder/memento/internal/types"
)

const (
	topNGrams    = 50
	signatureTop = 10
	topicCap     = 100
)

// functionWordVocabulary is the fixed vocabulary the function-word block is
// measured over. Order is irrelevant; membership is what matters.
var functionWordVocabulary = []string{
	"the", "of", "and", "a", "to", "in", "is", "you", "that", "it",
	"he", "was", "for", "on", "are", "as", "with", "his", "they", "i",
	"at", "be", "this", "have", "from", "or", "one", "had", "by", "word",
	"but", "not", "what", "all", "were", "we", "when", "your", "can", "said",
	"there", "use", "an", "each", "which", "she", "do", "how", "their", "if",
	"will", "up", "other", "about", "out", "many", "then", "them", "these", "so",
	"some", "her", "would", "make", "like", "him", "into", "time", "has", "look",
	"two", "more", "go", "see", "no", "way", "could", "my", "than", "been",
	"who", "its", "now", "did", "get", "come", "made", "may", "part", "over",
	"new", "take", "only", "little", "know", "just", "me", "our", "us", "any",
	"because", "very", "after", "also", "back", "well", "even", "want", "here", "too",
	"where", "much", "before", "should", "between", "both", "those", "same", "while", "still",
	"such", "being", "through", "down", "off", "again", "under", "might", "must", "never",
	"really", "always", "though", "since", "until", "whether", "yet", "once", "itself", "every",
	"anything", "something", "nothing", "however", "therefore", "maybe", "perhaps", "actually", "probably", "definitely",
}

var functionWordSet = func() map[string]bool {
	m := make(map[string]bool, len(functionWordVocabulary))
	for _, w := range functionWordVocabulary {
		m[w] = true
	}
	return m
}()

var stopwords = func() map[string]bool {
	m := make(map[string]bool, len(functionWordVocabulary)+16)
	for _, w := range functionWordVocabulary {
		m[w] = true
	}
	for _, w := range []string{"yes", "no", "ok", "okay", "yeah", "nah", "hey", "hi", "hello", "thanks", "thank", "please", "sorry", "sure", "right", "going"} {
		m[w] = true
	}
	return m
}()

var abbreviations = map[string]bool{
	"u": true, "ur": true, "r": true, "lol": true, "omg": true, "btw": true,
	"idk": true, "imo": true, "imho": true, "tbh": true, "thx": true, "pls": true,
	"plz": true, "brb": true, "afaik": true, "fyi": true, "asap": true, "np": true,
	"rn": true, "gonna": true, "wanna": true, "gotta": true, "kinda": true, "lmk": true,
}

var politeMarkers = []string{"please", "thank", "thanks", "would you", "could you", "appreciate", "sorry"}

var (
	contractionRegex = regexp.MustCompile(`(?i)\b\w+'(s|t|re|ve|ll|d|m)\b`)
	digitNumberRegex = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	wordNumberRegex  = regexp.MustCompile(`(?i)\b(one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|twenty|thirty|forty|fifty|hundred|thousand|million)\b`)
	listLineRegex    = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+[.)])\s`)
	subordinateRegex = regexp.MustCompile(`(?i)\b(because|although|though|since|while|unless|whereas|whenever|wherever|if|when|after|before|until)\b`)
)

// BuildSignals measures one message across the seven fingerprint blocks.
// The timestamp feeds the timing block only.
func BuildSignals(message string, at time.Time) types.Signals {
	words, sentences := tokenize(message)

	var sig types.Signals
	sig.CharNGrams = buildNGrams(message)
	sig.FunctionWords = buildFunctionWords(words)
	sig.Vocabulary = buildVocabulary(words)
	sig.Syntax = buildSyntax(message, words, sentences)
	sig.Style = buildStyle(message, words, sentences)
	sig.Timing = types.TimingBlock{
		Hours: []int{at.Hour()},
		Days:  []string{at.Weekday().String()},
	}
	sig.Topics = buildTopics(words)
	return sig
}

// tokenize prefers prose; plain field splitting backstops it
func tokenize(message string) (words []string, sentences []string) {
	doc, err := prose.NewDocument(message)
	if err == nil {
		for _, tok := range doc.Tokens() {
			if hasLetter(tok.Text) {
				words = append(words, strings.ToLower(tok.Text))
			}
		}
		for _, s := range doc.Sentences() {
			sentences = append(sentences, s.Text)
		}
	}
	if len(words) == 0 {
		for _, w := range strings.Fields(message) {
			w = strings.Trim(w, ".,!?;:'\"()[]{}")
			if hasLetter(w) {
				words = append(words, strings.ToLower(w))
			}
		}
	}
	if len(sentences) == 0 {
		sentences = []string{message}
	}
	return words, sentences
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func buildNGrams(message string) types.NGramBlock {
	normalized := strings.ToLower(strings.Join(strings.Fields(message), " "))
	runes := []rune(normalized)

	counts := make(map[string]int)
	total := 0
	for i := 0; i+3 <= len(runes); i++ {
		gram := string(runes[i : i+3])
		counts[gram]++
		total++
	}
	if total == 0 {
		return types.NGramBlock{}
	}

	top := topKFreq(counts, total, topNGrams)
	return types.NGramBlock{
		Top:       top,
		Signature: signatureOf(top),
	}
}

func buildFunctionWords(words []string) types.FunctionWordBlock {
	counts := make(map[string]int)
	for _, w := range words {
		if functionWordSet[w] {
			counts[w]++
		}
	}
	if len(words) == 0 || len(counts) == 0 {
		return types.FunctionWordBlock{}
	}
	freq := make(map[string]float64, len(counts))
	for w, n := range counts {
		freq[w] = float64(n) / float64(len(words))
	}
	return types.FunctionWordBlock{
		Freq:      freq,
		Signature: signatureOf(freq),
	}
}

func buildVocabulary(words []string) types.VocabularyBlock {
	if len(words) == 0 {
		return types.VocabularyBlock{}
	}
	var totalLen, totalSyllables int
	abbrev := 0
	seen := make(map[string]int)
	for _, w := range words {
		totalLen += len(w)
		totalSyllables += syllables(w)
		if abbreviations[w] {
			abbrev++
		}
		seen[w]++
	}
	hapax := 0
	for _, n := range seen {
		if n == 1 {
			hapax++
		}
	}
	return types.VocabularyBlock{
		AvgWordLen:        float64(totalLen) / float64(len(words)),
		AbbreviationRatio: float64(abbrev) / float64(len(words)),
		TypeTokenRatio:    float64(len(seen)) / float64(len(words)),
		HapaxRatio:        float64(hapax) / float64(len(seen)),
		AvgSyllables:      float64(totalSyllables) / float64(len(words)),
	}
}

// syllables counts vowel groups, always at least one
func syllables(word string) int {
	n := 0
	prevVowel := false
	for _, r := range word {
		v := strings.ContainsRune("aeiouy", r)
		if v && !prevVowel {
			n++
		}
		prevVowel = v
	}
	if n == 0 {
		n = 1
	}
	return n
}

func buildSyntax(message string, words, sentences []string) types.SyntaxBlock {
	ns := float64(len(sentences))
	capitalized := 0
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s != "" {
			if r := []rune(s)[0]; unicode.IsUpper(r) {
				capitalized++
			}
		}
	}

	commas := strings.Count(message, ",")
	bangs := strings.Count(message, "!")
	periods := strings.Count(message, ".")
	clauses := len(subordinateRegex.FindAllString(message, -1))

	style := "standard"
	punctPerSentence := float64(commas+bangs+periods) / ns
	switch {
	case bangs >= 2 || float64(bangs)/ns >= 1:
		style = "expressive"
	case punctPerSentence < 0.5:
		style = "minimal"
	}

	return types.SyntaxBlock{
		AvgSentenceLen:      float64(len(words)) / ns,
		CapitalizationRatio: float64(capitalized) / ns,
		CommaFreq:           float64(commas) / ns,
		ClauseComplexity:    float64(clauses) / ns,
		PunctuationStyle:    style,
		UsesSemicolons:      strings.Contains(message, ";"),
		UsesEllipses:        strings.Contains(message, "..."),
	}
}

func buildStyle(message string, words, sentences []string) types.StyleBlock {
	nw := float64(len(words))
	if nw == 0 {
		nw = 1
	}
	lower := strings.ToLower(message)

	contractions := float64(len(contractionRegex.FindAllString(message, -1))) / nw
	abbrev := 0
	for _, w := range words {
		if abbreviations[w] {
			abbrev++
		}
	}

	polite := 0.0
	for _, marker := range politeMarkers {
		polite += float64(strings.Count(lower, marker))
	}
	polite = clamp01(polite / float64(len(sentences)))

	emoji := 0
	for _, r := range message {
		if r >= 0x1F300 && r <= 0x1FAFF {
			emoji++
		}
	}

	digits := len(digitNumberRegex.FindAllString(message, -1))
	wordNums := len(wordNumberRegex.FindAllString(message, -1))
	numberStyle := "mixed"
	switch {
	case digits > 0 && wordNums == 0:
		numberStyle = "digits"
	case wordNums > 0 && digits == 0:
		numberStyle = "words"
	case digits == 0 && wordNums == 0:
		numberStyle = "mixed"
	}

	// Formality drops with contractions, abbreviations, and emoji
	formality := clamp01(1 - contractions - 2*float64(abbrev)/nw - float64(emoji)/nw)

	return types.StyleBlock{
		Formality:        formality,
		EmojiDensity:     float64(emoji) / nw,
		Politeness:       polite,
		ContractionRatio: contractions,
		NumberStyle:      numberStyle,
		ListUsage:        listLineRegex.MatchString(message),
	}
}

func buildTopics(words []string) map[string]float64 {
	counts := make(map[string]int)
	total := 0
	for _, w := range words {
		if len(w) < 4 || stopwords[w] {
			continue
		}
		counts[w]++
		total++
	}
	if total == 0 {
		return nil
	}
	return topKFreq(counts, total, topicCap)
}

// topKFreq keeps the k highest-frequency keys as relative frequencies
func topKFreq(counts map[string]int, total, k int) map[string]float64 {
	keys := sortedByCount(counts)
	if len(keys) > k {
		keys = keys[:k]
	}
	out := make(map[string]float64, len(keys))
	for _, key := range keys {
		out[key] = float64(counts[key]) / float64(total)
	}
	return out
}

// sortedByCount orders keys by descending count, alphabetical within ties
// so signatures are deterministic
func sortedByCount[V int | float64](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// signatureOf hashes the top entries of a frequency map into a short
// stable token
func signatureOf(freq map[string]float64) string {
	keys := sortedByCount(freq)
	if len(keys) > signatureTop {
		keys = keys[:signatureTop]
	}
	sum := blake3.Sum256([]byte(strings.Join(keys, "|")))
	return hex.EncodeToString(sum[:8])
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
