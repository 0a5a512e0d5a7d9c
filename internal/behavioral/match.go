package behavioral

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/vthunder/memento/internal/types"
)

// Block weights for the overall match confidence
const (
	weightCharNGrams    = 0.25
	weightFunctionWords = 0.20
	weightVocabulary    = 0.15
	weightSyntax        = 0.15
	weightStyle         = 0.10
	weightTiming        = 0.10
	weightTopics        = 0.05
)

// Match scores a message's signals against a stored fingerprint. Returns the
// weighted confidence in [0,1] and the per-block breakdown.
func Match(message, fingerprint types.Signals) (float64, map[string]float64) {
	blocks := map[string]float64{
		"char_ngrams":    matchNGrams(message.CharNGrams, fingerprint.CharNGrams),
		"function_words": matchFunctionWords(message.FunctionWords, fingerprint.FunctionWords),
		"vocabulary":     matchVocabulary(message.Vocabulary, fingerprint.Vocabulary),
		"syntax":         matchSyntax(message.Syntax, fingerprint.Syntax),
		"style":          matchStyle(message.Style, fingerprint.Style),
		"timing":         matchTiming(message.Timing, fingerprint.Timing),
		"topics":         jaccardFreq(message.Topics, fingerprint.Topics),
	}

	confidence := weightCharNGrams*blocks["char_ngrams"] +
		weightFunctionWords*blocks["function_words"] +
		weightVocabulary*blocks["vocabulary"] +
		weightSyntax*blocks["syntax"] +
		weightStyle*blocks["style"] +
		weightTiming*blocks["timing"] +
		weightTopics*blocks["topics"]
	return clamp01(confidence), blocks
}

// matchNGrams compares the top-10 trigram sets plus the signature
func matchNGrams(a, b types.NGramBlock) float64 {
	sim := 0.7 * jaccardTop(a.Top, b.Top, signatureTop)
	if a.Signature != "" && a.Signature == b.Signature {
		sim += 0.3
	}
	return clamp01(sim)
}

// matchFunctionWords is cosine over the shared vocabulary with a signature
// bonus
func matchFunctionWords(a, b types.FunctionWordBlock) float64 {
	sim := cosineFreq(a.Freq, b.Freq)
	if a.Signature != "" && a.Signature == b.Signature {
		sim += 0.2
	}
	return clamp01(sim)
}

func matchVocabulary(a, b types.VocabularyBlock) float64 {
	diffs := []float64{
		normDiff(a.AvgWordLen, b.AvgWordLen, 10),
		normDiff(a.AbbreviationRatio, b.AbbreviationRatio, 0.5),
		normDiff(a.TypeTokenRatio, b.TypeTokenRatio, 1),
		normDiff(a.HapaxRatio, b.HapaxRatio, 1),
		normDiff(a.AvgSyllables, b.AvgSyllables, 4),
	}
	return 1 - mean(diffs)
}

func matchSyntax(a, b types.SyntaxBlock) float64 {
	diffs := []float64{
		normDiff(a.AvgSentenceLen, b.AvgSentenceLen, 40),
		normDiff(a.CapitalizationRatio, b.CapitalizationRatio, 1),
		normDiff(a.CommaFreq, b.CommaFreq, 4),
		normDiff(a.ClauseComplexity, b.ClauseComplexity, 3),
		boolDiff(a.UsesSemicolons, b.UsesSemicolons),
		boolDiff(a.UsesEllipses, b.UsesEllipses),
		categoryDiff(a.PunctuationStyle, b.PunctuationStyle),
	}
	return 1 - mean(diffs)
}

func matchStyle(a, b types.StyleBlock) float64 {
	diffs := []float64{
		normDiff(a.Formality, b.Formality, 1),
		normDiff(a.EmojiDensity, b.EmojiDensity, 0.5),
		normDiff(a.Politeness, b.Politeness, 1),
		normDiff(a.ContractionRatio, b.ContractionRatio, 0.5),
		categoryDiff(a.NumberStyle, b.NumberStyle),
		boolDiff(a.ListUsage, b.ListUsage),
	}
	return 1 - mean(diffs)
}

// matchTiming splits evenly between an hour hit and a day hit
func matchTiming(a, b types.TimingBlock) float64 {
	sim := 0.0
	if hitHour(a.Hours, b.Hours) {
		sim += 0.5
	}
	if hitDay(a.Days, b.Days) {
		sim += 0.5
	}
	return sim
}

// hitHour tolerates being one hour off
func hitHour(message, known []int) bool {
	for _, h := range message {
		for _, k := range known {
			if d := h - k; d >= -1 && d <= 1 {
				return true
			}
		}
	}
	return false
}

func hitDay(message, known []string) bool {
	for _, d := range message {
		for _, k := range known {
			if d == k {
				return true
			}
		}
	}
	return false
}

// jaccardTop intersects the top-k keys of two frequency maps
func jaccardTop(a, b map[string]float64, k int) float64 {
	ak := sortedByCount(a)
	bk := sortedByCount(b)
	if len(ak) > k {
		ak = ak[:k]
	}
	if len(bk) > k {
		bk = bk[:k]
	}
	return jaccardKeys(ak, bk)
}

func jaccardFreq(a, b map[string]float64) float64 {
	return jaccardKeys(sortedByCount(a), sortedByCount(b))
}

func jaccardKeys(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	inter := 0
	for _, k := range b {
		if set[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// cosineFreq aligns two frequency maps over their key union and takes the
// cosine similarity
func cosineFreq(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	keys := make(map[string]bool, len(a)+len(b))
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	va := make([]float64, 0, len(keys))
	vb := make([]float64, 0, len(keys))
	for k := range keys {
		va = append(va, a[k])
		vb = append(vb, b[k])
	}
	na, nb := floats.Norm(va, 2), floats.Norm(vb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(va, vb) / (na * nb)
}

// normDiff is the absolute difference scaled to [0,1]
func normDiff(a, b, scale float64) float64 {
	if scale == 0 {
		return 0
	}
	return math.Min(1, math.Abs(a-b)/scale)
}

func boolDiff(a, b bool) float64 {
	if a == b {
		return 0
	}
	return 1
}

func categoryDiff(a, b string) float64 {
	if a == b {
		return 0
	}
	return 1
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
