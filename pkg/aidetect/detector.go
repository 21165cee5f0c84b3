// Package aidetect estimates how likely a text is to be machine-generated
// from simple statistical signals. It is a heuristic with known false
// positives; the result always carries models.AIDisclaimer.
package aidetect

import (
	"math"
	"regexp"
	"strings"

	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/pkg/processor"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"on": {}, "in": {}, "at": {}, "by": {}, "for": {}, "with": {}, "to": {},
	"from": {}, "of": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "it": {},
}

var headingKeywords = []string{"causes", "effects", "solutions", "conclusion"}

var transitionPattern = regexp.MustCompile(`\b(?:moreover|furthermore|in addition|however|therefore|consequently|additionally|on the other hand|in conclusion)\b`)

// Thresholds holds the cut points for the seven binary signals.
type Thresholds struct {
	MaxEntropy         float64
	MaxSentenceVar     float64
	MinRepeatTrigrams  int
	MinStopwordRatio   float64
	MaxTypeTokenRatio  float64
	MinHeadingHits     int
	MinTransitionCount int
	LikelyAIScore      int
}

var (
	normalThresholds = Thresholds{
		MaxEntropy:         3.0,
		MaxSentenceVar:     30,
		MinRepeatTrigrams:  5,
		MinStopwordRatio:   0.55,
		MaxTypeTokenRatio:  0.40,
		MinHeadingHits:     3,
		MinTransitionCount: 3,
		LikelyAIScore:      3,
	}
	strictThresholds = Thresholds{
		MaxEntropy:         3.5,
		MaxSentenceVar:     40,
		MinRepeatTrigrams:  3,
		MinStopwordRatio:   0.50,
		MaxTypeTokenRatio:  0.45,
		MinHeadingHits:     2,
		MinTransitionCount: 2,
		LikelyAIScore:      2,
	}
)

type Config struct {
	Strict bool
}

type Detector struct {
	config     Config
	thresholds Thresholds
}

func NewWithConfig(config Config) *Detector {
	t := normalThresholds
	if config.Strict {
		t = strictThresholds
	}
	return &Detector{config: config, thresholds: t}
}

// Evaluate scores text. It never fails; empty text yields zeroed signals.
func (d *Detector) Evaluate(text string) models.AISummary {
	words := processor.LowerWords(text)
	sentences := processor.Sentences(text)

	entropy := shannonEntropy(words)
	avgLen, varLen := sentenceLengthStats(sentences)
	repeated := repetitiveTrigrams(words, 3)
	stopRatio := stopwordRatio(words)
	ttr := typeTokenRatio(words)
	headings := headingHits(words)
	transitions := len(transitionPattern.FindAllString(strings.ToLower(text), -1))

	t := d.thresholds
	score := 0
	if entropy < t.MaxEntropy {
		score++
	}
	if varLen < t.MaxSentenceVar {
		score++
	}
	if repeated >= t.MinRepeatTrigrams {
		score++
	}
	if stopRatio > t.MinStopwordRatio {
		score++
	}
	if ttr < t.MaxTypeTokenRatio {
		score++
	}
	if headings >= t.MinHeadingHits {
		score++
	}
	if transitions >= t.MinTransitionCount {
		score++
	}

	return models.AISummary{
		Entropy:            math.Max(0, round(entropy, 3)),
		AvgSentenceLen:     round(avgLen, 2),
		VarSentenceLen:     round(varLen, 2),
		RepetitiveTrigrams: repeated,
		StopwordRatio:      round(stopRatio, 3),
		TypeTokenRatio:     round(ttr, 3),
		HeadingHits:        headings,
		TransitionCount:    transitions,
		Score:              score,
		Risk:               riskLevel(score),
		// likely_ai uses its own cut point, not the moderate/high risk boundary.
		LikelyAI:   score >= t.LikelyAIScore,
		Strict:     d.config.Strict,
		Disclaimer: models.AIDisclaimer,
	}
}

func riskLevel(score int) string {
	switch {
	case score <= 1:
		return models.RiskLow
	case score <= 3:
		return models.RiskModerate
	default:
		return models.RiskHigh
	}
}

func shannonEntropy(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	total := float64(len(words))
	h := 0.0
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log(p+1e-12)
	}
	return math.Max(0, h)
}

// sentenceLengthStats returns the mean and population variance of the
// per-sentence word counts.
func sentenceLengthStats(sentences []string) (float64, float64) {
	if len(sentences) == 0 {
		return 0, 0
	}
	lengths := make([]float64, len(sentences))
	sum := 0.0
	for i, s := range sentences {
		lengths[i] = float64(len(processor.Words(s)))
		sum += lengths[i]
	}
	mean := sum / float64(len(lengths))
	variance := 0.0
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	return mean, variance / float64(len(lengths))
}

func repetitiveTrigrams(words []string, minCount int) int {
	if len(words) < 3 {
		return 0
	}
	counts := make(map[string]int)
	for i := 0; i+3 <= len(words); i++ {
		counts[strings.Join(words[i:i+3], " ")]++
	}
	n := 0
	for _, c := range counts {
		if c >= minCount {
			n++
		}
	}
	return n
}

func stopwordRatio(words []string) float64 {
	n := 0
	for _, w := range words {
		if _, ok := stopwords[w]; ok {
			n++
		}
	}
	return float64(n) / float64(max(1, len(words)))
}

func typeTokenRatio(words []string) float64 {
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return float64(len(unique)) / float64(max(1, len(words)))
}

func headingHits(words []string) int {
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[w] = struct{}{}
	}
	hits := 0
	for _, k := range headingKeywords {
		if _, ok := present[k]; ok {
			hits++
		}
	}
	return hits
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
