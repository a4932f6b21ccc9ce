package analyzer

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// LayerResult is the verdict of one heuristic layer.
type LayerResult struct {
	Detected   bool     `json:"detected"`
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons,omitempty"`
	Confidence float64  `json:"confidence"`
}

// SuspicionAnalysis aggregates the five layers. RiskScore is the sum of
// layer scores capped at 100; ConfidenceLevel is the fraction of layers
// that triggered.
type SuspicionAnalysis struct {
	Lexical    LayerResult `json:"lexical"`
	Semantic   LayerResult `json:"semantic"`
	Behavioral LayerResult `json:"behavioral"`
	Contextual LayerResult `json:"contextual"`
	Linguistic LayerResult `json:"linguistic"`

	RiskScore       int  `json:"risk_score"`
	ConfidenceLevel int  `json:"confidence_level"`
	Suspicious      bool `json:"suspicious"`
	FromCache       bool `json:"from_cache"`
}

// AnalyzeSuspicion scores the original (unsanitized) text across the five
// layers. Results are cached per (text, user); a cache hit returns scores
// identical to a fresh evaluation.
func (a *Analyzer) AnalyzeSuspicion(text, userID string) SuspicionAnalysis {
	if text == "" {
		return SuspicionAnalysis{ConfidenceLevel: 0}
	}

	key := userID + "\x00" + text
	if cached, ok := a.suspicionCache.Get(key); ok {
		cached.FromCache = true
		return cached
	}

	analysis := SuspicionAnalysis{
		Lexical:    a.lexicalLayer(text),
		Semantic:   a.semanticLayer(text),
		Behavioral: a.behavioralLayer(text),
		Contextual: a.contextualLayer(text),
		Linguistic: a.linguisticLayer(text),
	}

	layers := []LayerResult{
		analysis.Lexical, analysis.Semantic, analysis.Behavioral,
		analysis.Contextual, analysis.Linguistic,
	}
	total, triggered := 0, 0
	for _, l := range layers {
		total += l.Score
		if l.Detected {
			triggered++
		}
	}
	if total > 100 {
		total = 100
	}
	analysis.RiskScore = total
	analysis.ConfidenceLevel = int(math.Round(100 * float64(triggered) / float64(len(layers))))
	analysis.Suspicious = total >= a.cfg.SuspiciousThreshold

	if analysis.Suspicious && a.logger != nil {
		a.logger.WithFields(map[string]interface{}{
			"risk_score": total,
			"layers":     triggered,
		}).Debug("suspicious input")
	}

	a.suspicionCache.Set(key, analysis)
	return analysis
}

// lexicalLayer looks for hard, high-signal markers in the raw text.
func (a *Analyzer) lexicalLayer(text string) LayerResult {
	res := LayerResult{Confidence: 0.8}

	if escCount := len(escapeSequenceRe.FindAllString(text, -1)); escCount >= 5 {
		res.Score += 10
		res.Reasons = append(res.Reasons, fmt.Sprintf("high escape-sequence density: %d", escCount))
	}
	if strings.ContainsFunc(text, isInvisibleRune) {
		res.Score += 15
		res.Reasons = append(res.Reasons, "hidden characters present")
	}
	if scriptOpenRe.MatchString(text) {
		res.Score += 20
		res.Reasons = append(res.Reasons, "script tag")
	}
	if sqlFragmentRe.MatchString(text) {
		res.Score += 15
		res.Reasons = append(res.Reasons, "sql fragment")
	}
	if xssFragmentRe.MatchString(text) {
		res.Score += 15
		res.Reasons = append(res.Reasons, "xss fragment")
	}
	if base64BlobRe.MatchString(text) {
		res.Score += 10
		res.Reasons = append(res.Reasons, "base64-looking blob")
	}
	if ratio := specialCharRatio(text); ratio > 0.3 {
		res.Score += 10
		res.Reasons = append(res.Reasons, fmt.Sprintf("special-character ratio %.2f", ratio))
	}

	res.Detected = res.Score > 0
	return res
}

// semanticLayer counts intent keyword families. Each family contributes
// base + count*increment only once its count reaches the threshold.
func (a *Analyzer) semanticLayer(text string) LayerResult {
	res := LayerResult{Confidence: 0.75}
	lower := strings.ToLower(text)

	families := []struct {
		name      string
		keywords  []string
		threshold int
		base      int
		increment int
	}{
		{"manipulation", manipulationKeywords, a.cfg.ManipulationMin, 10, 5},
		{"extraction", extractionKeywords, a.cfg.ExtractionMin, 15, 5},
		{"bypass", bypassKeywords, a.cfg.BypassMin, 15, 5},
	}

	for _, fam := range families {
		count := 0
		for _, kw := range fam.keywords {
			count += strings.Count(lower, kw)
		}
		if count >= fam.threshold {
			res.Score += fam.base + count*fam.increment
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s keywords: %d", fam.name, count))
		}
	}

	if multiStepRe.MatchString(text) && stepContinuedRe.MatchString(text) {
		res.Score += 10
		res.Reasons = append(res.Reasons, "multi-step continuation pattern")
	}

	res.Detected = res.Score > 0
	return res
}

// behavioralLayer thresholds density signals independently.
func (a *Analyzer) behavioralLayer(text string) LayerResult {
	res := LayerResult{Confidence: 0.7}
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	wordCount := len(words)

	if wordCount >= 8 {
		if density := wordDensity(words, questionWords); density > 0.15 {
			res.Score += 10
			res.Reasons = append(res.Reasons, fmt.Sprintf("question-word density %.2f", density))
		}
		if density := wordDensity(words, commandVerbs); density > 0.2 {
			res.Score += 10
			res.Reasons = append(res.Reasons, fmt.Sprintf("command-verb density %.2f", density))
		}
	}

	urgency := 0
	for _, marker := range urgencyMarkers {
		urgency += strings.Count(lower, marker)
	}
	if urgency >= 2 {
		res.Score += 10
		res.Reasons = append(res.Reasons, fmt.Sprintf("urgency markers: %d", urgency))
	}

	if len(text) > 2000 {
		res.Score += 10
		res.Reasons = append(res.Reasons, "unusually long input")
	}

	if max := maxWordRepetition(words); max >= 5 {
		res.Score += 10
		res.Reasons = append(res.Reasons, fmt.Sprintf("word repeated %d times", max))
	}

	res.Detected = res.Score > 0
	return res
}

// contextualLayer looks for conversation-state manipulation.
func (a *Analyzer) contextualLayer(text string) LayerResult {
	res := LayerResult{Confidence: 0.7}
	lower := strings.ToLower(text)

	for _, phrase := range resetPhrases {
		if strings.Contains(lower, phrase) {
			res.Score += 15
			res.Reasons = append(res.Reasons, "conversation-reset phrase: "+phrase)
			break
		}
	}

	if len(text) < 200 {
		for _, sentence := range strings.FieldsFunc(lower, func(r rune) bool {
			return r == '.' || r == '?' || r == '!'
		}) {
			for _, pair := range contradictionPairs {
				if strings.Contains(sentence, pair[0]) && strings.Contains(sentence, pair[1]) {
					res.Score += 10
					res.Reasons = append(res.Reasons, fmt.Sprintf("contradiction: %q vs %q", pair[0], pair[1]))
					break
				}
			}
		}
	}

	if len(text) < 300 {
		topics := 0
		for _, topic := range topicVocabulary {
			if strings.Contains(lower, topic) {
				topics++
			}
		}
		if topics >= 3 {
			res.Score += 10
			res.Reasons = append(res.Reasons, fmt.Sprintf("rapid topic switching: %d topics", topics))
		}
	}

	if nestedConditionalRe.MatchString(text) || strings.Count(lower, "if ") >= 3 {
		res.Score += 10
		res.Reasons = append(res.Reasons, "nested conditional logic")
	}

	res.Detected = res.Score > 0
	return res
}

// linguisticLayer scores structural anomalies in the writing itself.
func (a *Analyzer) linguisticLayer(text string) LayerResult {
	res := LayerResult{Confidence: 0.65}

	if ratio := punctuationRatio(text); ratio > 0.15 {
		res.Score += 10
		res.Reasons = append(res.Reasons, fmt.Sprintf("punctuation density %.2f", ratio))
	}

	upper, lower := 0, 0
	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsLower(r):
			lower++
		}
	}
	if letters := upper + lower; letters > 20 && float64(upper)/float64(letters) > 0.5 {
		res.Score += 10
		res.Reasons = append(res.Reasons, "case-ratio anomaly")
	}

	words := strings.Fields(strings.ToLower(text))
	if max := maxWordRepetition(words); max >= 4 {
		res.Score += 5
		res.Reasons = append(res.Reasons, "repeated words")
	}

	if lines := numberedLineRe.FindAllString(text, -1); len(lines) >= 4 {
		res.Score += 5
		res.Reasons = append(res.Reasons, fmt.Sprintf("numbered-list density: %d lines", len(lines)))
	}

	if depth := maxBracketDepth(text); depth >= 3 {
		res.Score += 10
		res.Reasons = append(res.Reasons, fmt.Sprintf("bracket nesting depth %d", depth))
	}

	if caps := allCapsWordRe.FindAllString(text, -1); len(caps) >= 3 {
		res.Score += 10
		res.Reasons = append(res.Reasons, fmt.Sprintf("all-caps words: %d", len(caps)))
	}

	res.Detected = res.Score > 0
	return res
}

func specialCharRatio(text string) float64 {
	if text == "" {
		return 0
	}
	special := 0
	total := 0
	for _, r := range text {
		total++
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	return float64(special) / float64(total)
}

func punctuationRatio(text string) float64 {
	if text == "" {
		return 0
	}
	punct := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsPunct(r) {
			punct++
		}
	}
	return float64(punct) / float64(total)
}

func wordDensity(words []string, vocab []string) float64 {
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		trimmed := strings.Trim(w, ".,!?;:'\"")
		for _, v := range vocab {
			if trimmed == v {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(words))
}

func maxWordRepetition(words []string) int {
	counts := make(map[string]int)
	max := 0
	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		counts[w]++
		if counts[w] > max {
			max = counts[w]
		}
	}
	return max
}

func maxBracketDepth(text string) int {
	depth, max := 0, 0
	for _, r := range text {
		switch r {
		case '(', '[', '{':
			depth++
			if depth > max {
				max = depth
			}
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
