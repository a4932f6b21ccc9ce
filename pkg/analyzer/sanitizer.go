package analyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/vigil-ai/vigil/pkg/types"
)

// Options controls which sanitization stages run. DefaultOptions enables
// everything except strict shell stripping and URL removal.
type Options struct {
	Trim                bool `mapstructure:"trim"`
	StripInvisible      bool `mapstructure:"strip_invisible"`
	NeutralizeEncoding  bool `mapstructure:"neutralize_encoding"`
	ApplyCustomRules    bool `mapstructure:"apply_custom_rules"`
	NeutralizeInjection bool `mapstructure:"neutralize_injection"`
	NormalizeWhitespace bool `mapstructure:"normalize_whitespace"`
	NormalizeUnicode    bool `mapstructure:"normalize_unicode"`
	StripURLs           bool `mapstructure:"strip_urls"`
	StrictMode          bool `mapstructure:"strict_mode"`
	MaxLength           int  `mapstructure:"max_length"`

	// CustomRules are applied before the registered rules, highest
	// priority first.
	CustomRules []CustomRule `mapstructure:"custom_rules"`
}

// DefaultOptions returns the stock sanitization configuration.
func DefaultOptions() Options {
	return Options{
		Trim:                true,
		StripInvisible:      true,
		NeutralizeEncoding:  true,
		ApplyCustomRules:    true,
		NeutralizeInjection: true,
		NormalizeWhitespace: true,
		NormalizeUnicode:    true,
		MaxLength:           50000,
	}
}

// CustomRule is a caller- or configuration-supplied replacement rule.
type CustomRule struct {
	Name        string  `mapstructure:"name"`
	Pattern     string  `mapstructure:"pattern"`
	ReplaceWith string  `mapstructure:"replace_with"`
	Priority    int     `mapstructure:"priority"`
	Confidence  float64 `mapstructure:"confidence"`

	compiled *regexp.Regexp
}

// Modification records one sanitization change.
type Modification struct {
	Type       string  `json:"type"`
	BeforeLen  int     `json:"before_len"`
	AfterLen   int     `json:"after_len"`
	Confidence float64 `json:"confidence"`
}

// SanitizationResult is the outcome of one pipeline run. Immutable once
// returned.
type SanitizationResult struct {
	Sanitized         string          `json:"sanitized"`
	Modifications     []Modification  `json:"modifications"`
	Warnings          []string        `json:"warnings"`
	EncodingDetected  bool            `json:"encoding_detected"`
	InjectionDetected bool            `json:"injection_detected"`
	RemovedChars      int             `json:"removed_chars"`
	ByteLength        int             `json:"byte_length"`
	CharCount         int             `json:"char_count"`
	ConfidenceScore   int             `json:"confidence_score"`
	RiskLevel         types.RiskLevel `json:"risk_level"`
}

// sanitizeState threads the text and bookkeeping through the stages.
type sanitizeState struct {
	text   string
	result *SanitizationResult
}

func (s *sanitizeState) apply(stage string, confidence float64, next string) {
	if next == s.text {
		return
	}
	s.result.Modifications = append(s.result.Modifications, Modification{
		Type:       stage,
		BeforeLen:  utf8.RuneCountInString(s.text),
		AfterLen:   utf8.RuneCountInString(next),
		Confidence: confidence,
	})
	s.text = next
}

func (s *sanitizeState) warn(msg string) {
	s.result.Warnings = append(s.result.Warnings, msg)
}

// Sanitize runs the ordered sanitization pipeline. Each stage is idempotent:
// sanitizing already-sanitized output of the same configuration records no
// further modifications.
func (a *Analyzer) Sanitize(text string, opts Options) SanitizationResult {
	result := SanitizationResult{}
	st := &sanitizeState{text: text, result: &result}

	if opts.Trim {
		st.apply("trim", 1.0, strings.TrimSpace(st.text))
	}
	if opts.StripInvisible {
		a.stripInvisible(st)
	}
	if opts.NeutralizeEncoding {
		a.neutralizeEncoding(st)
	}
	if opts.ApplyCustomRules {
		a.applyCustomRules(st, opts.CustomRules)
	}
	if opts.NeutralizeInjection {
		a.neutralizeInjection(st, opts.StrictMode)
	}
	if opts.NormalizeWhitespace {
		next := multiSpaceRe.ReplaceAllString(st.text, " ")
		next = excessBlankLines.ReplaceAllString(next, "\n\n")
		st.apply("whitespace_normalized", 0.95, next)
	}
	if opts.NormalizeUnicode {
		st.apply("unicode_normalized", 0.9, norm.NFC.String(st.text))
	}
	if opts.StripURLs {
		st.apply("url_stripped", 0.85, bareURLRe.ReplaceAllString(st.text, "[URL]"))
	}
	if opts.MaxLength > 0 {
		a.enforceMaxLength(st, opts.MaxLength)
	}

	result.Sanitized = st.text
	result.ByteLength = len(st.text)
	result.CharCount = utf8.RuneCountInString(st.text)
	result.ConfidenceScore = sanitizeConfidence(result.Modifications, len(result.Warnings))
	result.RiskLevel = sanitizeRiskLevel(&result)
	return result
}

func (a *Analyzer) stripInvisible(st *sanitizeState) {
	stripped := strings.Map(func(r rune) rune {
		if isInvisibleRune(r) {
			return -1
		}
		return r
	}, st.text)
	removed := utf8.RuneCountInString(st.text) - utf8.RuneCountInString(stripped)
	st.apply("invisible_stripped", 0.9, stripped)
	if removed > 10 {
		st.warn(fmt.Sprintf("unusually high invisible character count: %d", removed))
	}
}

func (a *Analyzer) neutralizeEncoding(st *sanitizeState) {
	for _, ep := range encodingPatterns {
		next := ep.re.ReplaceAllString(st.text, ep.placeholder)
		if next != st.text {
			st.result.EncodingDetected = true
			st.apply("encoding_neutralized:"+ep.name, ep.confidence, next)
		}
	}
	if st.result.EncodingDetected {
		st.warn("encoded content replaced with placeholders")
	}
}

func (a *Analyzer) applyCustomRules(st *sanitizeState, callerRules []CustomRule) {
	rules := make([]CustomRule, 0, len(callerRules)+len(a.customRules))
	rules = append(rules, callerRules...)
	rules = append(rules, a.registeredRules()...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, rule := range rules {
		re := rule.compiled
		if re == nil {
			var err error
			re, err = regexp.Compile(rule.Pattern)
			if err != nil {
				if a.logger != nil {
					a.logger.WithError(err).WithField("rule", rule.Name).Warn("skipping uncompilable custom rule")
				}
				continue
			}
		}
		confidence := rule.Confidence
		if confidence <= 0 {
			confidence = 0.8
		}
		st.apply("custom:"+rule.Name, confidence, re.ReplaceAllString(st.text, rule.ReplaceWith))
	}
}

func (a *Analyzer) neutralizeInjection(st *sanitizeState, strict bool) {
	detected := false

	next := scriptBlockRe.ReplaceAllString(st.text, "[SCRIPT_REMOVED]")
	next = scriptOpenRe.ReplaceAllString(next, "[SCRIPT_REMOVED]")
	if next != st.text {
		detected = true
		st.apply("injection_neutralized", 0.9, next)
	}

	// the colon is swallowed by the placeholder; an entity like &#58; would
	// merge with neighbouring entities into a run the encoding stage rewrites
	next = dangerousScheme.ReplaceAllString(st.text, "[SCHEME_NEUTRALIZED]")
	if next != st.text {
		detected = true
		st.apply("scheme_neutralized", 0.85, next)
	}

	next = eventHandlerRe.ReplaceAllString(st.text, "")
	if next != st.text {
		detected = true
		st.apply("event_handler_stripped", 0.85, next)
	}

	next = sqlKeywordRe.ReplaceAllString(st.text, "[SQL_NEUTRALIZED]")
	if next != st.text {
		detected = true
		st.apply("sql_neutralized", 0.8, next)
	}

	if strict {
		st.apply("shell_meta_stripped", 0.75, shellMetaRe.ReplaceAllString(st.text, ""))
	}

	// escape any angle brackets that survived the structural rules; under
	// strict mode entities would lose their & and ; to the shell strip, so
	// brackets are removed instead
	if strict {
		next = strings.ReplaceAll(st.text, "<", "")
		next = strings.ReplaceAll(next, ">", "")
	} else {
		next = strings.ReplaceAll(st.text, "<", "&lt;")
		next = strings.ReplaceAll(next, ">", "&gt;")
	}
	st.apply("markup_escaped", 0.9, next)

	if detected {
		st.result.InjectionDetected = true
		st.warn("injection markers neutralized")
	}
}

func (a *Analyzer) enforceMaxLength(st *sanitizeState, maxLen int) {
	runes := []rune(st.text)
	if len(runes) <= maxLen {
		return
	}
	// trailing whitespace left by the cut would otherwise surface as a
	// fresh trim modification on a second pass
	kept := strings.TrimRight(string(runes[:maxLen]), " \t\n")
	removed := len(runes) - utf8.RuneCountInString(kept)
	st.apply("truncated", 1.0, kept)
	st.result.RemovedChars = removed
	st.warn(fmt.Sprintf("input truncated by %d characters", removed))
}

// sanitizeConfidence starts at 100 and decays per modification and warning.
func sanitizeConfidence(mods []Modification, warnings int) int {
	score := 100.0
	for _, m := range mods {
		score -= (1 - m.Confidence) * 10
	}
	score -= float64(warnings) * 5
	if score < 0 {
		score = 0
	}
	return int(score + 0.5)
}

func sanitizeRiskLevel(r *SanitizationResult) types.RiskLevel {
	score := 0
	if r.EncodingDetected {
		score += 30
	}
	if r.InjectionDetected {
		score += 40
	}
	modScore := len(r.Modifications) * 5
	if modScore > 30 {
		modScore = 30
	}
	score += modScore
	return types.RiskLevelForScore(score)
}
