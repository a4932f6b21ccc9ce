// Package moderation scores and scrubs model output: harmful-content flags,
// disallowed-entity redaction, PII detection, malicious-code removal,
// profanity filtering and a toxicity/content-safety score.
package moderation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/vigil-ai/vigil/pkg/types"
)

// Config carries the moderator's tunables.
type Config struct {
	ToxicityThreshold int      `mapstructure:"toxicity_threshold"`
	MinSafeScore      int      `mapstructure:"min_safe_score"`
	PIIConfidenceMin  float64  `mapstructure:"pii_confidence_min"`
	Entities          []Entity `mapstructure:"entities"`
}

// DefaultConfig returns the stock moderation thresholds and entity list.
func DefaultConfig() Config {
	return Config{
		ToxicityThreshold: 50,
		MinSafeScore:      70,
		PIIConfidenceMin:  0.6,
		Entities:          DefaultEntities(),
	}
}

// Context toggles individual checks for one Moderate call. The zero value
// runs everything in output mode.
type Context struct {
	IsUserInput   bool `mapstructure:"is_user_input"`
	StrictMode    bool `mapstructure:"strict_mode"`
	SkipHarmful   bool `mapstructure:"skip_harmful"`
	SkipEntities  bool `mapstructure:"skip_entities"`
	SkipPII       bool `mapstructure:"skip_pii"`
	SkipCode      bool `mapstructure:"skip_code"`
	SkipProfanity bool `mapstructure:"skip_profanity"`
	SkipToxicity  bool `mapstructure:"skip_toxicity"`
}

// ContextFromMap decodes a loosely-typed caller context.
func ContextFromMap(m map[string]interface{}) (Context, error) {
	var ctx Context
	if err := mapstructure.Decode(m, &ctx); err != nil {
		return Context{}, fmt.Errorf("decoding moderation context: %w", err)
	}
	return ctx, nil
}

// Flag marks one harmful-content category hit. Flags never mutate the text.
type Flag struct {
	Category string         `json:"category"`
	Severity types.Severity `json:"severity"`
}

// PIIDetection is one located piece of personal data. Offsets refer to the
// text as it stood when PII detection ran.
type PIIDetection struct {
	Type        string  `json:"type"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Confidence  float64 `json:"confidence"`
	Sensitivity string  `json:"sensitivity"`
	Redacted    bool    `json:"redacted"`
}

// ModerationResult is the outcome of one Moderate call.
type ModerationResult struct {
	Moderated         string          `json:"moderated"`
	Flags             []Flag          `json:"flags,omitempty"`
	HasPII            bool            `json:"has_pii"`
	PII               []PIIDetection  `json:"pii,omitempty"`
	BlockedModelNames []string        `json:"blocked_model_names,omitempty"`
	EntityMatches     []EntityMatch   `json:"entity_matches,omitempty"`
	CodeFindings      []string        `json:"code_findings,omitempty"`
	ProfanityCount    int             `json:"profanity_count"`
	ToxicityScore     int             `json:"toxicity_score"`
	ContentScore      int             `json:"content_score"`
	RiskLevel         types.RiskLevel `json:"risk_level"`
	IsClean           bool            `json:"is_clean"`
	Modifications     int             `json:"modifications"`
	Warnings          []string        `json:"warnings,omitempty"`
}

// Moderator runs the ordered moderation checks. Safe for concurrent use.
type Moderator struct {
	logger   *logrus.Logger
	cfg      Config
	entities *entitySet
}

// New builds a moderator. Zero-valued config fields fall back to defaults.
func New(logger *logrus.Logger, cfg Config) *Moderator {
	def := DefaultConfig()
	if cfg.ToxicityThreshold <= 0 {
		cfg.ToxicityThreshold = def.ToxicityThreshold
	}
	if cfg.MinSafeScore <= 0 {
		cfg.MinSafeScore = def.MinSafeScore
	}
	if cfg.PIIConfidenceMin <= 0 {
		cfg.PIIConfidenceMin = def.PIIConfidenceMin
	}
	if cfg.Entities == nil {
		cfg.Entities = def.Entities
	}
	return &Moderator{
		logger:   logger,
		cfg:      cfg,
		entities: newEntitySet(cfg.Entities),
	}
}

// EntityCounters exposes the lifetime per-entity detection counters.
func (m *Moderator) EntityCounters() map[string]uint64 {
	return m.entities.Counters()
}

// Moderate runs the checks in order. Each sub-check is isolated: a panic in
// one is logged, recorded as a warning and the remaining checks still run.
func (m *Moderator) Moderate(text string, ctx Context) ModerationResult {
	result := ModerationResult{Moderated: text, ContentScore: 100, RiskLevel: types.RiskSafe, IsClean: true}
	if strings.TrimSpace(text) == "" {
		return result
	}

	if !ctx.SkipHarmful {
		m.runCheck("harmful_content", &result, func() { m.checkHarmful(&result) })
	}
	if !ctx.SkipEntities && !ctx.IsUserInput {
		m.runCheck("entity_redaction", &result, func() { m.redactEntities(&result) })
	}
	if !ctx.SkipPII {
		m.runCheck("pii", &result, func() { m.detectPII(&result) })
	}
	if !ctx.SkipCode {
		m.runCheck("malicious_code", &result, func() { m.removeMaliciousCode(&result) })
	}
	if !ctx.SkipProfanity {
		m.runCheck("profanity", &result, func() { m.filterProfanity(&result) })
	}
	if !ctx.SkipToxicity {
		m.runCheck("toxicity", &result, func() { m.scoreToxicity(text, &result, ctx.StrictMode) })
	}

	m.scoreContent(&result)
	m.assignRisk(&result)
	result.IsClean = len(result.Flags) == 0 &&
		result.ContentScore >= m.cfg.MinSafeScore &&
		result.ToxicityScore < m.cfg.ToxicityThreshold
	return result
}

func (m *Moderator) runCheck(name string, result *ModerationResult, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("check %s failed", name))
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{"check": name, "panic": r}).Error("moderation check panicked")
			}
		}
	}()
	fn()
}

func (m *Moderator) checkHarmful(result *ModerationResult) {
	for _, hp := range harmfulPatterns {
		if hp.re.MatchString(result.Moderated) {
			result.Flags = append(result.Flags, Flag{Category: hp.Category, Severity: hp.Severity})
		}
	}
}

func (m *Moderator) redactEntities(result *ModerationResult) {
	scrubbed, matches := m.entities.redact(result.Moderated)
	if scrubbed == result.Moderated {
		return
	}
	result.Moderated = scrubbed
	result.EntityMatches = matches
	for _, match := range matches {
		result.BlockedModelNames = append(result.BlockedModelNames, match.Name)
		result.Modifications += match.Count
	}
}

// detectPII locates every PII shape first, then redacts qualifying
// detections from the highest offset down so earlier offsets stay valid.
func (m *Moderator) detectPII(result *ModerationResult) {
	text := result.Moderated
	var detections []PIIDetection
	for _, d := range piiDetectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			candidate := text[loc[0]:loc[1]]
			if d.Validate != nil && !d.Validate(candidate) {
				continue
			}
			detections = append(detections, PIIDetection{
				Type:        d.Type,
				Start:       loc[0],
				End:         loc[1],
				Confidence:  d.Confidence,
				Sensitivity: d.Sensitivity,
			})
		}
	}
	if len(detections) == 0 {
		return
	}

	sort.Slice(detections, func(i, j int) bool { return detections[i].Start > detections[j].Start })
	minStart := len(text) + 1
	for i := range detections {
		d := &detections[i]
		if d.Confidence < m.cfg.PIIConfidenceMin {
			continue
		}
		if d.End > minStart {
			// overlaps a span already redacted
			continue
		}
		text = text[:d.Start] + "[" + d.Type + "_REDACTED]" + text[d.End:]
		minStart = d.Start
		d.Redacted = true
		result.Modifications++
	}

	result.Moderated = text
	result.HasPII = true
	result.PII = detections
}

func (m *Moderator) removeMaliciousCode(result *ModerationResult) {
	for _, cp := range maliciousCodePatterns {
		next := cp.re.ReplaceAllString(result.Moderated, cp.Placeholder)
		if next == result.Moderated {
			continue
		}
		result.CodeFindings = append(result.CodeFindings, cp.Name)
		result.Modifications++
		result.Moderated = next
	}
	if len(result.CodeFindings) > 0 {
		result.Warnings = append(result.Warnings, "malicious code fragments removed")
	}
}

func (m *Moderator) filterProfanity(result *ModerationResult) {
	for _, re := range profanityRes {
		found := len(re.FindAllString(result.Moderated, -1))
		if found == 0 {
			continue
		}
		result.ProfanityCount += found
		result.Modifications += found
		result.Moderated = re.ReplaceAllString(result.Moderated, profanityMask)
	}
}

// scoreToxicity works over the original text so earlier redactions do not
// hide tone signals.
func (m *Moderator) scoreToxicity(original string, result *ModerationResult, strict bool) {
	score := 0.0
	lower := strings.ToLower(original)
	for _, re := range profanityRes {
		score += float64(len(re.FindAllString(lower, -1))) * 10
	}
	for _, w := range insultWords {
		score += float64(len(wordBoundaryFn(w).FindAllString(lower, -1))) * 8
	}
	for _, w := range hateWords {
		score += float64(len(wordBoundaryFn(w).FindAllString(lower, -1))) * 25
	}
	if len(capsSpanRe.FindAllString(original, -1)) >= 2 {
		score += 10
	}
	score += float64(len(punctRunRe.FindAllString(original, -1))) * 5
	for em, _ := elongatedRe.FindStringMatch(original); em != nil; em, _ = elongatedRe.FindNextMatch(em) {
		score += 5
	}
	if strict {
		score *= 1.5
	}
	if score > 100 {
		score = 100
	}
	result.ToxicityScore = int(score + 0.5)
}

func (m *Moderator) scoreContent(result *ModerationResult) {
	score := 100.0
	for _, f := range result.Flags {
		score -= float64(f.Severity.Penalty())
	}
	score -= float64(result.ToxicityScore) * 0.3
	score -= float64(len(result.PII)) * 5
	modPenalty := result.Modifications * 2
	if modPenalty > 20 {
		modPenalty = 20
	}
	score -= float64(modPenalty)
	if score < 0 {
		score = 0
	}
	result.ContentScore = int(score + 0.5)
}

func (m *Moderator) assignRisk(result *ModerationResult) {
	for _, f := range result.Flags {
		if f.Severity == types.SeverityCritical {
			result.RiskLevel = types.RiskCritical
			return
		}
	}
	for _, f := range result.Flags {
		if f.Severity == types.SeverityHigh {
			result.RiskLevel = types.RiskHigh
			return
		}
	}
	if result.ToxicityScore > 80 {
		result.RiskLevel = types.RiskHigh
		return
	}
	result.RiskLevel = types.RiskLevelForScore(100 - result.ContentScore)
}
