// Package guard fuses pattern detection, suspicion analysis and content
// moderation into a single inbound verdict and an outbound sanitization
// path. It is the only package callers need to import.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/vigil-ai/vigil/pkg/analyzer"
	"github.com/vigil-ai/vigil/pkg/cache"
	"github.com/vigil-ai/vigil/pkg/infra/audit"
	"github.com/vigil-ai/vigil/pkg/infra/metrics"
	"github.com/vigil-ai/vigil/pkg/moderation"
	"github.com/vigil-ai/vigil/pkg/patterns"
	"github.com/vigil-ai/vigil/pkg/types"
)

// Detection stages reported in verdicts and block telemetry.
const (
	StagePatterns   = "patterns"
	StageSuspicion  = "suspicion"
	StageModeration = "moderation"
)

// TrustSource answers whether a user bypasses detection. Implementations
// are external; a lookup failure means "not trusted".
type TrustSource interface {
	IsTrusted(ctx context.Context, userID string) (bool, error)
}

// StaticTrustList is a fixed allow-list TrustSource.
type StaticTrustList map[string]bool

func (l StaticTrustList) IsTrusted(_ context.Context, userID string) (bool, error) {
	return l[userID], nil
}

// Config carries the orchestration thresholds.
type Config struct {
	HighRiskThreshold int           `mapstructure:"high_risk_threshold"`
	MinSafeScore      int           `mapstructure:"min_safe_score"`
	FlagThreshold     int           `mapstructure:"flag_threshold"`
	BlockHistorySize  int           `mapstructure:"block_history_size"`
	CacheSize         int           `mapstructure:"cache_size"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// DefaultConfig returns the stock orchestration thresholds.
func DefaultConfig() Config {
	return Config{
		HighRiskThreshold: 70,
		MinSafeScore:      70,
		FlagThreshold:     5,
		BlockHistorySize:  20,
		CacheSize:         500,
		CacheTTL:          time.Minute,
	}
}

// RequestContext carries per-call options into CheckInput.
type RequestContext struct {
	UserID     string                 `mapstructure:"user_id"`
	SkipCache  bool                   `mapstructure:"skip_cache"`
	StrictMode bool                   `mapstructure:"strict_mode"`
	Context    map[string]interface{} `mapstructure:"context"`
}

// UnifiedVerdict is the combined outcome of every inbound stage.
type UnifiedVerdict struct {
	Allowed         bool                         `json:"allowed"`
	Blocked         bool                         `json:"blocked"`
	BlockStage      string                       `json:"block_stage,omitempty"`
	BlockReasons    []string                     `json:"block_reasons,omitempty"`
	Action          types.Action                 `json:"action"`
	RiskScore       int                          `json:"risk_score"`
	ConfidenceLevel int                          `json:"confidence_level"`
	RiskLevel       types.RiskLevel              `json:"risk_level"`
	Detection       patterns.DetectionOutcome    `json:"detection"`
	Suspicion       analyzer.SuspicionAnalysis   `json:"suspicion"`
	Moderation      *moderation.ModerationResult `json:"moderation,omitempty"`
	Sanitized       string                       `json:"sanitized,omitempty"`
	TrustedBypass   bool                         `json:"trusted_bypass"`
	CacheHit        bool                         `json:"cache_hit"`
}

// OutputResult is the outcome of the outbound sanitization path.
type OutputResult struct {
	Sanitized string   `json:"sanitized"`
	Modified  bool     `json:"modified"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Guard owns the full pipeline. All collaborators are injected; none are
// process-wide singletons.
type Guard struct {
	logger    *logrus.Logger
	cfg       Config
	evaluator *patterns.Evaluator
	analyzer  *analyzer.Analyzer
	moderator *moderation.Moderator
	trust     TrustSource
	sink      audit.Sink
	metrics   *metrics.Collector
	verdicts  *cache.Cache[UnifiedVerdict]
	tracker   *tracker
}

// Option customises a Guard at construction.
type Option func(*Guard)

// WithTrustSource installs the trusted-user allow-list source.
func WithTrustSource(src TrustSource) Option { return func(g *Guard) { g.trust = src } }

// WithAuditSink installs the fire-and-forget audit sink.
func WithAuditSink(sink audit.Sink) Option { return func(g *Guard) { g.sink = sink } }

// WithMetrics installs the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option { return func(g *Guard) { g.metrics = c } }

// New builds a Guard over the three detection components.
func New(logger *logrus.Logger, cfg Config, ev *patterns.Evaluator, an *analyzer.Analyzer, mod *moderation.Moderator, opts ...Option) *Guard {
	def := DefaultConfig()
	if cfg.HighRiskThreshold <= 0 {
		cfg.HighRiskThreshold = def.HighRiskThreshold
	}
	if cfg.MinSafeScore <= 0 {
		cfg.MinSafeScore = def.MinSafeScore
	}
	if cfg.FlagThreshold <= 0 {
		cfg.FlagThreshold = def.FlagThreshold
	}
	if cfg.BlockHistorySize <= 0 {
		cfg.BlockHistorySize = def.BlockHistorySize
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	g := &Guard{
		logger:    logger,
		cfg:       cfg,
		evaluator: ev,
		analyzer:  an,
		moderator: mod,
		metrics:   metrics.NewNopCollector(),
		verdicts:  cache.New[UnifiedVerdict](cfg.CacheSize, cfg.CacheTTL),
		tracker:   newTracker(cfg.FlagThreshold, cfg.BlockHistorySize),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.instrumentCaches()
	return g
}

// instrumentCaches feeds cache activity into the collector. Wired after the
// options so the counters land in whichever collector the caller installed.
func (g *Guard) instrumentCaches() {
	g.verdicts.WithHooks(
		func() { g.metrics.CacheHits.WithLabelValues("verdict").Inc() },
		func() { g.metrics.CacheMisses.WithLabelValues("verdict").Inc() },
		func(evicted int) { g.metrics.CacheEvictions.WithLabelValues("verdict").Add(float64(evicted)) },
	)
	g.analyzer.InstrumentSuspicionCache(
		func() { g.metrics.CacheHits.WithLabelValues("suspicion").Inc() },
		func() { g.metrics.CacheMisses.WithLabelValues("suspicion").Inc() },
		func(evicted int) { g.metrics.CacheEvictions.WithLabelValues("suspicion").Add(float64(evicted)) },
	)
}

// neutralVerdict is the fail-safe result for malformed input and internal
// faults: zero risk, full confidence, allowed.
func neutralVerdict() UnifiedVerdict {
	return UnifiedVerdict{
		Allowed:         true,
		Action:          types.ActionAllow,
		ConfidenceLevel: 100,
		RiskLevel:       types.RiskSafe,
	}
}

// CheckInput runs the inbound pipeline: pattern registry, then suspicion,
// then moderation over the sanitized text. It never returns an error; any
// internal fault degrades to the neutral verdict.
func (g *Guard) CheckInput(ctx context.Context, text string, reqCtx RequestContext) (verdict UnifiedVerdict) {
	defer func() {
		if r := recover(); r != nil {
			if g.logger != nil {
				g.logger.WithField("panic", r).Error("check_input failed, returning neutral verdict")
			}
			verdict = neutralVerdict()
		}
	}()

	if strings.TrimSpace(text) == "" {
		return neutralVerdict()
	}

	if g.isTrusted(ctx, reqCtx.UserID) {
		audit.Emit(g.sink, audit.KindTrustedBypass, reqCtx.UserID, map[string]interface{}{
			"text_len": len(text),
		})
		v := neutralVerdict()
		v.TrustedBypass = true
		return v
	}

	key := reqCtx.UserID + "\x00" + text
	if !reqCtx.SkipCache {
		if cached, ok := g.verdicts.Get(key); ok {
			cached.CacheHit = true
			// a repeated blocked attempt still counts against the user
			if cached.Blocked {
				g.tracker.recordBlock(reqCtx.UserID)
			}
			return cached
		}
	}

	verdict = g.runPipeline(ctx, text, reqCtx)
	if !reqCtx.SkipCache {
		g.verdicts.Set(key, verdict)
	}
	return verdict
}

func (g *Guard) runPipeline(ctx context.Context, text string, reqCtx RequestContext) UnifiedVerdict {
	verdict := UnifiedVerdict{Allowed: true, Action: types.ActionAllow}

	detection := g.evaluator.Evaluate(ctx, text, reqCtx.UserID)
	verdict.Detection = detection
	verdict.Action = detection.Action
	verdict.RiskScore = detection.RiskScore
	verdict.ConfidenceLevel = detection.ConfidenceLevel

	if detection.Blocked() {
		return g.block(verdict, StagePatterns, detection.Categories(), reqCtx.UserID, map[string]interface{}{
			"risk_score": detection.RiskScore,
			"categories": detection.Categories(),
		})
	}

	suspicion := g.analyzer.AnalyzeSuspicion(text, reqCtx.UserID)
	verdict.Suspicion = suspicion
	if suspicion.RiskScore > verdict.RiskScore {
		verdict.RiskScore = suspicion.RiskScore
	}
	if suspicion.Suspicious {
		g.tracker.recordSuspicion(reqCtx.UserID)
		audit.Emit(g.sink, audit.KindSuspiciousInput, reqCtx.UserID, map[string]interface{}{
			"risk_score": suspicion.RiskScore,
			"confidence": suspicion.ConfidenceLevel,
		})
	}
	if suspicion.RiskScore >= g.cfg.HighRiskThreshold {
		return g.block(verdict, StageSuspicion, []string{"suspicious_input"}, reqCtx.UserID, map[string]interface{}{
			"risk_score": suspicion.RiskScore,
		})
	}

	sanOpts := analyzer.DefaultOptions()
	sanOpts.StrictMode = reqCtx.StrictMode
	san := g.analyzer.Sanitize(text, sanOpts)
	verdict.Sanitized = san.Sanitized

	modCtx := moderation.Context{IsUserInput: true, StrictMode: reqCtx.StrictMode}
	if reqCtx.Context != nil {
		if decoded, err := moderation.ContextFromMap(reqCtx.Context); err == nil {
			decoded.IsUserInput = true
			modCtx = decoded
		} else if g.logger != nil {
			g.logger.WithError(err).Warn("ignoring malformed moderation context")
		}
	}
	mod := g.moderator.Moderate(san.Sanitized, modCtx)
	verdict.Moderation = &mod
	if mod.ContentScore < g.cfg.MinSafeScore || mod.RiskLevel == types.RiskCritical {
		reasons := flagCategories(mod.Flags)
		if len(reasons) == 0 {
			reasons = []string{"unsafe_content"}
		}
		return g.block(verdict, StageModeration, reasons, reqCtx.UserID, map[string]interface{}{
			"content_score": mod.ContentScore,
			"toxicity":      mod.ToxicityScore,
		})
	}

	verdict.RiskLevel = types.RiskLevelForScore(verdict.RiskScore)
	return verdict
}

// block finalizes a blocked verdict, records it against the user and emits
// the security-log event. Reasons are category names, never rule internals.
func (g *Guard) block(verdict UnifiedVerdict, stage string, reasons []string, userID string, payload map[string]interface{}) UnifiedVerdict {
	verdict.Allowed = false
	verdict.Blocked = true
	verdict.BlockStage = stage
	verdict.BlockReasons = reasons
	verdict.Action = types.ActionBlock
	verdict.RiskLevel = types.RiskLevelForScore(verdict.RiskScore)

	g.tracker.recordBlock(userID)
	g.metrics.Blocks.WithLabelValues(stage).Inc()
	payload["stage"] = stage
	payload["reasons"] = reasons
	audit.Emit(g.sink, audit.KindSecurityLog, userID, payload)

	if g.logger != nil {
		g.logger.WithFields(logrus.Fields{
			"stage":   stage,
			"reasons": reasons,
			"user_id": userID,
		}).Warn("input blocked")
	}
	return verdict
}

func flagCategories(flags []moderation.Flag) []string {
	seen := make(map[string]bool, len(flags))
	var out []string
	for _, f := range flags {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}

func (g *Guard) isTrusted(ctx context.Context, userID string) bool {
	if g.trust == nil || userID == "" {
		return false
	}
	trusted, err := g.trust.IsTrusted(ctx, userID)
	if err != nil {
		if g.logger != nil {
			g.logger.WithError(err).Warn("trust source unavailable, treating user as untrusted")
		}
		return false
	}
	return trusted
}

// Analyze is the caller-facing wrapper around CheckInput. Options arrive as
// a loosely-typed map (user_id, skip_cache, strict_mode, context).
func (g *Guard) Analyze(ctx context.Context, text string, options map[string]interface{}) UnifiedVerdict {
	var reqCtx RequestContext
	if options != nil {
		if err := mapstructure.Decode(options, &reqCtx); err != nil {
			if g.logger != nil {
				g.logger.WithError(err).Warn("ignoring malformed analyze options")
			}
			reqCtx = RequestContext{}
		}
	}
	return g.CheckInput(ctx, text, reqCtx)
}

// SanitizeOutput moderates model output before it reaches the user. It
// never returns an error; on internal failure the text passes through with
// a generic warning.
func (g *Guard) SanitizeOutput(ctx context.Context, text, userID string) (result OutputResult) {
	defer func() {
		if r := recover(); r != nil {
			if g.logger != nil {
				g.logger.WithField("panic", r).Error("sanitize_output failed, passing text through")
			}
			result = OutputResult{Sanitized: text, Warnings: []string{"output moderation unavailable"}}
		}
	}()

	mod := g.moderator.Moderate(text, moderation.Context{IsUserInput: false})
	result = OutputResult{
		Sanitized: mod.Moderated,
		Modified:  mod.Moderated != text,
		Warnings:  mod.Warnings,
	}
	if result.Modified {
		audit.Emit(g.sink, audit.KindModeration, userID, map[string]interface{}{
			"modifications":  mod.Modifications,
			"blocked_models": mod.BlockedModelNames,
			"content_score":  mod.ContentScore,
		})
	}
	return result
}

// UserStatus reports a user's block/suspicion standing.
func (g *Guard) UserStatus(userID string) UserStatus {
	return g.tracker.status(userID)
}

// ResetUser clears a user's counters and flag.
func (g *Guard) ResetUser(userID string) {
	g.tracker.reset(userID)
	if g.logger != nil {
		g.logger.WithField("user_id", userID).Info("user standing reset")
	}
}

// VerdictCacheStats exposes the verdict cache counters.
func (g *Guard) VerdictCacheStats() cache.Stats {
	return g.verdicts.Stats()
}

// BlockMessage is the generic user-visible text for a blocked request.
func BlockMessage(verdict UnifiedVerdict) string {
	if !verdict.Blocked {
		return ""
	}
	if len(verdict.BlockReasons) == 0 {
		return "blocked for safety"
	}
	return fmt.Sprintf("blocked for safety (%s)", strings.Join(verdict.BlockReasons, ", "))
}
