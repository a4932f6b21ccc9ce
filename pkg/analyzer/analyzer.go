// Package analyzer sanitizes inbound text and scores how suspicious it
// looks, using five independent heuristic layers over its own lexicons. It
// has no dependency on the pattern registry; the two are fused by the
// orchestrator.
package analyzer

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vigil-ai/vigil/pkg/cache"
)

// Config carries the analyzer's tunable thresholds. These are tuned
// defaults, not derived constants.
type Config struct {
	SuspiciousThreshold int           `mapstructure:"suspicious_threshold"`
	ManipulationMin     int           `mapstructure:"manipulation_min"`
	ExtractionMin       int           `mapstructure:"extraction_min"`
	BypassMin           int           `mapstructure:"bypass_min"`
	CacheSize           int           `mapstructure:"cache_size"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SuspiciousThreshold: 30,
		ManipulationMin:     2,
		ExtractionMin:       1,
		BypassMin:           1,
		CacheSize:           1000,
		CacheTTL:            5 * time.Minute,
	}
}

// Analyzer owns the sanitization pipeline and the suspicion layers.
type Analyzer struct {
	logger *logrus.Logger
	cfg    Config

	mu          sync.RWMutex
	customRules []CustomRule

	suspicionCache *cache.Cache[SuspicionAnalysis]
}

// New builds an analyzer. Zero-valued config fields fall back to defaults.
func New(logger *logrus.Logger, cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.SuspiciousThreshold <= 0 {
		cfg.SuspiciousThreshold = def.SuspiciousThreshold
	}
	if cfg.ManipulationMin <= 0 {
		cfg.ManipulationMin = def.ManipulationMin
	}
	if cfg.ExtractionMin <= 0 {
		cfg.ExtractionMin = def.ExtractionMin
	}
	if cfg.BypassMin <= 0 {
		cfg.BypassMin = def.BypassMin
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Analyzer{
		logger:         logger,
		cfg:            cfg,
		suspicionCache: cache.New[SuspicionAnalysis](cfg.CacheSize, cfg.CacheTTL),
	}
}

// RegisterRule adds a custom sanitization rule applied on every Sanitize
// call with ApplyCustomRules enabled. The rule is compiled eagerly so a bad
// pattern is rejected here, not skipped at request time.
func (a *Analyzer) RegisterRule(rule CustomRule) error {
	compiled, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return err
	}
	rule.compiled = compiled
	a.mu.Lock()
	defer a.mu.Unlock()
	a.customRules = append(a.customRules, rule)
	sort.SliceStable(a.customRules, func(i, j int) bool {
		return a.customRules[i].Priority > a.customRules[j].Priority
	})
	return nil
}

func (a *Analyzer) registeredRules() []CustomRule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]CustomRule(nil), a.customRules...)
}

// InstrumentSuspicionCache attaches observers to the suspicion cache so an
// owner can feed hits, misses and evictions into its own telemetry.
func (a *Analyzer) InstrumentSuspicionCache(onHit, onMiss func(), onEvict func(evicted int)) {
	a.suspicionCache.WithHooks(onHit, onMiss, onEvict)
}

// SuspicionCacheStats exposes the suspicion cache counters.
func (a *Analyzer) SuspicionCacheStats() cache.Stats {
	return a.suspicionCache.Stats()
}
