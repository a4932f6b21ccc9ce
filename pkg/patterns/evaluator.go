package patterns

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vigil-ai/vigil/pkg/infra/metrics"
	"github.com/vigil-ai/vigil/pkg/types"
)

// DefaultEvalBudget bounds a single pattern evaluation when the pattern does
// not carry its own budget.
const DefaultEvalBudget = 100 * time.Millisecond

// TriggeredPattern records one matched rule inside a DetectionOutcome.
type TriggeredPattern struct {
	PatternID string         `json:"pattern_id"`
	Category  Category       `json:"category"`
	Severity  types.Severity `json:"severity"`
	Weight    float64        `json:"weight"`
	EvalTime  time.Duration  `json:"eval_time"`
}

// DetectionOutcome is the result of evaluating every enabled pattern against
// one input. Immutable once returned.
type DetectionOutcome struct {
	RiskScore       int                `json:"risk_score"`
	ConfidenceLevel int                `json:"confidence_level"`
	Triggered       []TriggeredPattern `json:"triggered"`
	Action          types.Action       `json:"action"`
	EvalTime        time.Duration      `json:"eval_time"`
	UsedAsync       bool               `json:"used_async"`
}

// Blocked reports whether the outcome demands a block.
func (o DetectionOutcome) Blocked() bool { return o.Action == types.ActionBlock }

// Categories returns the distinct triggered categories in trigger order,
// suitable for user-visible block reasons.
func (o DetectionOutcome) Categories() []string {
	seen := make(map[Category]bool, len(o.Triggered))
	var out []string
	for _, tp := range o.Triggered {
		if !seen[tp.Category] {
			seen[tp.Category] = true
			out = append(out, string(tp.Category))
		}
	}
	return out
}

// Evaluator runs the registry's enabled patterns over input text.
type Evaluator struct {
	registry *Registry
	logger   *logrus.Logger
	metrics  *metrics.Collector
	budget   time.Duration
}

// NewEvaluator wires an evaluator to its registry. The collector may be a
// nop collector but must not be nil.
func NewEvaluator(registry *Registry, logger *logrus.Logger, collector *metrics.Collector) *Evaluator {
	return &Evaluator{
		registry: registry,
		logger:   logger,
		metrics:  collector,
		budget:   DefaultEvalBudget,
	}
}

// SetBudget overrides the default per-pattern evaluation budget. Patterns
// carrying their own MaxEvalMS are unaffected.
func (e *Evaluator) SetBudget(d time.Duration) {
	if d > 0 {
		e.budget = d
	}
}

type matchResult struct {
	index    int
	pattern  *SecurityPattern
	matched  bool
	elapsed  time.Duration
	timedOut bool
	err      error
}

// Evaluate runs every enabled pattern against text. High-priority and
// non-async patterns run synchronously in registration order; async-eligible
// low-priority patterns run concurrently and are joined before scoring.
// A single pattern's timeout or engine fault is isolated: it contributes
// nothing to the score and never aborts the remaining patterns.
func (e *Evaluator) Evaluate(ctx context.Context, text, userID string) DetectionOutcome {
	start := time.Now()
	if text == "" {
		return DetectionOutcome{Action: types.ActionAllow, ConfidenceLevel: 100}
	}

	snapshot := e.registry.enabledSnapshot()
	var syncPatterns, asyncPatterns []*SecurityPattern
	syncIdx := make([]int, 0, len(snapshot))
	asyncIdx := make([]int, 0)
	for i, p := range snapshot {
		if p.runsSync() {
			syncPatterns = append(syncPatterns, p)
			syncIdx = append(syncIdx, i)
		} else {
			asyncPatterns = append(asyncPatterns, p)
			asyncIdx = append(asyncIdx, i)
		}
	}

	results := make([]matchResult, 0, len(snapshot))
	for i, p := range syncPatterns {
		res := e.matchOne(p, text, userID)
		res.index = syncIdx[i]
		results = append(results, res)
	}

	if len(asyncPatterns) > 0 {
		var mu sync.Mutex
		g, _ := errgroup.WithContext(ctx)
		for i, p := range asyncPatterns {
			i, p := i, p
			g.Go(func() error {
				res := e.matchOne(p, text, userID)
				res.index = asyncIdx[i]
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	// registration order; scoring is commutative but the triggered list is not
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	outcome := e.score(results)
	outcome.UsedAsync = len(asyncPatterns) > 0
	outcome.EvalTime = time.Since(start)

	e.metrics.Evaluations.WithLabelValues(string(outcome.Action)).Inc()
	e.metrics.EvalLatency.Observe(float64(outcome.EvalTime.Microseconds()) / 1000.0)
	if outcome.Blocked() {
		e.registry.emit(Event{Kind: EventBlock, UserID: userID, Detail: "pattern block"})
	}
	return outcome
}

// matchOne evaluates a single pattern under its wall-clock budget. On budget
// violation the match degrades to "not matched" plus a timeout event; the
// request never blocks indefinitely on a pathological pattern.
func (e *Evaluator) matchOne(p *SecurityPattern, text, userID string) matchResult {
	start := time.Now()
	budget := p.budget(e.budget)

	type engineResult struct {
		matched bool
		err     error
	}
	ch := make(chan engineResult, 1)
	go func() {
		matched, err := p.matcher.MatchString(text)
		ch <- engineResult{matched: matched, err: err}
	}()

	select {
	case res := <-ch:
		elapsed := time.Since(start)
		if res.err != nil {
			e.metrics.PatternErrors.WithLabelValues(p.ID).Inc()
			e.registry.emit(Event{Kind: EventError, PatternID: p.ID, Category: p.Category, UserID: userID, Elapsed: elapsed, Detail: res.err.Error()})
			if e.logger != nil {
				e.logger.WithError(res.err).WithField("pattern_id", p.ID).Warn("pattern evaluation failed")
			}
			return matchResult{pattern: p, elapsed: elapsed, err: res.err}
		}
		if res.matched {
			e.metrics.PatternMatches.WithLabelValues(string(p.Category)).Inc()
			e.registry.emit(Event{Kind: EventMatch, PatternID: p.ID, Category: p.Category, UserID: userID, Elapsed: elapsed})
		}
		return matchResult{pattern: p, matched: res.matched, elapsed: elapsed}
	case <-time.After(budget):
		e.metrics.PatternTimeouts.WithLabelValues(p.ID).Inc()
		e.registry.emit(Event{Kind: EventTimeout, PatternID: p.ID, Category: p.Category, UserID: userID, Elapsed: budget})
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{
				"pattern_id": p.ID,
				"budget_ms":  budget.Milliseconds(),
			}).Warn("pattern evaluation timed out")
		}
		return matchResult{pattern: p, elapsed: budget, timedOut: true}
	}
}

// score computes the weighted outcome over matched patterns.
func (e *Evaluator) score(results []matchResult) DetectionOutcome {
	outcome := DetectionOutcome{Action: types.ActionAllow}

	var weightSum, weightedScore float64
	for _, res := range results {
		if !res.matched {
			continue
		}
		p := res.pattern
		w := p.weight()
		weightSum += w
		weightedScore += float64(p.BaseScore) * w
		outcome.Triggered = append(outcome.Triggered, TriggeredPattern{
			PatternID: p.ID,
			Category:  p.Category,
			Severity:  p.Severity,
			Weight:    w,
			EvalTime:  res.elapsed,
		})
		outcome.Action = types.MaxAction(outcome.Action, p.Action)
	}

	if len(outcome.Triggered) == 0 {
		return outcome
	}
	outcome.RiskScore = int(math.Round(weightedScore / weightSum))
	outcome.ConfidenceLevel = int(math.Round(100 * weightSum / float64(len(outcome.Triggered))))
	if outcome.ConfidenceLevel > 100 {
		outcome.ConfidenceLevel = 100
	}
	return outcome
}
