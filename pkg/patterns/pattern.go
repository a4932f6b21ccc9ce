// Package patterns owns the weighted detection rules of the guardrail core:
// the rule type itself, a safe matcher abstraction over two regex engines,
// the registry that holds the enabled rule set, and the evaluator that turns
// an input text into a weighted risk score.
package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vigil-ai/vigil/pkg/types"
)

// Category classifies what threat family a pattern detects.
type Category string

const (
	CategoryJailbreak      Category = "jailbreak"
	CategoryPromptExposure Category = "prompt_exposure"
	CategoryModelReveal    Category = "model_reveal"
	CategoryHarmful        Category = "harmful"
	CategoryIllegal        Category = "illegal"
	CategorySelfHarm       Category = "self_harm"
	CategoryInjection      Category = "injection"
	CategoryManipulation   Category = "manipulation"
)

// Priority decides whether a pattern runs on the synchronous hot path.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ErrIntegrity reports a pattern whose integrity hash no longer matches its
// defining fields. This is a hard refusal, never a soft fallback.
var ErrIntegrity = errors.New("pattern integrity hash mismatch")

// SecurityPattern is one detection rule. Patterns are immutable once sealed;
// any field change must go through an explicit update that re-seals them.
type SecurityPattern struct {
	ID               string         `json:"id" mapstructure:"id"`
	Expr             string         `json:"pattern" mapstructure:"pattern"`
	Category         Category       `json:"category" mapstructure:"category"`
	Severity         types.Severity `json:"severity" mapstructure:"severity"`
	Action           types.Action   `json:"action" mapstructure:"action"`
	Enabled          bool           `json:"enabled" mapstructure:"enabled"`
	MaxEvalMS        int            `json:"max_eval_ms" mapstructure:"max_eval_ms"`
	IsAsync          bool           `json:"is_async" mapstructure:"is_async"`
	Priority         Priority       `json:"priority" mapstructure:"priority"`
	ConfidenceWeight float64        `json:"confidence_weight" mapstructure:"confidence_weight"`
	BaseScore        int            `json:"base_score" mapstructure:"base_score"`
	Group            string         `json:"group,omitempty" mapstructure:"group"`
	Dependencies     []string       `json:"dependencies,omitempty" mapstructure:"dependencies"`
	Languages        []string       `json:"languages,omitempty" mapstructure:"languages"`
	IntegrityHash    string         `json:"integrity_hash" mapstructure:"integrity_hash"`
	CreatedAt        time.Time      `json:"created_at" mapstructure:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" mapstructure:"updated_at"`

	matcher Matcher
}

// computeHash digests the defining fields of the pattern.
func (p *SecurityPattern) computeHash() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		p.ID,
		p.Expr,
		string(p.Category),
		string(p.Severity),
		string(p.Action),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Seal recomputes the integrity hash and stamps the update time. Call after
// every explicit field change and before registering a hand-built pattern.
func (p *SecurityPattern) Seal() {
	p.IntegrityHash = p.computeHash()
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

// VerifyIntegrity compares the stored hash against the recomputed digest.
func (p *SecurityPattern) VerifyIntegrity() error {
	if p.IntegrityHash != p.computeHash() {
		return fmt.Errorf("pattern %q: %w", p.ID, ErrIntegrity)
	}
	return nil
}

// budget returns the per-evaluation wall-clock bound.
func (p *SecurityPattern) budget(fallback time.Duration) time.Duration {
	if p.MaxEvalMS > 0 {
		return time.Duration(p.MaxEvalMS) * time.Millisecond
	}
	return fallback
}

// runsSync reports whether the pattern belongs to the synchronous partition.
// Only low-priority patterns explicitly marked async may be deferred.
func (p *SecurityPattern) runsSync() bool {
	return !p.IsAsync || p.Priority == PriorityHigh
}

// weight returns the confidence weight, defaulting to 1.0 when unset.
func (p *SecurityPattern) weight() float64 {
	if p.ConfidenceWeight <= 0 || p.ConfidenceWeight > 1 {
		return 1.0
	}
	return p.ConfidenceWeight
}

// clone returns a copy safe to hand to callers, without the compiled matcher.
func (p *SecurityPattern) clone() *SecurityPattern {
	cp := *p
	cp.matcher = nil
	cp.Dependencies = append([]string(nil), p.Dependencies...)
	cp.Languages = append([]string(nil), p.Languages...)
	return &cp
}

func validCategory(c Category) bool {
	switch c {
	case CategoryJailbreak, CategoryPromptExposure, CategoryModelReveal,
		CategoryHarmful, CategoryIllegal, CategorySelfHarm,
		CategoryInjection, CategoryManipulation:
		return true
	}
	return false
}

func validAction(a types.Action) bool {
	switch a {
	case types.ActionBlock, types.ActionWarn, types.ActionLog, types.ActionAllow:
		return true
	}
	return false
}
