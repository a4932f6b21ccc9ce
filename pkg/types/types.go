// Package types holds the enumerations shared by the detection, analysis
// and moderation packages.
package types

// Severity classifies how dangerous a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Penalty returns the content-score deduction applied per flag of this severity.
func (s Severity) Penalty() int {
	switch s {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 15
	case SeverityHigh:
		return 30
	case SeverityCritical:
		return 50
	default:
		return 5
	}
}

// Action is what a triggered rule asks the pipeline to do.
type Action string

const (
	ActionBlock Action = "block"
	ActionWarn  Action = "warn"
	ActionLog   Action = "log"
	ActionAllow Action = "allow"
)

// Priority orders actions so the most restrictive one wins when several
// rules trigger on the same input.
func (a Action) Priority() int {
	switch a {
	case ActionBlock:
		return 3
	case ActionWarn:
		return 2
	case ActionLog:
		return 1
	default:
		return 0
	}
}

// MaxAction returns the more restrictive of two actions.
func MaxAction(a, b Action) Action {
	if b.Priority() > a.Priority() {
		return b
	}
	return a
}

// RiskLevel buckets a 0-100 risk score.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelForScore maps a 0-100 score onto a risk bucket.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score < 10:
		return RiskSafe
	case score < 30:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 70:
		return RiskHigh
	default:
		return RiskCritical
	}
}
