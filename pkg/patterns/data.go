package patterns

import (
	"github.com/sirupsen/logrus"

	"github.com/vigil-ai/vigil/pkg/types"
)

// BuiltinPatterns returns the default rule set, unsealed. NewDefaultRegistry
// seals each rule on registration. Expressions are kept RE2-compatible so
// every builtin rides the linear-time engine.
func BuiltinPatterns() []*SecurityPattern {
	return []*SecurityPattern{
		// --- jailbreak ---
		{
			ID:               "jb-ignore-instructions",
			Expr:             `(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|rules|guidelines|context)`,
			Category:         CategoryJailbreak,
			Severity:         types.SeverityCritical,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.95,
			BaseScore:        90,
			Group:            "instruction_override",
		},
		{
			ID:               "jb-identity-override",
			Expr:             `(?i)(you\s+are\s+now|from\s+now\s+on\s+you\s+(are|will|must)|your\s+new\s+(role|identity|persona)\s+(is|are))`,
			Category:         CategoryJailbreak,
			Severity:         types.SeverityHigh,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.85,
			BaseScore:        80,
			Group:            "instruction_override",
		},
		{
			ID:               "jb-dan-mode",
			Expr:             `(?i)\b(dan\s+mode|developer\s+mode|jailbreak(ed)?\s+mode|do\s+anything\s+now)\b`,
			Category:         CategoryJailbreak,
			Severity:         types.SeverityCritical,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.9,
			BaseScore:        85,
		},
		{
			ID:               "jb-bypass-safety",
			Expr:             `(?i)(bypass|override|disable)\s+(the\s+)?(safety|security|content|moderation)\s+(filter|check|policy|rules|guidelines)`,
			Category:         CategoryJailbreak,
			Severity:         types.SeverityCritical,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.95,
			BaseScore:        90,
		},
		{
			ID:               "jb-delimiter-injection",
			Expr:             `(?i)(\[system\]|<\|im_start\|>\s*system|###\s*(system|instruction|new\s+instruction)|begininstruction)`,
			Category:         CategoryJailbreak,
			Severity:         types.SeverityHigh,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.9,
			BaseScore:        80,
			Group:            "instruction_override",
		},
		// --- prompt exposure ---
		{
			ID:               "pe-reveal-prompt",
			Expr:             `(?i)((reveal|show|output|print|repeat|tell\s+me)\s+(me\s+)?(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)|your\s+system\s+prompt)`,
			Category:         CategoryPromptExposure,
			Severity:         types.SeverityHigh,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.9,
			BaseScore:        75,
		},
		{
			ID:               "pe-instruction-probe",
			Expr:             `(?i)(what\s+(are|is|were)\s+your\s+(system|initial|original|hidden)?\s*(prompt|instructions|rules)|how\s+(do|does)\s+you(r)?\s+(work|instructions))`,
			Category:         CategoryPromptExposure,
			Severity:         types.SeverityMedium,
			Action:           types.ActionWarn,
			Enabled:          true,
			Priority:         PriorityMedium,
			ConfidenceWeight: 0.7,
			BaseScore:        50,
		},
		// --- model reveal ---
		{
			ID:               "mr-model-probe",
			Expr:             `(?i)(what\s+(model|llm|ai)\s+(are|is)\s+(you|this)|which\s+(model|version)\s+(are\s+you|is\s+this)|reveal\s+your\s+(model|version))`,
			Category:         CategoryModelReveal,
			Severity:         types.SeverityLow,
			Action:           types.ActionLog,
			Enabled:          true,
			Priority:         PriorityLow,
			IsAsync:          true,
			ConfidenceWeight: 0.6,
			BaseScore:        25,
		},
		// --- harmful ---
		{
			ID:               "hm-weapons",
			Expr:             `(?i)how\s+to\s+(make|build|create|construct)\s+(a\s+)?(bomb|explosive|weapon|gun|silencer|nerve\s+agent)`,
			Category:         CategoryHarmful,
			Severity:         types.SeverityCritical,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.95,
			BaseScore:        95,
			Group:            "violence",
		},
		{
			ID:               "hm-violence-target",
			Expr:             `(?i)(how\s+to\s+(hurt|kill|poison|attack)\s+(a\s+|someone|people)|best\s+way\s+to\s+(hurt|kill)\s)`,
			Category:         CategoryHarmful,
			Severity:         types.SeverityCritical,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.9,
			BaseScore:        90,
			Group:            "violence",
		},
		// --- illegal ---
		{
			ID:               "il-drugs",
			Expr:             `(?i)(how\s+to\s+(make|cook|synthesize)\s+(meth|cocaine|heroin|fentanyl)|where\s+to\s+buy\s+(illegal\s+)?drugs)`,
			Category:         CategoryIllegal,
			Severity:         types.SeverityCritical,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.9,
			BaseScore:        90,
		},
		{
			ID:               "il-fraud",
			Expr:             `(?i)(how\s+to\s+(launder\s+money|steal\s+(credit\s+cards?|identit(y|ies))|hack\s+into)|create\s+(a\s+)?(fake\s+(id|passport)|counterfeit))`,
			Category:         CategoryIllegal,
			Severity:         types.SeverityHigh,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.85,
			BaseScore:        80,
		},
		// --- self harm ---
		{
			ID:               "sh-methods",
			Expr:             `(?i)(how\s+to\s+(kill|hurt|harm)\s+myself|(painless|best)\s+(way|method)\s+to\s+(die|end\s+my\s+life)|suicide\s+methods?)`,
			Category:         CategorySelfHarm,
			Severity:         types.SeverityCritical,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.95,
			BaseScore:        95,
		},
		// --- injection ---
		{
			ID:               "in-script-tag",
			Expr:             `(?i)<\s*script[^>]*>`,
			Category:         CategoryInjection,
			Severity:         types.SeverityHigh,
			Action:           types.ActionWarn,
			Enabled:          true,
			Priority:         PriorityMedium,
			ConfidenceWeight: 0.85,
			BaseScore:        65,
			Group:            "markup_injection",
		},
		{
			ID:               "in-sql-tautology",
			Expr:             `(?i)('\s*or\s*'?\d+'?\s*=\s*'?\d+|union\s+(all\s+)?select\s|;\s*(drop|delete|truncate)\s+table)`,
			Category:         CategoryInjection,
			Severity:         types.SeverityHigh,
			Action:           types.ActionWarn,
			Enabled:          true,
			Priority:         PriorityLow,
			IsAsync:          true,
			ConfidenceWeight: 0.8,
			BaseScore:        60,
			Group:            "markup_injection",
		},
		{
			ID:               "in-event-handler",
			Expr:             `(?i)\bon(load|error|click|mouseover|focus)\s*=`,
			Category:         CategoryInjection,
			Severity:         types.SeverityMedium,
			Action:           types.ActionWarn,
			Enabled:          true,
			Priority:         PriorityLow,
			IsAsync:          true,
			ConfidenceWeight: 0.75,
			BaseScore:        50,
			Group:            "markup_injection",
		},
		// --- manipulation ---
		{
			ID:               "mn-roleplay-coercion",
			Expr:             `(?i)(pretend\s+(to\s+be|you\s+are|you\s+have\s+no)|roleplay\s+as|act\s+as\s+if\s+you\s+(are|have|can))`,
			Category:         CategoryManipulation,
			Severity:         types.SeverityMedium,
			Action:           types.ActionWarn,
			Enabled:          true,
			Priority:         PriorityMedium,
			ConfidenceWeight: 0.7,
			BaseScore:        45,
		},
		{
			ID:               "mn-hypothetical-framing",
			Expr:             `(?i)(hypothetically|in\s+a\s+fictional\s+(world|story|scenario)|for\s+(a\s+)?(novel|story|research)\s+purposes?)\b.*\b(how\s+to|explain|describe)`,
			Category:         CategoryManipulation,
			Severity:         types.SeverityMedium,
			Action:           types.ActionLog,
			Enabled:          true,
			Priority:         PriorityLow,
			IsAsync:          true,
			ConfidenceWeight: 0.6,
			BaseScore:        35,
		},
		{
			ID:               "mn-unrestricted-claim",
			Expr:             `(?i)\b(you\s+(are|have)\s+(now\s+)?(unrestricted|unfiltered|uncensored|no\s+(limits|restrictions|rules))|without\s+(any\s+)?(restrictions|limitations|filters))\b`,
			Category:         CategoryManipulation,
			Severity:         types.SeverityHigh,
			Action:           types.ActionBlock,
			Enabled:          true,
			Priority:         PriorityHigh,
			ConfidenceWeight: 0.85,
			BaseScore:        75,
		},
	}
}

// NewDefaultRegistry builds a registry preloaded with the builtin rule set.
func NewDefaultRegistry(logger *logrus.Logger, opts ...RegistryOption) (*Registry, error) {
	r := NewRegistry(logger, opts...)
	if err := r.RegisterAll(BuiltinPatterns()); err != nil {
		return nil, err
	}
	return r, nil
}
