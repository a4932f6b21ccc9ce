package moderation

import (
	"regexp"

	"github.com/dlclark/regexp2"

	"github.com/vigil-ai/vigil/pkg/types"
)

// harmfulPattern flags a content category without mutating the text.
type harmfulPattern struct {
	Category string
	Severity types.Severity
	re       *regexp.Regexp
}

var harmfulPatterns = []harmfulPattern{
	{"hate_speech", types.SeverityCritical, regexp.MustCompile(`(?i)\b(death\s+to|exterminate|gas)\s+(all\s+)?(the\s+)?\w+\s*(people|group|community)?\b`)},
	{"hate_speech", types.SeverityHigh, regexp.MustCompile(`(?i)\b(subhuman|vermin|parasites)\b.*\b(they|them|those people)\b`)},
	{"violence", types.SeverityCritical, regexp.MustCompile(`(?i)\bhow\s+to\s+(kill|murder|poison|strangle)\s+(a|an|someone|people)\b`)},
	{"violence", types.SeverityHigh, regexp.MustCompile(`(?i)\b(shoot|stab|bomb|attack)\s+(up\s+)?(a|the)\s+(school|crowd|building|mall)\b`)},
	{"self_harm", types.SeverityCritical, regexp.MustCompile(`(?i)\b(how\s+to|ways?\s+to|best\s+way\s+to)\s+(kill|hurt|harm|cut)\s+(myself|yourself|oneself)\b`)},
	{"self_harm", types.SeverityHigh, regexp.MustCompile(`(?i)\b(painless|effective)\s+(suicide|overdose)\s+methods?\b`)},
	{"illegal_activity", types.SeverityHigh, regexp.MustCompile(`(?i)\bhow\s+to\s+(make|cook|synthesize)\s+(meth|cocaine|heroin|fentanyl)\b`)},
	{"illegal_activity", types.SeverityHigh, regexp.MustCompile(`(?i)\b(buy|sell|purchase)\s+(stolen|counterfeit)\s+\w+`)},
	{"spam", types.SeverityLow, regexp.MustCompile(`(?i)\b(click\s+here|limited\s+time\s+offer|act\s+now|winner!+)\b.*\b(free|prize|cash|guaranteed)\b`)},
	{"spam", types.SeverityLow, regexp.MustCompile(`(?i)\bmake\s+\$?\d+[,\d]*\s+(per|a)\s+(day|week|hour)\s+from\s+home\b`)},
}

// piiDetector describes one PII shape. Validate, when set, rejects
// false-positive matches before they are counted.
type piiDetector struct {
	Type        string
	Sensitivity string
	Confidence  float64
	re          *regexp.Regexp
	Validate    func(string) bool
}

var piiDetectors = []piiDetector{
	{
		Type: "EMAIL", Sensitivity: "medium", Confidence: 0.95,
		re: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	},
	{
		Type: "CREDIT_CARD", Sensitivity: "critical", Confidence: 0.9,
		re:       regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
		Validate: luhnValid,
	},
	{
		Type: "SSN", Sensitivity: "critical", Confidence: 0.9,
		re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	{
		Type: "NATIONAL_ID", Sensitivity: "high", Confidence: 0.7,
		re: regexp.MustCompile(`\b\d{12}\b`),
	},
	{
		Type: "PHONE", Sensitivity: "medium", Confidence: 0.8,
		re: regexp.MustCompile(`\b(?:\+?\d{1,3}[ \-.]?)?\(?\d{3}\)?[ \-.]\d{3}[ \-.]\d{4}\b`),
	},
	{
		Type: "IP_ADDRESS", Sensitivity: "low", Confidence: 0.85,
		re: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
	},
	{
		Type: "JWT", Sensitivity: "high", Confidence: 0.9,
		re: regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\b`),
	},
	{
		Type: "API_KEY", Sensitivity: "high", Confidence: 0.9,
		re: regexp.MustCompile(`\b(sk|pk|rk)_(live|test)_[A-Za-z0-9]{16,}\b`),
	},
	{
		Type: "IBAN", Sensitivity: "high", Confidence: 0.75,
		re: regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
	},
}

// luhnValid runs the mod-10 checksum over the digits of a candidate card
// number, ignoring separators.
func luhnValid(candidate string) bool {
	digits := make([]int, 0, len(candidate))
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// maliciousCodePattern replaces a code fragment with a typed placeholder.
type maliciousCodePattern struct {
	Name        string
	Placeholder string
	re          *regexp.Regexp
}

var maliciousCodePatterns = []maliciousCodePattern{
	{"script_block", "[CODE_REMOVED]", regexp.MustCompile(`(?is)<\s*script[^>]*>.*?<\s*/\s*script\s*>`)},
	{"script_tag", "[CODE_REMOVED]", regexp.MustCompile(`(?i)<\s*script[^>]*>`)},
	{"js_scheme", "[SCHEME_REMOVED]", regexp.MustCompile(`(?i)\bjavascript\s*:`)},
	{"event_handler", "", regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)},
	{"sql_tautology", "[SQL_REMOVED]", regexp.MustCompile(`(?i)('\s*or\s*'?\d+'?\s*=\s*'?\d+|\bor\s+1\s*=\s*1\b)`)},
	{"dangerous_call", "[CALL_REMOVED]", regexp.MustCompile(`(?i)\b(eval|exec|execfile|system|popen|subprocess\.call|os\.system)\s*\(`)},
}

// Toxicity vocabularies. Kept intentionally mild; deployments extend them
// through configuration.
var (
	profanityWords = []string{
		"damn", "hell", "crap", "bastard", "bitch", "shit", "fuck", "asshole",
		"dick", "piss",
	}
	insultWords = []string{
		"idiot", "moron", "stupid", "dumb", "loser", "pathetic", "worthless",
		"imbecile", "fool",
	}
	hateWords = []string{
		"subhuman", "vermin", "degenerate", "scum",
	}
)

var (
	punctRunRe     = regexp.MustCompile(`[!?]{3,}`)
	elongatedRe    = regexp2.MustCompile(`(\w)\1{3,}`, regexp2.None)
	capsSpanRe     = regexp.MustCompile(`\b[A-Z]{4,}\b`)
	profanityMask  = "[FILTERED]"
	wordBoundaryFn = func(word string) *regexp.Regexp {
		return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	}
)

// compiled per-word profanity matchers, built once at package init.
var profanityRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(profanityWords))
	for i, w := range profanityWords {
		res[i] = wordBoundaryFn(w)
	}
	return res
}()
