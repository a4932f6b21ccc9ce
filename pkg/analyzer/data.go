package analyzer

import "regexp"

// Invisible code points stripped by the sanitizer: zero-width characters,
// bidi controls and variation selectors, all of which are used to smuggle
// content past keyword filters.
func isInvisibleRune(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', // zero-width space/non-joiner/joiner
		'\u200e', '\u200f', // LTR/RTL marks
		'\u2060', // word joiner
		'\ufeff', // BOM used inline
		'\u00ad': // soft hyphen
		return true
	}
	if r >= '\u202a' && r <= '\u202e' { // bidi embedding/override
		return true
	}
	if r >= '\u2066' && r <= '\u2069' { // bidi isolates
		return true
	}
	if r >= '\ufe00' && r <= '\ufe0f' { // variation selectors
		return true
	}
	return false
}

// Encoding-bypass shapes. Each matched run is replaced with a typed
// placeholder token, never silently dropped.
var encodingPatterns = []struct {
	name        string
	re          *regexp.Regexp
	placeholder string
	confidence  float64
}{
	{"hex_escape_run", regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){4,}`), "[ENCODED_HEX]", 0.85},
	{"unicode_escape_run", regexp.MustCompile(`(?:\\u[0-9a-fA-F]{4}){4,}`), "[ENCODED_UNICODE]", 0.85},
	{"url_encoded_run", regexp.MustCompile(`(?:%[0-9a-fA-F]{2}){4,}`), "[ENCODED_URL]", 0.8},
	{"html_entity_run", regexp.MustCompile(`(?:&#x?[0-9a-fA-F]{2,6};){4,}`), "[ENCODED_ENTITY]", 0.8},
	{"octal_escape_run", regexp.MustCompile(`(?:\\[0-7]{3}){4,}`), "[ENCODED_OCTAL]", 0.85},
	{"base64_blob", regexp.MustCompile(`\b[A-Za-z0-9+/]{24,}={0,2}\b`), "[ENCODED_BASE64]", 0.7},
}

// Injection neutralization shapes. Ordering matters: script blocks go first
// so scheme and handler rules see only what survives.
var (
	scriptBlockRe    = regexp.MustCompile(`(?is)<\s*script[^>]*>.*?<\s*/\s*script\s*>`)
	scriptOpenRe     = regexp.MustCompile(`(?i)<\s*script[^>]*>`)
	dangerousScheme  = regexp.MustCompile(`(?i)\b(javascript|vbscript|data)\s*:`)
	eventHandlerRe   = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	sqlKeywordRe     = regexp.MustCompile(`(?i)(\b(drop|delete|truncate|insert|update)\s+(table|from|into|database)\b|\bunion\s+(all\s+)?select\b)`)
	shellMetaRe      = regexp.MustCompile("[`$;|&]")
	bareURLRe        = regexp.MustCompile(`(?i)\bhttps?://[^\s]+`)
	multiSpaceRe     = regexp.MustCompile(`[ \t]{2,}`)
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
)

// Lexical-layer fragments examined over the raw input.
var (
	escapeSequenceRe = regexp.MustCompile(`(\\x[0-9a-fA-F]{2}|\\u[0-9a-fA-F]{4}|%[0-9a-fA-F]{2}|&#x?[0-9a-fA-F]{2,6};)`)
	sqlFragmentRe    = regexp.MustCompile(`(?i)('\s*or\s*'?\d+'?\s*=\s*'?\d+|\bunion\s+select\b|;\s*drop\s+table)`)
	xssFragmentRe    = regexp.MustCompile(`(?i)(javascript\s*:|\bon(error|load|click)\s*=)`)
	base64BlobRe     = regexp.MustCompile(`\b[A-Za-z0-9+/]{24,}={0,2}\b`)
)

// Semantic-intent keyword families. A family only contributes once its
// occurrence count reaches the configured threshold.
var (
	manipulationKeywords = []string{
		"pretend", "roleplay", "role play", "hypothetically", "imagine you",
		"act as", "suppose you", "fictional", "let's play", "in character",
	}
	extractionKeywords = []string{
		"reveal", "your instructions", "system prompt", "initial prompt",
		"how do you work", "your rules", "your guidelines", "your configuration",
		"show me your", "what were you told",
	}
	bypassKeywords = []string{
		"ignore", "override", "unrestricted", "bypass", "disregard",
		"jailbreak", "unfiltered", "uncensored", "no limits", "without restrictions",
	}
	multiStepRe     = regexp.MustCompile(`(?i)\bstep\s+\d+\b`)
	stepContinuedRe = regexp.MustCompile(`(?i)\b(continue|continuing|previous|as before)\b`)
)

// Behavioral-layer vocabularies.
var (
	questionWords  = []string{"who", "what", "when", "where", "why", "how", "which"}
	commandVerbs   = []string{"tell", "show", "give", "explain", "write", "list", "describe", "reveal", "output", "print"}
	urgencyMarkers = []string{"now", "immediately", "urgent", "urgently", "quickly", "right away", "asap", "must"}
)

// Contextual-layer vocabularies.
var (
	resetPhrases = []string{
		"new conversation", "start over", "start fresh", "forget everything",
		"clean slate", "reset yourself", "begin again", "wipe your memory",
	}
	contradictionPairs = [][2]string{
		{"always", "never"},
		{"must", "must not"},
		{"do it", "don't"},
		{"yes", "no"},
		{"start", "stop"},
	}
	topicVocabulary = []string{
		"weather", "code", "story", "math", "history", "recipe", "sports",
		"music", "movie", "politics", "science", "travel",
	}
	nestedConditionalRe = regexp.MustCompile(`(?i)\bif\b[^.?!]*\bthen\b[^.?!]*\bif\b`)
)

// Linguistic-layer shapes.
var (
	numberedLineRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
	allCapsWordRe  = regexp.MustCompile(`\b[A-Z]{3,}\b`)
)
