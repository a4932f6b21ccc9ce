package patterns

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// Matcher abstracts the regex engine behind a pattern so that ReDoS
// mitigation stays a design-level concern rather than a property of one
// engine. Two variants exist:
//
//   - linearMatcher wraps the standard library engine, which is RE2-based and
//     guarantees linear-time matching with no backtracking. Preferred.
//   - backtrackMatcher wraps dlclark/regexp2, a backtracking engine with a
//     native match timeout. Used only for expressions RE2 cannot compile
//     (backreferences, lookarounds), with the timeout as the safety net.
type Matcher interface {
	// MatchString reports whether the text matches. A non-nil error means
	// the engine gave up (timeout or internal fault), never "no match".
	MatchString(text string) (bool, error)
	// CostBound is the engine-enforced wall-clock bound, zero when the
	// engine is linear-time and needs none.
	CostBound() time.Duration
}

type linearMatcher struct {
	re *regexp.Regexp
}

func (m *linearMatcher) MatchString(text string) (bool, error) {
	return m.re.MatchString(text), nil
}

func (m *linearMatcher) CostBound() time.Duration { return 0 }

type backtrackMatcher struct {
	re    *regexp2.Regexp
	bound time.Duration
}

func (m *backtrackMatcher) MatchString(text string) (bool, error) {
	ok, err := m.re.MatchString(text)
	if err != nil {
		return false, fmt.Errorf("backtracking matcher: %w", err)
	}
	return ok, nil
}

func (m *backtrackMatcher) CostBound() time.Duration { return m.bound }

// CompileSafe compiles expr, preferring the linear-time engine and falling
// back to the bounded backtracking engine for expressions RE2 rejects.
func CompileSafe(expr string, bound time.Duration) (Matcher, error) {
	if re, err := regexp.Compile(expr); err == nil {
		return &linearMatcher{re: re}, nil
	}
	if bound <= 0 {
		bound = 100 * time.Millisecond
	}
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("pattern compiles under neither engine: %w", err)
	}
	re.MatchTimeout = bound
	return &backtrackMatcher{re: re, bound: bound}, nil
}
