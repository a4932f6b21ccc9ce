package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ai/vigil/pkg/types"
)

func TestSecurityPattern_SealAndVerify(t *testing.T) {
	p := &SecurityPattern{
		ID:       "test-rule",
		Expr:     `(?i)test`,
		Category: CategoryInjection,
		Severity: types.SeverityLow,
		Action:   types.ActionLog,
	}
	p.Seal()

	require.NotEmpty(t, p.IntegrityHash)
	assert.NoError(t, p.VerifyIntegrity())
	assert.False(t, p.CreatedAt.IsZero())
}

func TestSecurityPattern_TamperDetected(t *testing.T) {
	p := &SecurityPattern{
		ID:       "test-rule",
		Expr:     `(?i)test`,
		Category: CategoryInjection,
		Severity: types.SeverityLow,
		Action:   types.ActionLog,
	}
	p.Seal()

	// silently widening the action must trip the integrity check
	p.Action = types.ActionAllow
	err := p.VerifyIntegrity()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSecurityPattern_SealAfterUpdateRestoresIntegrity(t *testing.T) {
	p := &SecurityPattern{
		ID:       "test-rule",
		Expr:     `(?i)test`,
		Category: CategoryInjection,
		Severity: types.SeverityLow,
		Action:   types.ActionLog,
	}
	p.Seal()
	created := p.CreatedAt

	p.Severity = types.SeverityHigh
	p.Seal()

	assert.NoError(t, p.VerifyIntegrity())
	assert.Equal(t, created, p.CreatedAt, "explicit update keeps creation time")
}

func TestCompileSafe_PrefersLinearEngine(t *testing.T) {
	m, err := CompileSafe(`(?i)hello\s+world`, time.Second)
	require.NoError(t, err)
	assert.Zero(t, m.CostBound(), "linear engine needs no cost bound")

	ok, err := m.MatchString("Hello World")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileSafe_FallsBackToBoundedBacktracking(t *testing.T) {
	// lookahead is not RE2-compatible, so this lands on the bounded engine
	m, err := CompileSafe(`(?=abc)abc`, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, m.CostBound())

	ok, err := m.MatchString("abcdef")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileSafe_BacktrackingTimeoutSurfacesAsError(t *testing.T) {
	// classic catastrophic backtracking shape, forced onto the backtracking
	// engine by the lookahead
	m, err := CompileSafe(`(?=(a+)+$)(a+)+$`, 20*time.Millisecond)
	require.NoError(t, err)

	pathological := ""
	for i := 0; i < 40; i++ {
		pathological += "a"
	}
	pathological += "b"

	start := time.Now()
	ok, err := m.MatchString(pathological)
	assert.False(t, ok)
	assert.Error(t, err, "engine must give up, not hang")
	assert.Less(t, time.Since(start), time.Second)
}

func TestCompileSafe_RejectsGarbage(t *testing.T) {
	_, err := CompileSafe(`(unclosed`, time.Second)
	assert.Error(t, err)
}
