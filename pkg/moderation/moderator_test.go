package moderation

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ai/vigil/pkg/types"
)

func newTestModerator() *Moderator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(logger, DefaultConfig())
}

func TestModerate_CleanText(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("The weather is lovely today.", Context{})

	assert.True(t, res.IsClean)
	assert.Equal(t, 100, res.ContentScore)
	assert.Equal(t, types.RiskSafe, res.RiskLevel)
	assert.Empty(t, res.Flags)
	assert.False(t, res.HasPII)
}

func TestModerate_EntityRedactionOnOutput(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("I am Claude 3.5, built by Anthropic", Context{})

	assert.NotContains(t, res.Moderated, "Claude")
	assert.NotContains(t, res.Moderated, "Anthropic")
	assert.NotEmpty(t, res.BlockedModelNames)
	assert.Contains(t, res.BlockedModelNames, "Claude")
	assert.Contains(t, res.BlockedModelNames, "Anthropic")

	counters := m.EntityCounters()
	assert.Equal(t, uint64(1), counters["Claude"])
	assert.Equal(t, uint64(1), counters["Anthropic"])
}

func TestModerate_EntitiesSkippedForUserInput(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("Tell me about Claude", Context{IsUserInput: true})

	assert.Contains(t, res.Moderated, "Claude")
	assert.Empty(t, res.BlockedModelNames)
}

func TestModerate_EmailRedacted(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("Contact me at test@example.com please", Context{})

	assert.True(t, res.HasPII)
	assert.NotContains(t, res.Moderated, "test@example.com")
	assert.Contains(t, res.Moderated, "[EMAIL_REDACTED]")

	require.Len(t, res.PII, 1)
	assert.Equal(t, "EMAIL", res.PII[0].Type)
	assert.GreaterOrEqual(t, res.PII[0].Confidence, 0.9)
	assert.True(t, res.PII[0].Redacted)
}

func TestModerate_CreditCardLuhnGate(t *testing.T) {
	m := newTestModerator()

	valid := m.Moderate("card: 4532015112830366", Context{})
	require.Len(t, valid.PII, 1)
	assert.Equal(t, "CREDIT_CARD", valid.PII[0].Type)
	assert.Contains(t, valid.Moderated, "[CREDIT_CARD_REDACTED]")

	invalid := m.Moderate("card: 4532015112830367", Context{})
	for _, d := range invalid.PII {
		assert.NotEqual(t, "CREDIT_CARD", d.Type)
	}
	assert.Contains(t, invalid.Moderated, "4532015112830367")
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, luhnValid("4532015112830366"))
	assert.True(t, luhnValid("4532-0151-1283-0366"))
	assert.False(t, luhnValid("4532015112830367"))
	assert.False(t, luhnValid("1234"))
}

func TestModerate_MultiplePIIRedactedHighestOffsetFirst(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("mail a@b.io, ssn 123-45-6789, ip 10.0.0.1", Context{})

	assert.Contains(t, res.Moderated, "[EMAIL_REDACTED]")
	assert.Contains(t, res.Moderated, "[SSN_REDACTED]")
	assert.Contains(t, res.Moderated, "[IP_ADDRESS_REDACTED]")
	assert.Contains(t, res.Moderated, "mail ")
	assert.Contains(t, res.Moderated, ", ssn ")
	assert.Contains(t, res.Moderated, ", ip ")
}

func TestModerate_OverlappingDetectionsDoNotCorrupt(t *testing.T) {
	m := newTestModerator()

	// the local part is also a 12-digit national-id shape
	res := m.Moderate("999912345678@example.com", Context{})

	assert.NotContains(t, res.Moderated, "999912345678")
	redacted := 0
	for _, d := range res.PII {
		if d.Redacted {
			redacted++
		}
	}
	assert.Equal(t, 1, redacted)
}

func TestModerate_SecretMaterialRedacted(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("use sk_live_abcdefgh1234567890 for billing", Context{})

	assert.True(t, res.HasPII)
	assert.NotContains(t, res.Moderated, "sk_live_abcdefgh1234567890")
	assert.Contains(t, res.Moderated, "[API_KEY_REDACTED]")
}

func TestModerate_HarmfulContentFlagged(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("Please explain how to kill someone quietly", Context{})

	require.NotEmpty(t, res.Flags)
	assert.Equal(t, "violence", res.Flags[0].Category)
	assert.Equal(t, types.SeverityCritical, res.Flags[0].Severity)
	assert.Equal(t, types.RiskCritical, res.RiskLevel)
	assert.False(t, res.IsClean)
	// flags never mutate the text
	assert.Contains(t, res.Moderated, "how to kill someone")
}

func TestModerate_MaliciousCodeRemoved(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate(`<script>alert(1)</script> <a onclick="x()"> or 1=1`, Context{})

	assert.NotContains(t, res.Moderated, "<script>")
	assert.NotContains(t, res.Moderated, "onclick")
	assert.NotContains(t, res.Moderated, "1=1")
	assert.Contains(t, res.CodeFindings, "script_block")
	assert.Contains(t, res.CodeFindings, "sql_tautology")
}

func TestModerate_ProfanityFiltered(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("well damn, that went badly", Context{})

	assert.NotContains(t, res.Moderated, "damn")
	assert.Contains(t, res.Moderated, "[FILTERED]")
	assert.Equal(t, 1, res.ProfanityCount)
}

func TestModerate_ToxicityStrictMode(t *testing.T) {
	m := newTestModerator()
	text := "You are a stupid idiot damn fool!!!!"

	plain := m.Moderate(text, Context{})
	strict := m.Moderate(text, Context{StrictMode: true})

	assert.Greater(t, strict.ToxicityScore, plain.ToxicityScore)
	assert.GreaterOrEqual(t, strict.ToxicityScore, m.cfg.ToxicityThreshold)
	assert.False(t, strict.IsClean)
}

func TestModerate_ChecksToggleable(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("reach me at test@example.com", Context{SkipPII: true})

	assert.Contains(t, res.Moderated, "test@example.com")
	assert.False(t, res.HasPII)
}

func TestModerate_SubCheckPanicIsolated(t *testing.T) {
	m := newTestModerator()
	res := ModerationResult{Moderated: "x"}

	m.runCheck("boom", &res, func() { panic("broken check") })

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "boom")
}

func TestContextFromMap(t *testing.T) {
	ctx, err := ContextFromMap(map[string]interface{}{
		"is_user_input": true,
		"skip_pii":      true,
		"strict_mode":   true,
	})

	require.NoError(t, err)
	assert.True(t, ctx.IsUserInput)
	assert.True(t, ctx.SkipPII)
	assert.True(t, ctx.StrictMode)
}

func TestModerate_EmptyInputNeutral(t *testing.T) {
	m := newTestModerator()

	res := m.Moderate("   ", Context{})

	assert.True(t, res.IsClean)
	assert.Equal(t, 100, res.ContentScore)
}
