package intel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ai/vigil/pkg/patterns"
	"github.com/vigil-ai/vigil/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func feedBatch(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal([]*patterns.SecurityPattern{
		{
			ID:               "ti-credential-phish",
			Expr:             `(?i)verify\s+your\s+account\s+credentials\s+at`,
			Category:         patterns.CategoryManipulation,
			Severity:         types.SeverityHigh,
			Action:           types.ActionWarn,
			Enabled:          true,
			Priority:         patterns.PriorityMedium,
			ConfidenceWeight: 0.8,
			BaseScore:        60,
		},
	})
	require.NoError(t, err)
	return payload
}

func TestRefreshOnce_MergesSignedBatch(t *testing.T) {
	secret := []byte("feed-secret")
	registry := patterns.NewRegistry(testLogger(), patterns.WithImportSecret(secret))
	payload := feedBatch(t)
	signature := registry.Sign(payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"patterns":  json.RawMessage(payload),
			"signature": signature,
		})
	}))
	defer srv.Close()

	r := New(testLogger(), Config{URL: srv.URL}, registry)
	merged, err := r.RefreshOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	_, ok := registry.Get("ti-credential-phish")
	assert.True(t, ok)
}

func TestRefreshOnce_BadSignatureLeavesSetUntouched(t *testing.T) {
	registry := patterns.NewRegistry(testLogger(), patterns.WithImportSecret([]byte("feed-secret")))
	payload := feedBatch(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"patterns":  json.RawMessage(payload),
			"signature": "deadbeef",
		})
	}))
	defer srv.Close()

	r := New(testLogger(), Config{URL: srv.URL}, registry)
	_, err := r.RefreshOnce(context.Background())

	assert.ErrorIs(t, err, patterns.ErrBadSignature)
	assert.Zero(t, registry.Len())
}

func TestRefreshOnce_ServerErrorPropagates(t *testing.T) {
	registry := patterns.NewRegistry(testLogger(), patterns.WithImportSecret([]byte("s")))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(testLogger(), Config{URL: srv.URL}, registry)
	_, err := r.RefreshOnce(context.Background())

	assert.Error(t, err)
	assert.Zero(t, registry.Len())
}

func TestRefreshOnce_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	registry := patterns.NewRegistry(testLogger(), patterns.WithImportSecret([]byte("s")))
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := New(testLogger(), Config{URL: srv.URL}, registry)
	for i := 0; i < 5; i++ {
		_, err := r.RefreshOnce(context.Background())
		assert.Error(t, err)
	}

	// breaker trips after three consecutive failures and stops hitting the server
	assert.Equal(t, 3, hits)
}
