// Package intel periodically pulls signed pattern batches from a remote
// threat-intelligence feed and merges them into the registry. A failed or
// rejected fetch leaves the running pattern set untouched.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vigil-ai/vigil/pkg/patterns"
)

// feedEnvelope is the wire format served by the feed endpoint.
type feedEnvelope struct {
	Patterns  json.RawMessage `json:"patterns"`
	Signature string          `json:"signature"`
}

// Config controls the refresher.
type Config struct {
	URL          string        `mapstructure:"url"`
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DefaultConfig returns the stock feed settings (hourly refresh).
func DefaultConfig() Config {
	return Config{
		Interval:     time.Hour,
		FetchTimeout: 30 * time.Second,
	}
}

// Refresher owns the periodic fetch loop. It runs independently of request
// handling and never blocks it.
type Refresher struct {
	logger   *logrus.Logger
	cfg      Config
	registry *patterns.Registry
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// New builds a refresher for the given registry. The registry must carry an
// import secret or every batch will be rejected.
func New(logger *logrus.Logger, cfg Config, registry *patterns.Registry) *Refresher {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	return &Refresher{
		logger:   logger,
		cfg:      cfg,
		registry: registry,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "threat-intel-feed",
			Timeout: 2 * cfg.Interval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Run fetches immediately, then on every interval tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	if r.cfg.URL == "" {
		if r.logger != nil {
			r.logger.Info("threat-intel feed disabled, no URL configured")
		}
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	merged, err := r.RefreshOnce(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("threat-intel refresh failed, keeping current pattern set")
		}
		return
	}
	if r.logger != nil && merged > 0 {
		r.logger.WithField("patterns", merged).Info("threat-intel patterns merged")
	}
}

// RefreshOnce performs a single fetch-verify-merge cycle. The fetch goes
// through the circuit breaker; the signature is verified by the registry
// before anything is merged.
func (r *Refresher) RefreshOnce(ctx context.Context) (int, error) {
	raw, err := r.breaker.Execute(func() (interface{}, error) {
		return r.fetch(ctx)
	})
	if err != nil {
		return 0, err
	}
	env := raw.(*feedEnvelope)
	merged, err := r.registry.ImportSigned(env.Patterns, env.Signature)
	if err != nil {
		return 0, fmt.Errorf("merging feed batch: %w", err)
	}
	return merged, nil
}

func (r *Refresher) fetch(ctx context.Context) (*feedEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}

	var env feedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding feed envelope: %w", err)
	}
	if len(env.Patterns) == 0 || env.Signature == "" {
		return nil, fmt.Errorf("feed envelope missing patterns or signature")
	}
	return &env, nil
}
