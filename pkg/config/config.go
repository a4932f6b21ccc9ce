// Package config loads the service configuration from a YAML file and the
// environment. Loading builds an explicit Config value; there is no
// process-wide configuration singleton.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/vigil-ai/vigil/pkg/analyzer"
	"github.com/vigil-ai/vigil/pkg/guard"
	"github.com/vigil-ai/vigil/pkg/intel"
	"github.com/vigil-ai/vigil/pkg/moderation"
)

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// PatternsConfig tunes the pattern registry.
type PatternsConfig struct {
	ImportSecret   string   `mapstructure:"import_secret"`
	DisabledGroups []string `mapstructure:"disabled_groups"`
	EvalBudgetMS   int      `mapstructure:"eval_budget_ms"`
}

// Config is the full service configuration.
type Config struct {
	Logging     LoggingConfig         `mapstructure:"logging"`
	Metrics     MetricsConfig         `mapstructure:"metrics"`
	Patterns    PatternsConfig        `mapstructure:"patterns"`
	Analyzer    analyzer.Config       `mapstructure:"analyzer"`
	Moderation  moderation.Config     `mapstructure:"moderation"`
	Guard       guard.Config          `mapstructure:"guard"`
	Intel       intel.Config          `mapstructure:"intel"`
	CustomRules []analyzer.CustomRule `mapstructure:"custom_rules"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		Metrics:    MetricsConfig{Enabled: true, Addr: ":9090"},
		Analyzer:   analyzer.DefaultConfig(),
		Moderation: moderation.DefaultConfig(),
		Guard:      guard.DefaultConfig(),
		Intel:      intel.DefaultConfig(),
	}
}

// Load reads vigil.yaml from configPath (plus ./config and the working
// directory) and merges VIGIL_* environment variables over it. A missing
// file is not an error; the defaults are returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("vigil")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("vigil")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.addr", def.Metrics.Addr)

	v.SetDefault("analyzer.suspicious_threshold", def.Analyzer.SuspiciousThreshold)
	v.SetDefault("analyzer.cache_size", def.Analyzer.CacheSize)
	v.SetDefault("analyzer.cache_ttl", def.Analyzer.CacheTTL)

	v.SetDefault("moderation.toxicity_threshold", def.Moderation.ToxicityThreshold)
	v.SetDefault("moderation.min_safe_score", def.Moderation.MinSafeScore)
	v.SetDefault("moderation.pii_confidence_min", def.Moderation.PIIConfidenceMin)

	v.SetDefault("guard.high_risk_threshold", def.Guard.HighRiskThreshold)
	v.SetDefault("guard.min_safe_score", def.Guard.MinSafeScore)
	v.SetDefault("guard.flag_threshold", def.Guard.FlagThreshold)
	v.SetDefault("guard.cache_size", def.Guard.CacheSize)
	v.SetDefault("guard.cache_ttl", def.Guard.CacheTTL)

	v.SetDefault("intel.interval", def.Intel.Interval)
	v.SetDefault("intel.fetch_timeout", def.Intel.FetchTimeout)
}
