package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vigil-ai/vigil/pkg/analyzer"
	"github.com/vigil-ai/vigil/pkg/config"
	"github.com/vigil-ai/vigil/pkg/guard"
	"github.com/vigil-ai/vigil/pkg/infra/audit"
	"github.com/vigil-ai/vigil/pkg/infra/metrics"
	"github.com/vigil-ai/vigil/pkg/intel"
	"github.com/vigil-ai/vigil/pkg/moderation"
	"github.com/vigil-ai/vigil/pkg/patterns"
	"github.com/vigil-ai/vigil/pkg/version"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.Load(os.Getenv("VIGIL_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	info := version.GetInfo()
	logger.WithFields(logrus.Fields{
		"version":    info.Version,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}).Info("starting " + info.AppName)

	registry, err := patterns.NewDefaultRegistry(logger,
		patterns.WithImportSecret([]byte(cfg.Patterns.ImportSecret)))
	if err != nil {
		logger.WithError(err).Fatal("failed to build pattern registry")
	}
	for _, group := range cfg.Patterns.DisabledGroups {
		disabled := registry.DisableGroup(group)
		logger.WithFields(logrus.Fields{"group": group, "patterns": disabled}).Info("pattern group disabled")
	}

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)
	if cfg.Metrics.Enabled {
		go serveMetrics(logger, cfg.Metrics.Addr, promRegistry)
	}

	an := analyzer.New(logger, cfg.Analyzer)
	for _, rule := range cfg.CustomRules {
		if err := an.RegisterRule(rule); err != nil {
			logger.WithError(err).WithField("rule", rule.Name).Warn("skipping invalid custom rule")
		}
	}
	mod := moderation.New(logger, cfg.Moderation)
	ev := patterns.NewEvaluator(registry, logger, collector)
	if cfg.Patterns.EvalBudgetMS > 0 {
		ev.SetBudget(time.Duration(cfg.Patterns.EvalBudgetMS) * time.Millisecond)
	}

	sink := audit.NewAsyncSink(audit.NewLogSink(logger), 1024)
	defer sink.Stop()

	opts := []guard.Option{
		guard.WithAuditSink(sink),
		guard.WithMetrics(collector),
	}
	if trusted := trustedUsersFromEnv(); len(trusted) > 0 {
		opts = append(opts, guard.WithTrustSource(trusted))
	}
	g := guard.New(logger, cfg.Guard, ev, an, mod, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Intel.URL != "" {
		refresher := intel.New(logger, cfg.Intel, registry)
		go refresher.Run(ctx)
	}

	runREPL(ctx, g, logger)
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func serveMetrics(logger *logrus.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.WithField("addr", addr).Info("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("metrics endpoint failed")
	}
}

func trustedUsersFromEnv() guard.StaticTrustList {
	raw := os.Getenv("VIGIL_TRUSTED_USERS")
	if raw == "" {
		return nil
	}
	list := guard.StaticTrustList{}
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			list[id] = true
		}
	}
	return list
}

// runREPL reads one input per line from stdin and prints the verdict as JSON.
func runREPL(ctx context.Context, g *guard.Guard, logger *logrus.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	userID := os.Getenv("VIGIL_USER_ID")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			verdict := g.CheckInput(ctx, line, guard.RequestContext{UserID: userID})
			out, err := json.Marshal(verdict)
			if err != nil {
				logger.WithError(err).Error("failed to encode verdict")
				continue
			}
			fmt.Println(string(out))
			if verdict.Blocked {
				fmt.Println(guard.BlockMessage(verdict))
			}
		}
	}
}
