// Command worker-service runs the WorkerPipeline: a consumer loop that
// pulls batches off Queue and drives every event through
// normalize/enrich/detect/correlate/respond/persist. It also exposes
// an operator-only --unblock flag implementing the reset-state
// operation spec.md's data model names but never defines a path for.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"sentrywire/internal/anomaly"
	"sentrywire/internal/config"
	"sentrywire/internal/correlate"
	"sentrywire/internal/enrich"
	"sentrywire/internal/eventindex"
	"sentrywire/internal/logging"
	"sentrywire/internal/metrics"
	"sentrywire/internal/normalize"
	"sentrywire/internal/queue"
	"sentrywire/internal/respond"
	"sentrywire/internal/rules"
	"sentrywire/internal/statestore"
	"sentrywire/internal/telemetry"
	"sentrywire/internal/worker"
)

func main() {
	flags := pflag.NewFlagSet("worker-service", pflag.ExitOnError)
	flags.String("config", "", "path to config file")
	unblockIP := flags.String("unblock", "", "reset the blocklist entry for this IP and exit")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level)

	store, err := statestore.NewRedisStore(statestore.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		slog.Error("failed to connect to state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *unblockIP != "" {
		if err := store.ResetBlock(context.Background(), *unblockIP); err != nil {
			slog.Error("failed to reset block", "ip", *unblockIP, "error", err)
			os.Exit(1)
		}
		slog.Info("blocklist entry reset", "ip", *unblockIP)
		return
	}

	if dataDir := filepath.Dir(cfg.Storage.Path); dataDir != "." {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			slog.Error("failed to create data directory", "path", dataDir, "error", err)
			os.Exit(1)
		}
	}
	index, err := eventindex.Open(cfg.Storage.Path)
	if err != nil {
		slog.Error("failed to open event index", "error", err)
		os.Exit(1)
	}
	defer index.Close()

	rulesCfg, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		slog.Error("failed to load rules config", "error", err)
		os.Exit(1)
	}
	responseCfg, err := config.LoadResponse(cfg.ResponseFile)
	if err != nil {
		slog.Error("failed to load response config", "error", err)
		os.Exit(1)
	}

	enricher, err := enrich.New(cfg.Enrich)
	if err != nil {
		slog.Error("failed to initialize enricher", "error", err)
		os.Exit(1)
	}

	responder, err := respond.New(responseCfg, store)
	if err != nil {
		slog.Error("failed to initialize responder", "error", err)
		os.Exit(1)
	}

	q := queue.NewRedisQueue(store.Client())
	consumerID := fmt.Sprintf("worker-%s", uuid.NewString())

	tp, err := telemetry.NewProvider(telemetry.ConfigFromEnv())
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	pipeline := worker.New(
		consumerID,
		q,
		store,
		normalize.New(),
		enricher,
		rules.New(rulesCfg, store),
		anomaly.NewScorer(anomaly.DefaultModel()),
		correlate.New(store),
		responder,
		index,
		tp,
	)

	slog.Info("starting worker-service", "consumer_id", consumerID)

	metricsServer := &http.Server{Addr: ":9090", Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go pipeline.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down worker-service")
	cancel()
}
