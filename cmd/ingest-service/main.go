// Command ingest-service runs the IngestAPI HTTP frontend: it accepts
// events, enforces the blocklist and rate-limit gates, and hands off
// to Queue. Wiring follows the teacher's cmd/elida/main.go shape: load
// config, set up logging, construct process-scoped handles, serve
// until signaled.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"sentrywire/internal/config"
	"sentrywire/internal/ingest"
	"sentrywire/internal/logging"
	"sentrywire/internal/metrics"
	"sentrywire/internal/queue"
	"sentrywire/internal/statestore"
)

func main() {
	flags := pflag.NewFlagSet("ingest-service", pflag.ExitOnError)
	flags.String("config", "", "path to config file")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level)
	slog.Info("starting ingest-service", "listen", cfg.Ingest.Listen)

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

	q := queue.NewRedisQueue(store.Client())
	if err := q.EnsureGroup(context.Background()); err != nil {
		slog.Error("failed to ensure consumer group", "error", err)
		os.Exit(1)
	}

	server := ingest.NewServer(store, q, cfg.Ingest.RateLimitPerMinute)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{Addr: cfg.Ingest.Listen, Handler: mux}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ingest server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down ingest-service")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
