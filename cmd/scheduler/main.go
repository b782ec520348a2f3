package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/common/otel"
	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/service"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/task"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeScheduler)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeScheduler)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	m := metrics.New()
	stores := store.NewStores(database.Querier())
	runner := task.NewRunner(cfg.Tasks, m)
	if errs := task.RegisterDefaults(runner, task.Deps{
		Registry:  resource.Default(),
		Resources: stores.Resources(),
		Jobs:      stores.Jobs(),
		Upstream:  stores.Upstream(),
		Tx:        service.NewTxRunner(database),
		Metrics:   m,
	}); len(errs) > 0 {
		slog.WarnContext(ctx, "some tasks were not registered", "failed", len(errs))
	}

	if len(runner.Names()) == 0 {
		slog.WarnContext(ctx, "no scheduled tasks registered")
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()

	if err := runner.Start(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to start task runner", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "scheduler running", "tasks", runner.Names())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down scheduler...")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := runner.Stop(shutdownCtx); err != nil {
		slog.WarnContext(ctx, "tasks still running at shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "metrics server shutdown error", "error", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "scheduler shutdown complete")
}

const banner = `
+--------------------------------------+
|   materializer . scheduled tasks     |
+--------------------------------------+
`
