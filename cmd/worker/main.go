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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"basegraph.app/materializer/common/id"
	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/common/otel"
	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/materialize"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resolve"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/router"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeWorker)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "materializer worker starting",
		"env", cfg.Env,
		"worker_id", cfg.Worker.ID,
		"topics", cfg.Worker.Topics,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	workerCfg, err := worker.ConfigFrom(cfg.Worker)
	if err != nil {
		slog.ErrorContext(ctx, "invalid worker config", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    50,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	registry := resource.Default()
	stores := store.NewStores(database.Querier())
	trigger := resolve.NewTrigger(stores.Jobs(), m)

	changes := worker.NewChangeLoop(consumer,
		router.New(registry, stores.Upstream(), stores.Jobs(), router.WithMetrics(m)),
		worker.ChangeLoopConfig{MaxAttempts: cfg.Pipeline.MaxAttempts})

	reclaimer := worker.NewStreamReclaimer(redisClient, worker.StreamReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, changes.HandleMessage)

	w, err := worker.New(stores.Jobs(), worker.Handlers{
		Materialize: materialize.New(registry, database.Querier(), stores.Resources(), trigger, m),
		Resolve:     resolve.NewStep(stores.Resources(), registry),
	}, workerCfg, m)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create worker", "error", err)
		os.Exit(1)
	}

	reaper := worker.NewReaper(stores.Jobs(), cfg.Worker.ReapInterval, cfg.Worker.MaxAttempts, m)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	g := new(errgroup.Group)
	g.Go(func() error { return w.Run(runCtx) })
	g.Go(func() error { return changes.Run(runCtx) })
	g.Go(func() error {
		reclaimer.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		reaper.Run(runCtx)
		return nil
	})
	go func() {
		slog.InfoContext(ctx, "metrics server starting", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Worker.JobTimeout+10*time.Second)
	defer cancel()

	// Stop intake first, then let claimed jobs finish.
	reclaimer.Stop()
	changes.Stop()
	w.Stop()
	cancelRun()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "metrics server shutdown error", "error", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
+--------------------------------------+
|   materializer . job worker          |
+--------------------------------------+
`
