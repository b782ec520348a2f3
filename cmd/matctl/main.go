package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/cli"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resolve"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/service"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/task"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var closers []func()
	connect := func(ctx context.Context) (*cli.Deps, error) {
		cfg, err := config.Load(config.ServiceTypeCLI)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		logger.Setup(cfg)

		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		closers = append(closers, database.Close)

		redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)
		closers = append(closers, func() { _ = producer.Close() })

		m := metrics.New()
		registry := resource.Default()
		stores := store.NewStores(database.Querier())
		txRunner := service.NewTxRunner(database)
		services := service.NewServices(stores, txRunner, registry, producer,
			resolve.NewTrigger(stores.Jobs(), m), m)

		runner := task.NewRunner(cfg.Tasks, m)
		task.RegisterDefaults(runner, task.Deps{
			Registry:  registry,
			Resources: stores.Resources(),
			Jobs:      stores.Jobs(),
			Upstream:  stores.Upstream(),
			Tx:        txRunner,
			Metrics:   m,
		})

		return &cli.Deps{Ops: services.Ops(), RunTask: runner.RunNow}, nil
	}

	err := cli.NewRootCommand(connect).ExecuteContext(ctx)
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
