package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/metrics"
)

// BatchSource supplies the rows of a batched task. Find must re-run the same
// predicate Count used, and Process must make the rows it is given stop
// matching it; BatchTask never pages with an offset.
type BatchSource[T any] interface {
	Count(ctx context.Context) (int64, error)
	Find(ctx context.Context, limit int) ([]T, error)
	Process(ctx context.Context, rows []T) error
}

type SleepFunc func(ctx context.Context, d time.Duration) error

// BatchTask counts the rows to process up front and then works through them
// in ceil(total/batchSize) sequential batches, sleeping between batches.
type BatchTask[T any] struct {
	name      string
	source    BatchSource[T]
	batchSize int
	sleep     time.Duration
	sleepFn   SleepFunc
	metrics   *metrics.Collector
}

// NewBatchTask fails with a *ConfigurationError when batchSize or
// batchSleepMs is missing, before the source is ever queried.
func NewBatchTask[T any](name string, cfg config.ScheduleConfig, source BatchSource[T], m *metrics.Collector) (*BatchTask[T], error) {
	if err := cfg.ValidateBatch(); err != nil {
		return nil, &ConfigurationError{Task: name, Err: err}
	}
	return &BatchTask[T]{
		name:      name,
		source:    source,
		batchSize: *cfg.BatchSize,
		sleep:     cfg.BatchSleep(),
		sleepFn:   sleepContext,
		metrics:   m,
	}, nil
}

// WithSleep replaces the pause between batches.
func (t *BatchTask[T]) WithSleep(fn SleepFunc) *BatchTask[T] {
	t.sleepFn = fn
	return t
}

func (t *BatchTask[T]) Name() string { return t.name }

// Run processes every row counted at the start. Cancelling ctx stops the task
// between batches; a batch that has started is finished.
func (t *BatchTask[T]) Run(ctx context.Context) error {
	total, err := t.source.Count(ctx)
	if err != nil {
		return fmt.Errorf("%s: counting: %w", t.name, err)
	}
	if total == 0 {
		slog.DebugContext(ctx, "nothing to do", "task", t.name)
		return nil
	}

	batches := int((total + int64(t.batchSize) - 1) / int64(t.batchSize))
	slog.InfoContext(ctx, "running batched task",
		"task", t.name,
		"total", total,
		"batch_size", t.batchSize,
		"batches", batches)

	var processed int
	for i := range batches {
		if i > 0 {
			if err := t.sleepFn(ctx, t.sleep); err != nil {
				slog.InfoContext(ctx, "batched task interrupted",
					"task", t.name,
					"batch", i,
					"processed", processed)
				return err
			}
		}

		n, err := t.runBatch(context.WithoutCancel(ctx))
		if err != nil {
			return fmt.Errorf("%s: batch %d of %d: %w", t.name, i+1, batches, err)
		}
		if n == 0 {
			// Rows stopped matching since the count, usually because
			// another node processed them.
			break
		}
		processed += n
	}

	slog.InfoContext(ctx, "batched task finished", "task", t.name, "processed", processed)
	return nil
}

func (t *BatchTask[T]) runBatch(ctx context.Context) (int, error) {
	rows, err := t.source.Find(ctx, t.batchSize)
	if err != nil {
		return 0, fmt.Errorf("finding rows: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := t.source.Process(ctx, rows); err != nil {
		return 0, err
	}
	t.metrics.RecordTaskBatch(t.name)
	return len(rows), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
