package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/store"
)

type Config struct {
	ID           string
	Topics       []model.Topic
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	JobTimeout   time.Duration
	MaxAttempts  int32
	RetryBackoff time.Duration
}

// ConfigFrom converts the environment configuration, rejecting unknown topics.
func ConfigFrom(cfg config.WorkerConfig) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	topics, err := queue.ParseTopics(cfg.Topics)
	if err != nil {
		return Config{}, err
	}
	return Config{
		ID:           cfg.ID,
		Topics:       topics,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Lease:        cfg.Lease,
		JobTimeout:   cfg.JobTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
	}, nil
}

// Worker claims jobs for its topics and runs them through the typed handlers.
// Every claimed job ends in exactly one of Complete, Retry or Fail; a lost
// lease is left to the reaper.
type Worker struct {
	jobs     store.JobStore
	handlers Handlers
	cfg      Config
	metrics  *metrics.Collector
	now      func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(jobs store.JobStore, handlers Handlers, cfg Config, m *metrics.Collector) (*Worker, error) {
	if err := handlers.validate(cfg.Topics); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		jobs:      jobs,
		handlers:  handlers,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or Stop is called. Jobs in flight are
// finished before it returns.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "materializer.worker"})
	slog.InfoContext(ctx, "worker started",
		"worker_id", w.cfg.ID,
		"topics", w.cfg.Topics,
		"concurrency", w.cfg.Concurrency)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	for range w.cfg.Concurrency {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		worked, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "claim failed", "error", err)
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was
// claimed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	jobs, err := w.jobs.Claim(ctx, store.ClaimParams{
		Topics:   w.cfg.Topics,
		WorkerID: w.cfg.ID,
		Lease:    w.cfg.Lease,
		Limit:    1,
	})
	if err != nil {
		return false, fmt.Errorf("claiming: %w", err)
	}
	if len(jobs) == 0 {
		return false, nil
	}
	// Shutdown must not strand a claimed job, so it runs to completion.
	w.process(context.WithoutCancel(ctx), jobs[0])
	return true, nil
}

func (w *Worker) process(ctx context.Context, job model.Job) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID: &job.ID,
		Topic: logger.Ptr(string(job.Topic)),
	})
	span := logger.StartSpan(ctx, "worker.job")
	defer span.End()
	ctx = span.Context()

	start := w.now()
	err := w.execute(ctx, job)
	elapsed := w.now().Sub(start)
	topic := string(job.Topic)

	if err == nil {
		w.settle(ctx, job, w.jobs.Complete(ctx, job))
		w.metrics.RecordCompleted(topic, elapsed)
		slog.InfoContext(ctx, "job completed",
			"attempt", job.Attempt,
			"duration_ms", elapsed.Milliseconds())
		return
	}

	span.RecordError(err)
	outcome := Classify(err)

	if outcome == OutcomeRetry && job.Attempt < w.cfg.MaxAttempts {
		runAfter := w.now().Add(w.backoff(job.Attempt))
		w.settle(ctx, job, w.jobs.Retry(ctx, job, err.Error(), runAfter))
		w.metrics.RecordRetried(topic, elapsed)
		slog.WarnContext(ctx, "job failed, will retry",
			"error", err,
			"attempt", job.Attempt,
			"max_attempts", w.cfg.MaxAttempts,
			"run_after", runAfter)
		return
	}

	reason := metrics.ReasonHandlerBug
	switch {
	case outcome == OutcomeRetry:
		reason = metrics.ReasonExhausted
	case errors.Is(err, queue.ErrInvalidPayload):
		reason = metrics.ReasonBadPayload
	}
	w.settle(ctx, job, w.jobs.Fail(ctx, job, err.Error()))
	w.metrics.RecordFailed(topic, reason)
	slog.ErrorContext(ctx, "job failed",
		"error", err,
		"reason", reason,
		"attempt", job.Attempt,
		"payload", logger.Truncate(string(job.Payload), 512))
}

func (w *Worker) execute(ctx context.Context, job model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job handler",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	payload, err := queue.Decode(job.Topic, job.Payload)
	if err != nil {
		return err
	}

	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	return w.handlers.dispatch(ctx, payload)
}

// settle logs the result of acknowledging a job. A lost lease means the
// reaper already handed the job on; its next run repeats the work.
func (w *Worker) settle(ctx context.Context, job model.Job, err error) {
	switch {
	case err == nil:
	case errors.Is(err, store.ErrLeaseLost):
		slog.WarnContext(ctx, "job lease lost before acknowledgement", "attempt", job.Attempt)
	default:
		slog.ErrorContext(ctx, "failed to acknowledge job", "error", err)
	}
}

func (w *Worker) backoff(attempt int32) time.Duration {
	return w.cfg.RetryBackoff * time.Duration(attempt)
}
