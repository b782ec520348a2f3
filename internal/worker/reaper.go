package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/store"
)

const reapBatch = 100

// Reaper recovers jobs whose worker died while holding them. A job past its
// attempt budget is failed instead of requeued.
type Reaper struct {
	jobs        store.JobStore
	interval    time.Duration
	maxAttempts int32
	metrics     *metrics.Collector
	now         func() time.Time
}

func NewReaper(jobs store.JobStore, interval time.Duration, maxAttempts int32, m *metrics.Collector) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{jobs: jobs, interval: interval, maxAttempts: maxAttempts, metrics: m, now: time.Now}
}

func (r *Reaper) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "materializer.worker.reaper"})

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reap cycle error", "error", err)
			}
		}
	}
}

// ReapOnce handles one batch of expired leases and returns how many it took over.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	expired, err := r.jobs.ListExpired(ctx, reapBatch)
	if err != nil {
		return 0, err
	}

	var reaped int
	for _, job := range expired {
		jobCtx := logger.WithLogFields(ctx, logger.LogFields{JobID: &job.ID, Topic: logger.Ptr(string(job.Topic))})

		if job.Attempt >= r.maxAttempts {
			err = r.jobs.Fail(jobCtx, job, fmt.Sprintf("lease expired on attempt %d", job.Attempt))
			if err == nil {
				r.metrics.RecordFailed(string(job.Topic), metrics.ReasonLeaseExpiry)
				slog.ErrorContext(jobCtx, "job abandoned after lease expiry", "attempt", job.Attempt)
			}
		} else {
			err = r.jobs.Retry(jobCtx, job, "lease expired", r.now())
			if err == nil {
				slog.WarnContext(jobCtx, "requeued job with expired lease", "attempt", job.Attempt)
			}
		}

		switch {
		case err == nil:
			reaped++
		case errors.Is(err, store.ErrLeaseLost):
			// Finished or reaped by someone else in the meantime.
		default:
			return reaped, err
		}
	}
	r.metrics.RecordReaped(reaped)
	return reaped, nil
}
