package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/store"
)

// Trigger keeps at most one resolution pass pending. Concurrent requests in
// this process share one enqueue, and the constant discriminant collapses
// requests across processes while a pass is queued.
type Trigger struct {
	jobs     store.JobStore
	metrics  *metrics.Collector
	priority int32
	group    singleflight.Group
}

// NewTrigger enqueues at low priority so that a burst of materializations
// drains before the pass runs.
func NewTrigger(jobs store.JobStore, m *metrics.Collector) *Trigger {
	return &Trigger{jobs: jobs, metrics: m, priority: model.PriorityLow}
}

func (t *Trigger) Request(ctx context.Context) error {
	_, err, _ := t.group.Do(queue.ResolveDiscriminant, func() (any, error) {
		job, err := queue.Encode(queue.ResolvePayload{}, t.priority)
		if err != nil {
			return nil, err
		}
		id, created, err := t.jobs.Enqueue(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("enqueueing resolution: %w", err)
		}
		if created {
			t.metrics.RecordEnqueued(string(model.TopicResolve), 1)
			slog.DebugContext(ctx, "resolution pass queued", "job_id", id)
		}
		return nil, nil
	})
	return err
}
