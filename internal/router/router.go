package router

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
)

// Result summarizes what one change event caused.
type Result struct {
	Dependents int
	Roots      int
	Enqueued   int64
}

// Router turns an upstream change into materialize jobs for every affected
// (resource type, root) pair. It never reads field values from the event
// except the deleted-row snapshot needed to locate roots after a delete.
type Router struct {
	registry *resource.Registry
	upstream store.UpstreamStore
	jobs     store.JobStore
	metrics  *metrics.Collector
	priority int32
}

type Option func(*Router)

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Router) { r.metrics = m }
}

func WithPriority(p int32) Option {
	return func(r *Router) { r.priority = p }
}

func New(registry *resource.Registry, upstream store.UpstreamStore, jobs store.JobStore, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		upstream: upstream,
		jobs:     jobs,
		priority: model.PriorityDefault,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Route(ctx context.Context, ev model.ChangeEvent) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{ChangeTable: &ev.Table})

	bindings := r.registry.DependentsOf(ev.Table)
	if len(bindings) == 0 {
		slog.DebugContext(ctx, "no resource depends on table",
			"operation", ev.Operation,
			"row_id", ev.RowID)
		return Result{}, nil
	}

	res := Result{Dependents: len(bindings)}
	var jobs []model.NewJob
	for _, b := range bindings {
		query, ok := b.Dependency.FanOut(ev)
		if !ok {
			slog.WarnContext(ctx, "cannot locate roots for change",
				"resource_type", b.Type,
				"operation", ev.Operation,
				"row_id", ev.RowID)
			continue
		}

		rootIDs, err := r.upstream.RootIDs(ctx, query)
		if err != nil {
			return res, fmt.Errorf("fanning out %s to %s: %w", ev.Table, b.Type, err)
		}
		res.Roots += len(rootIDs)

		for _, rootID := range rootIDs {
			job, err := queue.Encode(queue.MaterializePayload{ResourceType: b.Type, UpstreamID: rootID}, r.priority)
			if err != nil {
				return res, err
			}
			jobs = append(jobs, job)
		}
	}

	if len(jobs) > 0 {
		n, err := r.jobs.EnqueueMany(ctx, jobs)
		if err != nil {
			return res, err
		}
		res.Enqueued = n
		r.metrics.RecordEnqueued(string(model.TopicMaterialize), n)
	}
	r.metrics.RecordRouted(ev.Table)

	slog.DebugContext(ctx, "change routed",
		"operation", ev.Operation,
		"row_id", ev.RowID,
		"dependents", res.Dependents,
		"roots", res.Roots,
		"enqueued", res.Enqueued)
	return res, nil
}
