package task

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
)

const MissingResourcesName = "missingResources"

// MissingResources finds upstream roots that have neither a materialized
// resource nor a pending materialize job and enqueues them. It heals changes
// the router never saw.
type MissingResources struct {
	registry  *resource.Registry
	resources store.ResourceStore
	jobs      store.JobStore
	metrics   *metrics.Collector
}

func NewMissingResources(registry *resource.Registry, resources store.ResourceStore, jobs store.JobStore, m *metrics.Collector) *MissingResources {
	return &MissingResources{
		registry:  registry,
		resources: resources,
		jobs:      jobs,
		metrics:   m,
	}
}

func (t *MissingResources) Name() string { return MissingResourcesName }

// CountQueue returns the number of missing roots per resource type.
func (t *MissingResources) CountQueue(ctx context.Context) (map[model.ResourceType]int64, error) {
	counts := make(map[model.ResourceType]int64)
	for _, def := range t.registry.Definitions() {
		n, err := t.resources.CountMissing(ctx, def.RootSpec())
		if err != nil {
			return nil, fmt.Errorf("counting missing %s: %w", def.Type, err)
		}
		counts[def.Type] = n
		t.metrics.SetMissing(string(def.Type), n)
	}
	return counts, nil
}

// Run enqueues one low priority materialize job per missing root, using a
// single insert-select per resource type.
func (t *MissingResources) Run(ctx context.Context) error {
	counts, err := t.CountQueue(ctx)
	if err != nil {
		return err
	}

	var total, enqueued int64
	for _, def := range t.registry.Definitions() {
		n := counts[def.Type]
		if n == 0 {
			continue
		}
		total += n

		created, err := t.jobs.EnqueueBulk(ctx, model.TopicMaterialize, store.MissingJobsSource(def.RootSpec()), model.PriorityLow)
		if err != nil {
			return fmt.Errorf("enqueueing missing %s: %w", def.Type, err)
		}
		enqueued += created
		t.metrics.RecordEnqueued(string(model.TopicMaterialize), created)
		slog.InfoContext(ctx, "enqueued missing resources",
			"resource_type", def.Type,
			"missing", n,
			"enqueued", created)
	}

	if total == 0 {
		slog.DebugContext(ctx, "no missing resources")
		return nil
	}
	slog.InfoContext(ctx, "missing resources enqueued", "missing", total, "enqueued", enqueued)
	return nil
}
