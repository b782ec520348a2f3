package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
)

var (
	// ErrResourceNotFound means the upstream root is gone. Any materialized
	// row for it has been tombstoned by the time this is returned.
	ErrResourceNotFound = errors.New("resource not found upstream")
	ErrUnknownType      = errors.New("unknown resource type")
)

// ResolveTrigger requests a resolution pass. Implementations coalesce.
type ResolveTrigger interface {
	Request(ctx context.Context) error
}

type Materializer struct {
	registry  *resource.Registry
	upstream  db.Querier
	resources store.ResourceStore
	trigger   ResolveTrigger
	metrics   *metrics.Collector
}

func New(registry *resource.Registry, upstream db.Querier, resources store.ResourceStore, trigger ResolveTrigger, m *metrics.Collector) *Materializer {
	return &Materializer{
		registry:  registry,
		upstream:  upstream,
		resources: resources,
		trigger:   trigger,
		metrics:   m,
	}
}

// Materialize rebuilds one resource from current upstream state and upserts
// it, bumping its version. It is safe to call any number of times.
func (m *Materializer) Materialize(ctx context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error) {
	def, ok := m.registry.Get(resourceType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, resourceType)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ResourceType: logger.Ptr(string(resourceType)),
		UpstreamID:   &upstreamID,
	})

	data, err := def.Builder.Build(ctx, m.upstream, upstreamID)
	if errors.Is(err, resource.ErrUpstreamNotFound) {
		tombstoned, tErr := m.resources.Tombstone(ctx, resourceType, upstreamID)
		if tErr != nil {
			return nil, fmt.Errorf("tombstoning %s/%s: %w", resourceType, upstreamID, tErr)
		}
		slog.InfoContext(ctx, "upstream root gone", "tombstoned", tombstoned)
		m.metrics.RecordMaterialization(string(resourceType), "gone")
		return nil, fmt.Errorf("%w: %s/%s", ErrResourceNotFound, resourceType, upstreamID)
	}
	if err != nil {
		m.metrics.RecordMaterialization(string(resourceType), "error")
		return nil, fmt.Errorf("building %s/%s: %w", resourceType, upstreamID, err)
	}

	refs, err := resource.UpstreamRefs(data)
	if err != nil {
		return nil, err
	}

	res, err := m.resources.Upsert(ctx, resourceType, upstreamID, data, len(refs) == 0)
	if err != nil {
		m.metrics.RecordMaterialization(string(resourceType), "error")
		return nil, err
	}
	m.metrics.RecordMaterialization(string(resourceType), "upserted")

	// Always ask: this resource may be the target other rows were waiting on.
	if err := m.trigger.Request(ctx); err != nil {
		return res, fmt.Errorf("requesting resolution: %w", err)
	}

	slog.DebugContext(ctx, "resource materialized",
		"resource_id", res.ID,
		"version_id", res.VersionID,
		"unresolved_refs", len(refs))
	return res, nil
}

// Handle runs a materialize job. A vanished root counts as done.
func (m *Materializer) Handle(ctx context.Context, p queue.MaterializePayload) error {
	_, err := m.Materialize(ctx, p.ResourceType, p.UpstreamID)
	if errors.Is(err, ErrResourceNotFound) {
		return nil
	}
	return err
}
