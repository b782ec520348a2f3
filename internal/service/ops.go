package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/task"
)

var ErrUnknownResourceType = errors.New("unknown resource type")

type BackfillResult struct {
	ResourceType model.ResourceType `json:"resource_type"`
	Roots        int64              `json:"roots"`
	Enqueued     int64              `json:"enqueued"`
}

// ResolveRequester asks for a resolution pass.
type ResolveRequester interface {
	Request(ctx context.Context) error
}

// OpsService backs the operator endpoints and the matctl CLI.
type OpsService interface {
	QueueStats(ctx context.Context) ([]model.TopicStats, error)
	CountMissing(ctx context.Context) (map[model.ResourceType]int64, error)
	Reconcile(ctx context.Context) (map[model.ResourceType]int64, error)
	Backfill(ctx context.Context, resourceType model.ResourceType) (*BackfillResult, error)
	Enqueue(ctx context.Context, resourceType model.ResourceType, upstreamID string) (bool, error)
	Resolve(ctx context.Context) error
	RetryFailed(ctx context.Context, topic *model.Topic) (int64, error)
	GetResource(ctx context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error)
}

type opsService struct {
	jobs      store.JobStore
	resources store.ResourceStore
	txRunner  TxRunner
	registry  *resource.Registry
	trigger   ResolveRequester
	missing   *task.MissingResources
	metrics   *metrics.Collector
}

func NewOpsService(jobs store.JobStore, resources store.ResourceStore, txRunner TxRunner, registry *resource.Registry, trigger ResolveRequester, m *metrics.Collector) OpsService {
	return &opsService{
		jobs:      jobs,
		resources: resources,
		txRunner:  txRunner,
		registry:  registry,
		trigger:   trigger,
		missing:   task.NewMissingResources(registry, resources, jobs, m),
		metrics:   m,
	}
}

func (s *opsService) QueueStats(ctx context.Context) ([]model.TopicStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading queue stats: %w", err)
	}
	for _, st := range stats {
		s.metrics.SetQueueDepth(string(st.Topic), string(model.JobStatusQueued), st.Queued)
		s.metrics.SetQueueDepth(string(st.Topic), string(model.JobStatusClaimed), st.Claimed)
		s.metrics.SetQueueDepth(string(st.Topic), string(model.JobStatusErrored), st.Errored)
	}
	return stats, nil
}

func (s *opsService) CountMissing(ctx context.Context) (map[model.ResourceType]int64, error) {
	return s.missing.CountQueue(ctx)
}

// Reconcile runs the missing-resources scan now and returns what it found.
func (s *opsService) Reconcile(ctx context.Context) (map[model.ResourceType]int64, error) {
	counts, err := s.missing.CountQueue(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.missing.Run(ctx); err != nil {
		return nil, err
	}
	return counts, nil
}

// Backfill enqueues every live root of resourceType, materialized or not.
func (s *opsService) Backfill(ctx context.Context, resourceType model.ResourceType) (*BackfillResult, error) {
	def, ok := s.registry.Get(resourceType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}

	roots := sq.Select("r.id::text AS id").From(def.RootTable + " r")
	predicate := store.Predicate{Table: def.RootTable + " r", IDColumn: "r.id"}
	if def.RootFilter != nil {
		roots = roots.Where(def.RootFilter)
		predicate.Where = def.RootFilter
	}

	result := &BackfillResult{ResourceType: resourceType}
	err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		if result.Roots, err = sp.Upstream().Count(ctx, predicate); err != nil {
			return fmt.Errorf("counting roots: %w", err)
		}
		if result.Roots == 0 {
			return nil
		}
		result.Enqueued, err = sp.Jobs().EnqueueBulk(ctx, model.TopicMaterialize, store.RootJobsSource(resourceType, roots), model.PriorityLow)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("backfilling %s: %w", resourceType, err)
	}

	s.metrics.RecordEnqueued(string(model.TopicMaterialize), result.Enqueued)
	slog.InfoContext(ctx, "backfill enqueued",
		"resource_type", resourceType,
		"roots", result.Roots,
		"enqueued", result.Enqueued)
	return result, nil
}

// Enqueue asks for one resource to be materialized ahead of routine work.
func (s *opsService) Enqueue(ctx context.Context, resourceType model.ResourceType, upstreamID string) (bool, error) {
	if _, ok := s.registry.Get(resourceType); !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}
	job, err := queue.Encode(queue.MaterializePayload{ResourceType: resourceType, UpstreamID: upstreamID}, model.PriorityHigh)
	if err != nil {
		return false, err
	}
	_, created, err := s.jobs.Enqueue(ctx, job)
	if err != nil {
		return false, fmt.Errorf("enqueueing %s: %w", *job.Discriminant, err)
	}
	if created {
		s.metrics.RecordEnqueued(string(model.TopicMaterialize), 1)
	}
	return created, nil
}

func (s *opsService) Resolve(ctx context.Context) error {
	return s.trigger.Request(ctx)
}

func (s *opsService) RetryFailed(ctx context.Context, topic *model.Topic) (int64, error) {
	if topic != nil && !topic.Valid() {
		return 0, fmt.Errorf("%w: %q", queue.ErrUnknownTopic, *topic)
	}
	n, err := s.jobs.RetryFailed(ctx, topic)
	if err != nil {
		return 0, fmt.Errorf("requeueing failed jobs: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "requeued failed jobs", "count", n)
	}
	return n, nil
}

func (s *opsService) GetResource(ctx context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error) {
	if _, ok := s.registry.Get(resourceType); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}
	return s.resources.Get(ctx, resourceType, upstreamID)
}
