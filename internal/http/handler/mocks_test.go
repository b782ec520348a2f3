package handler_test

import (
	"context"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/service"
)

type mockChangeService struct {
	ingestFn      func(ctx context.Context, event model.ChangeEvent) error
	ingestBatchFn func(ctx context.Context, events []model.ChangeEvent) (int, error)
}

func (m *mockChangeService) Ingest(ctx context.Context, event model.ChangeEvent) error {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, event)
	}
	return nil
}

func (m *mockChangeService) IngestBatch(ctx context.Context, events []model.ChangeEvent) (int, error) {
	if m.ingestBatchFn != nil {
		return m.ingestBatchFn(ctx, events)
	}
	return len(events), nil
}

type mockOpsService struct {
	queueStatsFn   func(ctx context.Context) ([]model.TopicStats, error)
	countMissingFn func(ctx context.Context) (map[model.ResourceType]int64, error)
	reconcileFn    func(ctx context.Context) (map[model.ResourceType]int64, error)
	backfillFn     func(ctx context.Context, resourceType model.ResourceType) (*service.BackfillResult, error)
	enqueueFn      func(ctx context.Context, resourceType model.ResourceType, upstreamID string) (bool, error)
	resolveFn      func(ctx context.Context) error
	retryFailedFn  func(ctx context.Context, topic *model.Topic) (int64, error)
	getResourceFn  func(ctx context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error)
}

func (m *mockOpsService) QueueStats(ctx context.Context) ([]model.TopicStats, error) {
	if m.queueStatsFn != nil {
		return m.queueStatsFn(ctx)
	}
	return nil, nil
}

func (m *mockOpsService) CountMissing(ctx context.Context) (map[model.ResourceType]int64, error) {
	if m.countMissingFn != nil {
		return m.countMissingFn(ctx)
	}
	return nil, nil
}

func (m *mockOpsService) Reconcile(ctx context.Context) (map[model.ResourceType]int64, error) {
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx)
	}
	return nil, nil
}

func (m *mockOpsService) Backfill(ctx context.Context, resourceType model.ResourceType) (*service.BackfillResult, error) {
	if m.backfillFn != nil {
		return m.backfillFn(ctx, resourceType)
	}
	return &service.BackfillResult{ResourceType: resourceType}, nil
}

func (m *mockOpsService) Enqueue(ctx context.Context, resourceType model.ResourceType, upstreamID string) (bool, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, resourceType, upstreamID)
	}
	return true, nil
}

func (m *mockOpsService) Resolve(ctx context.Context) error {
	if m.resolveFn != nil {
		return m.resolveFn(ctx)
	}
	return nil
}

func (m *mockOpsService) RetryFailed(ctx context.Context, topic *model.Topic) (int64, error) {
	if m.retryFailedFn != nil {
		return m.retryFailedFn(ctx, topic)
	}
	return 0, nil
}

func (m *mockOpsService) GetResource(ctx context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error) {
	if m.getResourceFn != nil {
		return m.getResourceFn(ctx, resourceType, upstreamID)
	}
	return nil, nil
}
