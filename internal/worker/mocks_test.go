package worker_test

import (
	"context"
	"sync"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/router"
)

type mockMaterializeHandler struct {
	mu       sync.Mutex
	payloads []queue.MaterializePayload
	handleFn func(ctx context.Context, p queue.MaterializePayload) error
}

func (m *mockMaterializeHandler) Handle(ctx context.Context, p queue.MaterializePayload) error {
	m.mu.Lock()
	m.payloads = append(m.payloads, p)
	m.mu.Unlock()
	if m.handleFn != nil {
		return m.handleFn(ctx, p)
	}
	return nil
}

type mockResolveHandler struct {
	calls int
}

func (m *mockResolveHandler) Handle(context.Context, queue.ResolvePayload) error {
	m.calls++
	return nil
}

type mockConsumer struct {
	readFn  func(ctx context.Context) ([]queue.Message, error)
	mu      sync.Mutex
	acked   []string
	requeue []string
	dlq     []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	if m.readFn != nil {
		return m.readFn(ctx)
	}
	return nil, nil
}

func (m *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg.ID)
	return nil
}

func (m *mockConsumer) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	m.requeue = append(m.requeue, msg.ID)
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	m.dlq = append(m.dlq, msg.ID)
	return nil
}

type mockRouter struct {
	routeFn func(ctx context.Context, ev model.ChangeEvent) (router.Result, error)
}

func (m *mockRouter) Route(ctx context.Context, ev model.ChangeEvent) (router.Result, error) {
	if m.routeFn != nil {
		return m.routeFn(ctx, ev)
	}
	return router.Result{}, nil
}
