package service_test

import (
	"context"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/service"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/store/storetest"
)

type mockProducer struct {
	publishFn func(ctx context.Context, event model.ChangeEvent) error
	published []model.ChangeEvent
}

func (m *mockProducer) Publish(ctx context.Context, event model.ChangeEvent) error {
	if m.publishFn != nil {
		if err := m.publishFn(ctx, event); err != nil {
			return err
		}
	}
	m.published = append(m.published, event)
	return nil
}

func (m *mockProducer) Close() error { return nil }

type mockTrigger struct {
	calls int
	err   error
}

func (m *mockTrigger) Request(context.Context) error {
	m.calls++
	return m.err
}

// fakeTx hands the in-memory stores to fn without any isolation.
type fakeTx struct {
	jobs     *storetest.JobStore
	upstream *storetest.UpstreamStore
	calls    int
}

func (f *fakeTx) Jobs() store.JobStore { return f.jobs }
func (f *fakeTx) Upstream() store.UpstreamStore { return f.upstream }

func (f *fakeTx) WithTx(_ context.Context, fn func(stores service.StoreProvider) error) error {
	f.calls++
	return fn(f)
}
