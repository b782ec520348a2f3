package materialize_test

import (
	"context"
	"encoding/json"
	"sync"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/resource"
)

type mockTrigger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockTrigger) Request(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

// fakeUpstream serves builder output from an in-memory table of documents.
type fakeUpstream struct {
	mu   sync.Mutex
	docs map[string]string
	err  error
}

func (f *fakeUpstream) set(id, doc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = doc
}

func (f *fakeUpstream) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
}

func (f *fakeUpstream) build(_ context.Context, _ db.Querier, id string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, resource.ErrUpstreamNotFound
	}
	return json.RawMessage(doc), nil
}

func registryFor(t model.ResourceType, table string, up *fakeUpstream) *resource.Registry {
	return resource.NewRegistry(resource.Definition{
		Type:         t,
		RootTable:    table,
		Dependencies: []resource.Dependency{resource.OwnRow(table)},
		Builder:      resource.BuilderFunc(up.build),
	})
}
