package storetest

import (
	"context"
	"sync"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/internal/store"
)

// UpstreamStore records calls and delegates to the function fields.
type UpstreamStore struct {
	RootIDsFn func(query sq.Sqlizer) ([]string, error)
	CountFn   func(p store.Predicate) (int64, error)
	FindIDsFn func(p store.Predicate, limit int) ([]string, error)
	ExecFn    func(stmt sq.Sqlizer) (int64, error)

	mu    sync.Mutex
	Execs []sq.Sqlizer
}

var _ store.UpstreamStore = (*UpstreamStore)(nil)

func (s *UpstreamStore) RootIDs(_ context.Context, query sq.Sqlizer) ([]string, error) {
	if s.RootIDsFn == nil {
		return nil, nil
	}
	return s.RootIDsFn(query)
}

func (s *UpstreamStore) Count(_ context.Context, p store.Predicate) (int64, error) {
	if s.CountFn == nil {
		return 0, nil
	}
	return s.CountFn(p)
}

func (s *UpstreamStore) FindIDs(_ context.Context, p store.Predicate, limit int) ([]string, error) {
	if s.FindIDsFn == nil {
		return nil, nil
	}
	return s.FindIDsFn(p, limit)
}

func (s *UpstreamStore) Exec(_ context.Context, stmt sq.Sqlizer) (int64, error) {
	s.mu.Lock()
	s.Execs = append(s.Execs, stmt)
	s.mu.Unlock()
	if s.ExecFn == nil {
		return 1, nil
	}
	return s.ExecFn(stmt)
}
