package task

import (
	"context"

	"basegraph.app/materializer/internal/store"
)

// PredicateSource is a BatchSource over the ids of upstream rows matching one
// predicate.
type PredicateSource struct {
	Upstream  store.UpstreamStore
	Predicate store.Predicate
	ProcessFn func(ctx context.Context, ids []string) error
}

func (s PredicateSource) Count(ctx context.Context) (int64, error) {
	return s.Upstream.Count(ctx, s.Predicate)
}

func (s PredicateSource) Find(ctx context.Context, limit int) ([]string, error) {
	return s.Upstream.FindIDs(ctx, s.Predicate, limit)
}

func (s PredicateSource) Process(ctx context.Context, ids []string) error {
	return s.ProcessFn(ctx, ids)
}
