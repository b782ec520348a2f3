package store

import (
	"basegraph.app/materializer/core/db"
)

// TxStores are the stores a transactional operation writes through.
type TxStores interface {
	Jobs() JobStore
	Upstream() UpstreamStore
}

var _ TxStores = (*Stores)(nil)

type Stores struct {
	q db.Querier
}

// NewStores binds all stores to q, which may be the pool or a transaction.
func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.q)
}

func (s *Stores) Resources() ResourceStore {
	return newResourceStore(s.q)
}

func (s *Stores) Upstream() UpstreamStore {
	return newUpstreamStore(s.q)
}
