package service

import (
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	registry *resource.Registry
	producer queue.ChangeProducer
	trigger  ResolveRequester
	metrics  *metrics.Collector
}

func NewServices(stores *store.Stores, txRunner TxRunner, registry *resource.Registry, producer queue.ChangeProducer, trigger ResolveRequester, m *metrics.Collector) *Services {
	return &Services{
		stores:   stores,
		txRunner: txRunner,
		registry: registry,
		producer: producer,
		trigger:  trigger,
		metrics:  m,
	}
}

func (s *Services) Changes() ChangeIngestService {
	return NewChangeIngestService(s.producer, nil)
}

func (s *Services) Ops() OpsService {
	return NewOpsService(s.stores.Jobs(), s.stores.Resources(), s.txRunner, s.registry, s.trigger, s.metrics)
}

func (s *Services) Registry() *resource.Registry {
	return s.registry
}
