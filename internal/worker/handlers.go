package worker

import (
	"context"
	"fmt"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
)

// Handlers holds one typed handler per topic. Adding a topic means adding a
// field here, a case in dispatch and a case in handles.
type Handlers struct {
	Materialize MaterializeHandler
	Resolve     ResolveHandler
}

func (h Handlers) handles(topic model.Topic) bool {
	switch topic {
	case model.TopicMaterialize:
		return h.Materialize != nil
	case model.TopicResolve:
		return h.Resolve != nil
	}
	return false
}

// validate rejects topics that are unknown or have no handler, so a
// misconfigured worker fails at startup rather than at dequeue time.
func (h Handlers) validate(topics []model.Topic) error {
	if len(topics) == 0 {
		return fmt.Errorf("worker: no topics configured")
	}
	for _, topic := range topics {
		if !topic.Valid() {
			return fmt.Errorf("worker: %w: %q", queue.ErrUnknownTopic, topic)
		}
		if !h.handles(topic) {
			return fmt.Errorf("worker: no handler registered for topic %q", topic)
		}
	}
	return nil
}

func (h Handlers) dispatch(ctx context.Context, p queue.Payload) error {
	switch p := p.(type) {
	case queue.MaterializePayload:
		return h.Materialize.Handle(ctx, p)
	case queue.ResolvePayload:
		return h.Resolve.Handle(ctx, p)
	default:
		return fmt.Errorf("%w: %T", queue.ErrUnknownTopic, p)
	}
}
