package worker

import (
	"context"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/router"
)

// Consumer abstracts the change stream for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// ChangeRouter abstracts router.Router for testability.
type ChangeRouter interface {
	Route(ctx context.Context, ev model.ChangeEvent) (router.Result, error)
}

type MaterializeHandler interface {
	Handle(ctx context.Context, p queue.MaterializePayload) error
}

type ResolveHandler interface {
	Handle(ctx context.Context, p queue.ResolvePayload) error
}
