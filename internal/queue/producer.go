package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/materializer/internal/model"
)

// ChangeProducer publishes upstream change events onto the change stream.
type ChangeProducer interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) ChangeProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Publish(ctx context.Context, event model.ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: messageValues(event, 1),
	}).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}

	p.logger.DebugContext(ctx, "published change event",
		"table", event.Table,
		"operation", event.Operation,
		"row_id", event.RowID)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
