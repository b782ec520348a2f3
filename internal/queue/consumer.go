package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/internal/model"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream carrying upstream change events
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter stream for events that keep failing to route
	BatchSize    int64         // Number of events to read per batch
	Block        time.Duration // How long to block/poll for new events
	MaxAttempts  int           // Maximum routing attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before re-adding a failed event
}

// Message is a change event read from the stream.
type Message struct {
	ID      string
	Event   model.ChangeEvent
	Attempt int
	Raw     redis.XMessage
}

// MessageProcessor routes a change message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so events written before the group existed are routed too.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "materializer.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" reads events never delivered to this group. Pending events of a
		// crashed consumer are picked up by the stream reclaimer.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse change event",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.SendDLQ(ctx, Message{ID: msg.ID, Raw: msg, Attempt: 1}, parseErr.Error())
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read change events from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Requeue acks msg and appends a copy with the next attempt number.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed event for requeue: %w", err)
	}

	values := messageValues(msg.Event, msg.Attempt+1)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "change event requeued for retry",
		"next_attempt", msg.Attempt+1,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed event for dlq: %w", err)
	}

	values := make(map[string]any, len(msg.Raw.Values)+2)
	for k, v := range msg.Raw.Values {
		values[k] = v
	}
	if msg.Event.Table != "" {
		values = messageValues(msg.Event, msg.Attempt)
	}
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "change event sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func (c *RedisConsumer) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// ParseMessage decodes the stream fields of one change event.
func ParseMessage(msg redis.XMessage) (Message, error) {
	table, err := parseString(msg.Values, "table")
	if err != nil {
		return Message{}, err
	}
	operation, err := parseString(msg.Values, "operation")
	if err != nil {
		return Message{}, err
	}
	rowID, err := parseString(msg.Values, "row_id")
	if err != nil {
		return Message{}, err
	}
	traceID := parseOptionalString(msg.Values, "trace_id")

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	var deleted map[string]any
	if raw := parseOptionalString(msg.Values, "deleted_row"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &deleted); err != nil {
			return Message{}, fmt.Errorf("parsing deleted_row: %w", err)
		}
	}

	event := model.ChangeEvent{
		Table:      table,
		Operation:  model.Operation(strings.ToUpper(operation)),
		RowID:      rowID,
		DeletedRow: deleted,
		TraceID:    traceID,
	}
	if err := event.Validate(); err != nil {
		return Message{}, err
	}

	return Message{
		ID:      msg.ID,
		Event:   event,
		Attempt: attempt,
		Raw:     msg,
	}, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func messageValues(event model.ChangeEvent, attempt int) map[string]any {
	values := map[string]any{
		"table":     event.Table,
		"operation": string(event.Operation),
		"row_id":    event.RowID,
		"attempt":   attempt,
	}
	if len(event.DeletedRow) > 0 {
		if raw, err := json.Marshal(event.DeletedRow); err == nil {
			values["deleted_row"] = string(raw)
		}
	}
	if event.TraceID != "" {
		values["trace_id"] = event.TraceID
	}
	return values
}
