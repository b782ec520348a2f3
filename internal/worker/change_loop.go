package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/internal/queue"
)

type ChangeLoopConfig struct {
	MaxAttempts int
}

// ChangeLoop reads upstream change events from the stream and routes them
// into the job queue. An event is acked only after its jobs are enqueued.
type ChangeLoop struct {
	consumer Consumer
	router   ChangeRouter
	cfg      ChangeLoopConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewChangeLoop(consumer Consumer, router ChangeRouter, cfg ChangeLoopConfig) *ChangeLoop {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &ChangeLoop{
		consumer:  consumer,
		router:    router,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (l *ChangeLoop) Run(ctx context.Context) error {
	defer close(l.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "materializer.worker.changes"})
	slog.InfoContext(ctx, "change loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			slog.InfoContext(ctx, "change loop stopping")
			return nil
		default:
			if err := l.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "change batch error", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (l *ChangeLoop) Stop() {
	close(l.stopCh)
	<-l.stoppedCh
}

func (l *ChangeLoop) processOneBatch(ctx context.Context) error {
	messages, err := l.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading change stream: %w", err)
	}
	for _, msg := range messages {
		_ = l.HandleMessage(ctx, msg)
	}
	return nil
}

// HandleMessage routes msg and, on failure, requeues it or moves it to the
// DLQ once its attempts are used up. The stream reclaimer uses it as well.
func (l *ChangeLoop) HandleMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:   &msg.ID,
		ChangeTable: &msg.Event.Table,
	})

	err := l.processMessageSafe(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "change routing failed",
			"error", err,
			"attempt", msg.Attempt)
		l.handleFailedMessage(ctx, msg, err)
	}
	return err
}

func (l *ChangeLoop) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in change routing", "panic", r)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return l.processMessage(ctx, msg)
}

func (l *ChangeLoop) processMessage(ctx context.Context, msg queue.Message) error {
	span := logger.StartSpanFromTraceID(ctx, msg.Event.TraceID, "worker.route_change")
	defer span.End()
	ctx = span.Context()
	span.SetAttributes(
		"change.table", msg.Event.Table,
		"change.operation", string(msg.Event.Operation),
		"change.row_id", msg.Event.RowID,
	)

	res, err := l.router.Route(ctx, msg.Event)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := l.consumer.Ack(ctx, msg); err != nil {
		// The event will be redelivered; routing it twice is harmless.
		slog.WarnContext(ctx, "failed to ack change event", "error", err)
	}

	if res.Enqueued > 0 {
		slog.InfoContext(ctx, "change routed",
			"operation", msg.Event.Operation,
			"roots", res.Roots,
			"enqueued", res.Enqueued)
	}
	return nil
}

func (l *ChangeLoop) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= l.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending change to DLQ", "attempts", msg.Attempt)
		if dlqErr := l.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send change to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing change event", "attempt", msg.Attempt)
	if requeueErr := l.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue change event", "error", requeueErr)
	}
}
