package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
)

var ErrInvalidChange = errors.New("invalid change event")

// ChangeIngestService accepts change notifications from the upstream system
// and puts them on the change stream. Routing happens asynchronously in the
// worker.
type ChangeIngestService interface {
	Ingest(ctx context.Context, event model.ChangeEvent) error
	IngestBatch(ctx context.Context, events []model.ChangeEvent) (int, error)
}

type changeIngestService struct {
	producer queue.ChangeProducer
	logger   *slog.Logger
}

func NewChangeIngestService(producer queue.ChangeProducer, logger *slog.Logger) ChangeIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &changeIngestService{
		producer: producer,
		logger:   logger,
	}
}

func (s *changeIngestService) Ingest(ctx context.Context, event model.ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	if event.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			event.TraceID = sc.TraceID().String()
		}
	}

	if err := s.producer.Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing change: %w", err)
	}
	return nil
}

// IngestBatch validates every event before publishing any of them. It
// returns the number published before the first publish failure.
func (s *changeIngestService) IngestBatch(ctx context.Context, events []model.ChangeEvent) (int, error) {
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return 0, fmt.Errorf("%w: event %d: %v", ErrInvalidChange, i, err)
		}
	}
	for i, ev := range events {
		if err := s.Ingest(ctx, ev); err != nil {
			s.logger.ErrorContext(ctx, "change batch partially published",
				"published", i,
				"total", len(events),
				"error", err)
			return i, err
		}
	}
	return len(events), nil
}
