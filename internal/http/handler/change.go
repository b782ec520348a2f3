package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/materializer/internal/http/dto"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/service"
)

type ChangeHandler struct {
	service     service.ChangeIngestService
	traceHeader string
}

func NewChangeHandler(service service.ChangeIngestService, traceHeader string) *ChangeHandler {
	return &ChangeHandler{
		service:     service,
		traceHeader: traceHeader,
	}
}

func (h *ChangeHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid change request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.Ingest(ctx, req.Event(h.traceID(c))); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ChangeResponse{Accepted: 1})
}

func (h *ChangeHandler) IngestBatch(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ChangeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid change batch", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	traceID := h.traceID(c)
	events := make([]model.ChangeEvent, 0, len(req.Events))
	for _, r := range req.Events {
		events = append(events, r.Event(traceID))
	}

	n, err := h.service.IngestBatch(ctx, events)
	if err != nil {
		if n > 0 {
			slog.ErrorContext(ctx, "change batch partially accepted", "accepted", n, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to publish every change", "accepted": n})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ChangeResponse{Accepted: n})
}

func (h *ChangeHandler) traceID(c *gin.Context) string {
	if id := c.GetHeader(h.traceHeader); id != "" {
		return id
	}
	if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

func (h *ChangeHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidChange) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slog.ErrorContext(c.Request.Context(), "failed to ingest change", "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "failed to publish change"})
}
