package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/materializer/internal/http/dto"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/service"
	"basegraph.app/materializer/internal/store"
)

type OpsHandler struct {
	service service.OpsService
}

func NewOpsHandler(service service.OpsService) *OpsHandler {
	return &OpsHandler{service: service}
}

func (h *OpsHandler) QueueStats(c *gin.Context) {
	stats, err := h.service.QueueStats(c.Request.Context())
	if err != nil {
		h.internal(c, "failed to read queue stats", err)
		return
	}
	c.JSON(http.StatusOK, dto.QueueStatsResponse{Topics: stats})
}

func (h *OpsHandler) RetryFailed(c *gin.Context) {
	var topic *model.Topic
	if t := c.Query("topic"); t != "" {
		topic = (*model.Topic)(&t)
	}

	n, err := h.service.RetryFailed(c.Request.Context(), topic)
	if err != nil {
		if errors.Is(err, queue.ErrUnknownTopic) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.internal(c, "failed to requeue failed jobs", err)
		return
	}
	c.JSON(http.StatusOK, dto.RetryFailedResponse{Requeued: n})
}

func (h *OpsHandler) Missing(c *gin.Context) {
	counts, err := h.service.CountMissing(c.Request.Context())
	if err != nil {
		h.internal(c, "failed to count missing resources", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewMissingResponse(counts))
}

func (h *OpsHandler) Reconcile(c *gin.Context) {
	counts, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		h.internal(c, "failed to reconcile", err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewMissingResponse(counts))
}

func (h *OpsHandler) Backfill(c *gin.Context) {
	res, err := h.service.Backfill(c.Request.Context(), model.ResourceType(c.Param("type")))
	if err != nil {
		if h.notFound(c, err) {
			return
		}
		h.internal(c, "failed to backfill", err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *OpsHandler) Materialize(c *gin.Context) {
	resourceType := model.ResourceType(c.Param("type"))
	upstreamID := c.Param("id")

	created, err := h.service.Enqueue(c.Request.Context(), resourceType, upstreamID)
	if err != nil {
		if h.notFound(c, err) {
			return
		}
		h.internal(c, "failed to enqueue", err)
		return
	}
	c.JSON(http.StatusAccepted, dto.EnqueueResponse{
		Discriminant: queue.MaterializeDiscriminant(resourceType, upstreamID),
		Created:      created,
	})
}

func (h *OpsHandler) GetResource(c *gin.Context) {
	res, err := h.service.GetResource(c.Request.Context(), model.ResourceType(c.Param("type")), c.Param("id"))
	if err != nil {
		if h.notFound(c, err) {
			return
		}
		h.internal(c, "failed to read resource", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewResourceResponse(res))
}

func (h *OpsHandler) Resolve(c *gin.Context) {
	if err := h.service.Resolve(c.Request.Context()); err != nil {
		h.internal(c, "failed to request resolution", err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *OpsHandler) notFound(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, service.ErrUnknownResourceType):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	default:
		return false
	}
	return true
}

func (h *OpsHandler) internal(c *gin.Context, msg string, err error) {
	slog.ErrorContext(c.Request.Context(), msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
