package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/materializer/internal/http/dto"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
)

// TopicHandler describes the job topics and the payload each one carries.
type TopicHandler struct{}

func NewTopicHandler() *TopicHandler {
	return &TopicHandler{}
}

func (h *TopicHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, dto.TopicsResponse{Topics: model.Topics()})
}

func (h *TopicHandler) Schema(c *gin.Context) {
	schema, err := queue.Schema(model.Topic(c.Param("topic")))
	if err != nil {
		if errors.Is(err, queue.ErrUnknownTopic) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build schema"})
		return
	}
	c.JSON(http.StatusOK, schema)
}
