package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/materializer/internal/http/handler"
	"basegraph.app/materializer/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	v1 := router.Group("/api/v1")
	{
		ChangeRouter(v1.Group("/changes"), handler.NewChangeHandler(services.Changes(), cfg.TraceHeaderName))
		TopicRouter(v1.Group("/topics"), handler.NewTopicHandler())

		ops := handler.NewOpsHandler(services.Ops())
		QueueRouter(v1.Group("/queue"), ops)
		ResourceRouter(v1.Group("/resources"), ops)
	}
}
