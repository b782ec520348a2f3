package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/materializer/internal/http/handler"
)

func QueueRouter(router *gin.RouterGroup, handler *handler.OpsHandler) {
	router.GET("/stats", handler.QueueStats)
	router.POST("/retry-failed", handler.RetryFailed)
	router.POST("/resolve", handler.Resolve)
}

func ResourceRouter(router *gin.RouterGroup, handler *handler.OpsHandler) {
	router.GET("/missing", handler.Missing)
	router.POST("/reconcile", handler.Reconcile)
	router.POST("/:type/backfill", handler.Backfill)
	router.GET("/:type/:id", handler.GetResource)
	router.POST("/:type/:id/materialize", handler.Materialize)
}
