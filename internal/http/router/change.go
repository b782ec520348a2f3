package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/materializer/internal/http/handler"
)

func ChangeRouter(router *gin.RouterGroup, handler *handler.ChangeHandler) {
	router.POST("", handler.Ingest)
	router.POST("/batch", handler.IngestBatch)
}

func TopicRouter(router *gin.RouterGroup, handler *handler.TopicHandler) {
	router.GET("", handler.List)
	router.GET("/:topic/schema", handler.Schema)
}
