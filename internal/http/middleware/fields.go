package middleware

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/materializer/common/logger"
)

const component = "materializer.api"

// requestFields lifts the route parameters that name pipeline entities into
// log fields: a topic on /topics/:topic, a resource on /resources/:type/:id.
func requestFields(c *gin.Context) logger.LogFields {
	fields := logger.LogFields{Component: component}
	if topic := c.Param("topic"); topic != "" {
		fields.Topic = &topic
	}
	if resourceType := c.Param("type"); resourceType != "" {
		fields.ResourceType = &resourceType
	}
	if upstreamID := c.Param("id"); upstreamID != "" {
		fields.UpstreamID = &upstreamID
	}
	return fields
}
