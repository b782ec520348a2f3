package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/materializer/common/logger"
)

// Logger tags the request context with the pipeline entities named in the
// route, so handler and service logs carry them, and writes one access line
// per API call. Probes and scrapes are not logged.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithLogFields(c.Request.Context(), requestFields(c))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "/health" || route == "/metrics" {
			return
		}

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "api call failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "api call rejected", attrs...)
		default:
			slog.InfoContext(ctx, "api call served", attrs...)
		}
	}
}
