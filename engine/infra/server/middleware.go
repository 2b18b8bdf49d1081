package server

import (
	"context"
	"time"

	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

// LoggerMiddleware attaches the server logger to each request context and
// logs request details on completion.
func LoggerMiddleware(ctx context.Context) gin.HandlerFunc {
	base := logger.FromContext(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), base))
		c.Next()
		if raw != "" {
			path = path + "?" + raw
		}
		status := c.Writer.Status()
		args := []any{
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"status_code", status,
			"body_size", c.Writer.Size(),
			"path", path,
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			args = append(args, "error", msg)
		}
		if status >= 500 {
			base.Warn("Request completed", args...)
			return
		}
		base.Debug("Request completed", args...)
	}
}
