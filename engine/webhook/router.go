package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Processor defines the minimal interface required by the HTTP router.
// It is implemented by Orchestrator.
type Processor interface {
	Process(ctx context.Context, key string, ownerID string, r *http.Request) (Result, error)
	Diagnostics(ctx context.Context, key string, ownerID string) (map[string]any, error)
}

// RegisterPublic registers public webhook endpoints under the provided router group.
// Paths: POST /:key and GET /:key
//
// @Summary Trigger webhook
// @Description Accepts webhook payloads and enqueues one run per matching workflow.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param key path string true "Routing key"
// @Param owner query string false "Owner scope"
// @Success 202 {object} map[string]any "Accepted and enqueued"
// @Success 200 {object} map[string]any "Processed with no matching workflow"
// @Failure 400 {object} map[string]any "Invalid or oversized payload"
// @Failure 401 {object} map[string]any "Signature verification failed"
// @Failure 409 {object} map[string]any "Duplicate idempotency key"
// @Failure 429 {object} map[string]any "Rate limit exceeded"
// @Failure 500 {object} map[string]any "Internal server error"
// @Router /hooks/{key} [post]
func RegisterPublic(r *gin.RouterGroup, p Processor) {
	r.POST("/:key", func(c *gin.Context) {
		key := c.Param("key")
		res, err := p.Process(c.Request.Context(), key, c.Query("owner"), c.Request)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnauthorized):
				c.JSON(res.Status, gin.H{"error": "unauthorized"})
			case errors.Is(err, ErrDuplicate):
				c.JSON(res.Status, gin.H{"error": "duplicate"})
			case errors.Is(err, ErrBadRequest):
				c.JSON(res.Status, gin.H{"error": "bad_request", "details": err.Error()})
			default:
				logger.FromContext(c.Request.Context()).Error("webhook processing failed", "error", err, "key", key)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			}
			return
		}
		c.JSON(res.Status, res.Payload)
	})
	r.GET("/:key", func(c *gin.Context) {
		key := c.Param("key")
		out, err := p.Diagnostics(c.Request.Context(), key, c.Query("owner"))
		if err != nil {
			logger.FromContext(c.Request.Context()).Error("webhook diagnostics failed", "error", err, "key", key)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
