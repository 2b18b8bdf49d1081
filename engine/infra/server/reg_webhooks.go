package server

import (
	"context"

	"github.com/compozy/autoflow/engine/infra/server/appstate"
	sizemw "github.com/compozy/autoflow/engine/infra/server/middleware/size"
	"github.com/compozy/autoflow/engine/infra/server/routes"
	"github.com/compozy/autoflow/engine/webhook"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerPublicWebhookRoutes mounts the hook endpoints with their body cap
// and the per-client rate limit.
func registerPublicWebhookRoutes(
	ctx context.Context,
	router *gin.Engine,
	state *appstate.State,
	server *Server,
) {
	hooks := router.Group(routes.Hooks())
	hooks.Use(sizemw.BodySizeLimiter(server.cfg.Server.MaxBodyBytes))
	if limiter := server.buildRateLimiter(); limiter != nil {
		hooks.Use(limiter)
	}
	webhook.RegisterPublic(hooks, state.Webhooks)
	logger.FromContext(ctx).Info("Public webhook routes registered", "path", routes.Hooks())
}
