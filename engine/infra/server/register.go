package server

import (
	"context"

	"github.com/compozy/autoflow/engine/infra/server/appstate"
	"github.com/compozy/autoflow/engine/infra/server/routes"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/compozy/autoflow/pkg/version"
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(ctx context.Context, router *gin.Engine, state *appstate.State, server *Server) error {
	router.GET(routes.Health(), CreateHealthHandler(server, version.Version))
	apiBase := router.Group(routes.Base())
	registerPublicWebhookRoutes(ctx, router, state, server)
	registerWorkflowRoutes(apiBase)
	registerExecutionRoutes(apiBase)
	registerQueueRoutes(apiBase, server.cfg.Server.Auth.ProcessToken.Value())
	logger.FromContext(ctx).Info("Completed route registration", "base", routes.Base())
	return nil
}
