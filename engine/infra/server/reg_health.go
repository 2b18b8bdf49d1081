package server

import (
	"context"
	"net/http"

	"github.com/compozy/autoflow/engine/infra/server/appstate"
	"github.com/compozy/autoflow/engine/schedule"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

type scheduleLister interface {
	Schedules() []schedule.Info
}

// Health endpoint
//
//	@Summary      Get server health
//	@Description  Returns overall service health and store reachability
//	@Tags         health
//	@Produce      json
//	@Success      200 {object} map[string]interface{} "Service is healthy"
//	@Failure      503 {object} map[string]interface{} "Service is not ready"
//	@Router       /healthz [get]
func CreateHealthHandler(server *Server, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		state, err := appstate.GetState(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": statusNotReady, "version": version, "ready": false})
			return
		}
		ready, storeStatus := buildStoreStatus(ctx, state)
		healthStatus := "healthy"
		if !ready {
			healthStatus = statusNotReady
		}
		response := gin.H{
			"status":    healthStatus,
			"version":   version,
			"ready":     ready,
			"store":     storeStatus,
			"schedules": buildScheduleStatus(state),
		}
		if server != nil {
			response["redis"] = buildRedisStatus(ctx, server)
		}
		c.JSON(determineHealthStatusCode(ready), response)
	}
}

func buildStoreStatus(ctx context.Context, state *appstate.State) (bool, gin.H) {
	if err := state.Store.HealthCheck(ctx); err != nil {
		logger.FromContext(ctx).Warn("Readiness probe failed on store", "error", err)
		return false, gin.H{"status": statusNotReady, "error": err.Error()}
	}
	return true, gin.H{"status": statusReady}
}

func buildScheduleStatus(state *appstate.State) gin.H {
	ext, ok := state.Scheduler()
	if !ok {
		return gin.H{"enabled": false}
	}
	lister, ok := ext.(scheduleLister)
	if !ok {
		return gin.H{"enabled": false}
	}
	schedules := lister.Schedules()
	return gin.H{"enabled": true, "count": len(schedules), "entries": schedules}
}

func buildRedisStatus(ctx context.Context, server *Server) gin.H {
	if server.deps.Redis == nil {
		return gin.H{"enabled": false}
	}
	if err := server.deps.Redis.HealthCheck(ctx); err != nil {
		return gin.H{"enabled": true, "status": statusNotReady, "error": err.Error()}
	}
	return gin.H{"enabled": true, "status": statusReady}
}

func determineHealthStatusCode(ready bool) int {
	if !ready {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
