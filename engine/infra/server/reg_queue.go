package server

import (
	"net/http"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/infra/server/middleware/auth"
	"github.com/compozy/autoflow/engine/infra/server/router"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

func registerQueueRoutes(api *gin.RouterGroup, processToken string) {
	queue := api.Group("/queue")
	queue.POST("/process", auth.RequireBearer(processToken), handleProcess)
	queue.GET("/entries/:entry_id", handleGetEntry)
}

// handleProcess runs one processor tick. Repeated calls are safe: each tick
// only claims entries that are pending and below the retry bound.
//
//	@Summary      Run one processor tick
//	@Tags         queue
//	@Produce      json
//	@Security     BearerAuth
//	@Success      200 {object} processor.Summary
//	@Failure      401 {object} map[string]interface{} "Missing or wrong token"
//	@Failure      500 {object} router.Problem
//	@Router       /api/v0/queue/process [post]
func handleProcess(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	summary, err := state.Processor.Tick(c.Request.Context())
	if err != nil {
		router.RespondWithServerError(c, "processor tick failed", err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("Processor tick served",
		"processed", summary.Processed,
		"scheduled_jobs_resumed", summary.ScheduledJobsResumed,
	)
	c.JSON(http.StatusOK, summary)
}

func handleGetEntry(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	entry, err := state.Store.GetEntry(c.Request.Context(), core.ID(c.Param("entry_id")))
	if err != nil {
		router.RespondWithError(c, router.NewRequestError(router.StatusFromError(err), "entry lookup failed", err))
		return
	}
	c.JSON(http.StatusOK, entry)
}
