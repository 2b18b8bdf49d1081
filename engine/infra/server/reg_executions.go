package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/infra/server/router"
	"github.com/gin-gonic/gin"
)

const (
	defaultExecutionListLimit = 50
	maxExecutionListLimit     = 500
)

func registerExecutionRoutes(api *gin.RouterGroup) {
	executions := api.Group("/executions")
	executions.GET("", handleListExecutions)
	executions.GET("/:execution_id", handleGetExecution)
}

func handleGetExecution(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	st, err := state.Store.GetExecution(c.Request.Context(), core.ID(c.Param("execution_id")))
	if err != nil {
		router.RespondWithError(c, router.NewRequestError(router.StatusFromError(err), "execution lookup failed", err))
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleListExecutions filters by workflow_id, entry_id and status, oldest first.
func handleListExecutions(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	filter, err := parseExecutionFilter(c)
	if err != nil {
		router.RespondWithError(c, router.NewRequestError(http.StatusBadRequest, "invalid query", err))
		return
	}
	items, err := state.Store.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		router.RespondWithServerError(c, "failed to list executions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": items, "count": len(items)})
}

func parseExecutionFilter(c *gin.Context) (execution.ListFilter, error) {
	filter := execution.ListFilter{
		WorkflowID:   core.ID(c.Query("workflow_id")),
		QueueEntryID: core.ID(c.Query("entry_id")),
		Limit:        defaultExecutionListLimit,
	}
	switch status := execution.Status(c.Query("status")); status {
	case "", execution.StatusRunning, execution.StatusWaiting, execution.StatusCompleted, execution.StatusFailed:
		filter.Status = status
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = min(n, maxExecutionListLimit)
	}
	return filter, nil
}
