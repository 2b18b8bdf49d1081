package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/infra/server/router"
	"github.com/compozy/autoflow/engine/trigger"
	"github.com/gin-gonic/gin"
)

type manualTriggerRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
}

func registerWorkflowRoutes(api *gin.RouterGroup) {
	workflows := api.Group("/workflows")
	workflows.POST("/:workflow_id/trigger", handleManualTrigger)
}

// handleManualTrigger enqueues one run of an active workflow.
//
//	@Summary      Trigger a workflow manually
//	@Tags         workflows
//	@Accept       json
//	@Produce      json
//	@Param        workflow_id path string true "Workflow ID"
//	@Success      201 {object} map[string]interface{} "Enqueued"
//	@Failure      400 {object} router.Problem "Invalid body"
//	@Failure      404 {object} router.Problem "Workflow missing or inactive"
//	@Router       /api/v0/workflows/{workflow_id}/trigger [post]
func handleManualTrigger(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	workflowID := core.ID(c.Param("workflow_id"))
	var req manualTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		router.RespondWithError(c, router.NewRequestError(http.StatusBadRequest, "invalid request body", err))
		return
	}
	entryID, err := state.Triggers.Manual(c.Request.Context(), workflowID, req.TriggerData)
	if err != nil {
		status := router.StatusFromError(err)
		if trigger.IsNotFound(err) {
			status = http.StatusNotFound
		}
		router.RespondWithError(c, router.NewRequestError(status, "failed to trigger workflow", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_id": entryID})
}
