package queue

import (
	"time"

	"github.com/compozy/autoflow/engine/core"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one durable unit of work: a workflow to run for a trigger event.
type Entry struct {
	ID          core.ID          `json:"id"`
	WorkflowID  core.ID          `json:"workflow_id"`
	TriggerType core.TriggerType `json:"trigger_type"`
	TriggerData map[string]any   `json:"trigger_data"`
	Status      Status           `json:"status"`
	RetryCount  int              `json:"retry_count"`
	LastError   string           `json:"last_error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ClaimedAt   *time.Time       `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}

// Claimable reports whether a claim may take the entry.
func (e *Entry) Claimable(maxRetries int) bool {
	return e.Status == StatusPending && e.RetryCount < maxRetries
}

// NextFailure computes the state after a failed attempt. Retry count always
// increments; terminal failures and exhausted budgets become failed.
func NextFailure(retryCount, maxRetries int, terminal bool) (int, Status) {
	next := retryCount + 1
	if terminal || next >= maxRetries {
		return next, StatusFailed
	}
	return next, StatusPending
}
