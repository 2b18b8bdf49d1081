package execution

import (
	"context"
	"time"

	"github.com/compozy/autoflow/engine/core"
)

// JobFailure describes a failed or abandoned resume attempt.
type JobFailure struct {
	// Message is recorded as last_error while the job stays retryable.
	Message string
	// ExhaustedMessage is recorded instead when the budget runs out. Empty
	// keeps Message.
	ExhaustedMessage string
	MaxRetries       int
	// RetryAt is the next ready_at when the job stays retryable.
	RetryAt time.Time
	// Terminal fails the job regardless of the remaining budget.
	Terminal bool
}

// Exhausted reports whether a job with retryCount prior failures becomes failed.
func (f JobFailure) Exhausted(retryCount int) bool {
	return f.Terminal || retryCount+1 >= f.MaxRetries
}

// Apply counts the attempt on job and moves it to pending at RetryAt, or to
// failed once exhausted. It reports whether the job failed.
func (f JobFailure) Apply(job *Job) bool {
	exhausted := f.Exhausted(job.RetryCount)
	job.RetryCount++
	job.ClaimedAt = nil
	job.LastError = f.Message
	if !exhausted {
		job.Status = JobPending
		job.ReadyAt = f.RetryAt
		return false
	}
	job.Status = JobFailed
	if !f.Terminal && f.ExhaustedMessage != "" {
		job.LastError = f.ExhaustedMessage
	}
	return true
}

// ListFilter narrows ListExecutions. Zero fields match everything.
type ListFilter struct {
	WorkflowID   core.ID
	QueueEntryID core.ID
	Status       Status
	Limit        int
}

type Repository interface {
	CreateExecution(ctx context.Context, state *State) error
	SaveExecution(ctx context.Context, state *State) error
	GetExecution(ctx context.Context, id core.ID) (*State, error)
	// ListExecutions returns matching executions, oldest first.
	ListExecutions(ctx context.Context, filter ListFilter) ([]*State, error)
	// SuspendExecution persists a waiting state and its resume job in one
	// transaction.
	SuspendExecution(ctx context.Context, state *State, job *Job) error

	// ListDueJobs returns pending jobs with ready_at <= now, oldest first.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// ClaimJob moves a due pending job to claimed. It returns
	// core.ErrClaimConflict when the job was already taken or consumed.
	ClaimJob(ctx context.Context, id core.ID, now time.Time) (*Job, error)
	CompleteJob(ctx context.Context, id core.ID, now time.Time) error
	// FailJob reverts the job to pending at RetryAt (and the execution back to
	// waiting), or fails both once the budget is spent.
	FailJob(ctx context.Context, id core.ID, failure JobFailure, now time.Time) (*Job, error)
	// ReleaseStaleJobs applies failure to every job claimed before the cutoff,
	// counting the abandoned attempt exactly like FailJob.
	ReleaseStaleJobs(ctx context.Context, claimedBefore time.Time, failure JobFailure, now time.Time) (int, error)
}
