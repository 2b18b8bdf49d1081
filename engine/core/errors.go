package core

import (
	"errors"
	"fmt"
)

var (
	// ErrMatchNotFound reports that no active workflow subscribes to a routing key.
	// Matching never surfaces it; callers get an empty result instead.
	ErrMatchNotFound = errors.New("no matching workflow")
	// ErrClaimConflict reports that an entry or job was claimed (or resolved) by someone else.
	ErrClaimConflict = errors.New("claim conflict")
	// ErrMaxRetriesExceeded is recorded when an entry or job reaches its terminal failed state.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrMalformedGraph reports a workflow graph that cannot be interpreted.
	ErrMalformedGraph = errors.New("malformed workflow graph")

	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrWorkflowInactive  = errors.New("workflow is not active")
	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrJobNotFound       = errors.New("scheduled job not found")
	ErrUnknownAction     = errors.New("unknown action type")
	ErrDuplicate         = errors.New("duplicate request")
)

// ActionError wraps the failure of an external action capability.
// Action errors are retryable up to the queue's retry bound.
type ActionError struct {
	NodeID     string
	ActionType string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q at node %q failed: %v", e.ActionType, e.NodeID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should bypass the retry budget.
// Malformed graphs, unknown actions and missing workflows are permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrMalformedGraph) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrWorkflowNotFound)
}
