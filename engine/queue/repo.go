package queue

import (
	"context"
	"time"

	"github.com/compozy/autoflow/engine/core"
)

// Failure describes a failed processing attempt.
type Failure struct {
	// Message is recorded as last_error while the entry stays retryable.
	Message string
	// ExhaustedMessage is recorded instead when the entry becomes failed.
	ExhaustedMessage string
	MaxRetries       int
	// Terminal fails the entry regardless of the remaining budget.
	Terminal bool
}

// Apply returns the retry count, status, and last error that follow a failed
// attempt on an entry with the given retry count.
func (f Failure) Apply(retryCount int) (int, Status, string) {
	next, status := NextFailure(retryCount, f.MaxRetries, f.Terminal)
	if status == StatusFailed && !f.Terminal {
		return next, status, f.ExhaustedMessage
	}
	return next, status, f.Message
}

type Repository interface {
	EnqueueEntry(ctx context.Context, entry *Entry) error
	// ClaimEntries atomically moves up to limit claimable entries to processing,
	// oldest first. Two concurrent claims never return the same entry.
	ClaimEntries(ctx context.Context, limit int, maxRetries int, now time.Time) ([]*Entry, error)
	// CompleteEntry returns core.ErrClaimConflict when the entry is not processing.
	CompleteEntry(ctx context.Context, id core.ID, now time.Time) error
	// FailEntry returns core.ErrClaimConflict when the entry is not processing.
	FailEntry(ctx context.Context, id core.ID, failure Failure, now time.Time) (*Entry, error)
	// ReclaimEntries fails over processing entries claimed before the cutoff,
	// counting the abandoned attempt.
	ReclaimEntries(ctx context.Context, claimedBefore time.Time, failure Failure, now time.Time) (int, error)
	GetEntry(ctx context.Context, id core.ID) (*Entry, error)
}
