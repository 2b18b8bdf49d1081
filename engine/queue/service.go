package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/pkg/logger"
)

// errProcessingTimeout is recorded on entries reclaimed after a worker vanished.
var errProcessingTimeout = errors.New("processing timeout exceeded")

// Service is the trigger queue: enqueue, claim, and resolve entries.
type Service struct {
	repo  Repository
	clock core.Clock
}

func NewService(repo Repository, clock core.Clock) *Service {
	return &Service{repo: repo, clock: core.ClockOrDefault(clock)}
}

// Enqueue durably records a pending entry and returns its id.
func (s *Service) Enqueue(
	ctx context.Context,
	workflowID core.ID,
	triggerType core.TriggerType,
	payload map[string]any,
) (core.ID, error) {
	if workflowID.IsZero() {
		return "", fmt.Errorf("workflow id is required")
	}
	if !triggerType.IsValid() {
		return "", fmt.Errorf("invalid trigger type %q", triggerType)
	}
	id, err := core.NewID()
	if err != nil {
		return "", err
	}
	entry := &Entry{
		ID:          id,
		WorkflowID:  workflowID,
		TriggerType: triggerType,
		TriggerData: core.CloneMap(payload),
		Status:      StatusPending,
		CreatedAt:   s.clock(),
	}
	if err := s.repo.EnqueueEntry(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to enqueue entry for workflow %s: %w", workflowID, err)
	}
	logger.FromContext(ctx).Debug("Entry enqueued", "entry_id", id, "workflow_id", workflowID, "trigger_type", triggerType)
	return id, nil
}

// ClaimBatch claims up to limit pending entries whose retry count is below maxRetries.
func (s *Service) ClaimBatch(ctx context.Context, limit int, maxRetries int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := s.repo.ClaimEntries(ctx, limit, maxRetries, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to claim entries: %w", err)
	}
	return entries, nil
}

func (s *Service) Complete(ctx context.Context, id core.ID) error {
	if err := s.repo.CompleteEntry(ctx, id, s.clock()); err != nil {
		return fmt.Errorf("failed to complete entry %s: %w", id, err)
	}
	return nil
}

// Fail records cause and either returns the entry to pending or fails it.
// Permanent causes fail the entry immediately.
func (s *Service) Fail(ctx context.Context, id core.ID, cause error, maxRetries int) (*Entry, error) {
	failure := failureFor(cause, maxRetries)
	entry, err := s.repo.FailEntry(ctx, id, failure, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to record failure for entry %s: %w", id, err)
	}
	log := logger.FromContext(ctx)
	if entry.Status == StatusFailed {
		log.Warn("Entry failed permanently", "entry_id", id, "retry_count", entry.RetryCount, "error", entry.LastError)
	} else {
		log.Info("Entry returned to queue", "entry_id", id, "retry_count", entry.RetryCount, "error", cause)
	}
	return entry, nil
}

// Reclaim returns processing entries claimed more than olderThan ago to the
// queue, counting the abandoned attempt.
func (s *Service) Reclaim(ctx context.Context, olderThan time.Duration, maxRetries int) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	now := s.clock()
	n, err := s.repo.ReclaimEntries(ctx, now.Add(-olderThan), failureFor(errProcessingTimeout, maxRetries), now)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale entries: %w", err)
	}
	if n > 0 {
		logger.FromContext(ctx).Warn("Reclaimed stale entries", "count", n, "older_than", olderThan)
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id core.ID) (*Entry, error) {
	return s.repo.GetEntry(ctx, id)
}

func failureFor(cause error, maxRetries int) Failure {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return Failure{
		Message:          msg,
		ExhaustedMessage: fmt.Sprintf("%s: %s", core.ErrMaxRetriesExceeded, msg),
		MaxRetries:       maxRetries,
		Terminal:         core.IsPermanent(cause),
	}
}
