package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/compozy/autoflow/pkg/logger"
)

// Enqueuer is the queue side of ingestion.
type Enqueuer interface {
	Enqueue(ctx context.Context, workflowID core.ID, triggerType core.TriggerType, payload map[string]any) (core.ID, error)
}

// Dispatch is the outcome of one ingested event.
type Dispatch struct {
	Triggered int       `json:"triggered"`
	EntryIDs  []core.ID `json:"entry_ids"`
}

// Service turns external events into queue entries. It never executes
// workflows itself.
type Service struct {
	matcher   *Matcher
	workflows workflow.Repository
	queue     Enqueuer
}

func NewService(matcher *Matcher, workflows workflow.Repository, queue Enqueuer) *Service {
	return &Service{matcher: matcher, workflows: workflows, queue: queue}
}

// Dispatch enqueues one entry per matching workflow. Zero matches is a
// successful no-op.
func (s *Service) Dispatch(
	ctx context.Context,
	triggerType core.TriggerType,
	key string,
	ownerID string,
	payload map[string]any,
) (*Dispatch, error) {
	log := logger.FromContext(ctx).With("trigger_type", triggerType, "key", key)
	ids, err := s.matcher.Match(ctx, triggerType, key, ownerID)
	if err != nil {
		return nil, err
	}
	out := &Dispatch{EntryIDs: make([]core.ID, 0, len(ids))}
	if len(ids) == 0 {
		log.Debug("No workflow matched trigger", "reason", core.ErrMatchNotFound)
		return out, nil
	}
	for _, wfID := range ids {
		entryID, err := s.queue.Enqueue(ctx, wfID, triggerType, payload)
		if err != nil {
			return out, fmt.Errorf("failed to enqueue workflow %s: %w", wfID, err)
		}
		out.EntryIDs = append(out.EntryIDs, entryID)
		out.Triggered++
	}
	log.Info("Trigger dispatched", "triggered", out.Triggered)
	return out, nil
}

// Manual enqueues a single run of an active workflow by id.
func (s *Service) Manual(ctx context.Context, workflowID core.ID, payload map[string]any) (core.ID, error) {
	def, err := s.workflows.GetDefinition(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if !def.IsActive {
		return "", fmt.Errorf("workflow %s: %w", workflowID, core.ErrWorkflowInactive)
	}
	return s.queue.Enqueue(ctx, workflowID, core.TriggerManual, payload)
}

// Active reports how many active workflows subscribe to a webhook key.
func (s *Service) Active(ctx context.Context, key string, ownerID string) (int, error) {
	ids, err := s.matcher.Match(ctx, core.TriggerWebhook, key, ownerID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// IsNotFound reports whether err means the target workflow is unavailable.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrWorkflowNotFound) || errors.Is(err, core.ErrWorkflowInactive)
}
