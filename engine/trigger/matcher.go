package trigger

import (
	"context"
	"fmt"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/workflow"
)

// Matcher resolves a routing key to the active workflows subscribed to it.
type Matcher struct {
	repo workflow.Repository
}

func NewMatcher(repo workflow.Repository) *Matcher {
	return &Matcher{repo: repo}
}

// Match returns every active workflow with a trigger node for key in scope.
// No match yields an empty slice, never core.ErrMatchNotFound.
func (m *Matcher) Match(
	ctx context.Context,
	triggerType core.TriggerType,
	key string,
	ownerID string,
) ([]core.ID, error) {
	if key == "" {
		return []core.ID{}, nil
	}
	ids, err := m.repo.FindByTrigger(ctx, triggerType, key, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to match %s trigger %q: %w", triggerType, key, err)
	}
	if ids == nil {
		ids = []core.ID{}
	}
	return ids, nil
}
