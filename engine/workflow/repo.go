package workflow

import (
	"context"

	"github.com/compozy/autoflow/engine/core"
)

// Repository persists definitions together with their trigger index.
type Repository interface {
	// SaveDefinition upserts d and rebuilds its trigger index entry atomically.
	SaveDefinition(ctx context.Context, d *Definition) error
	GetDefinition(ctx context.Context, id core.ID) (*Definition, error)
	ListActiveDefinitions(ctx context.Context) ([]*Definition, error)
	// FindByTrigger returns IDs of active definitions subscribed to the routing
	// key. An empty ownerID matches every owner.
	FindByTrigger(ctx context.Context, triggerType core.TriggerType, key string, ownerID string) ([]core.ID, error)
}

// IndexEntry is one row of the trigger index derived from a definition.
type IndexEntry struct {
	WorkflowID  core.ID
	TriggerType core.TriggerType
	RoutingKey  string
	OwnerID     string
}

// IndexEntry derives the lookup key for d. Triggers without an explicit key
// are routed by workflow id.
func (d *Definition) IndexEntry() (IndexEntry, error) {
	spec, err := d.Trigger()
	if err != nil {
		return IndexEntry{}, err
	}
	key := spec.Key
	if key == "" {
		key = d.ID.String()
	}
	return IndexEntry{
		WorkflowID:  d.ID,
		TriggerType: spec.Type,
		RoutingKey:  key,
		OwnerID:     d.OwnerID,
	}, nil
}
