package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/workflow"
)

var errClosed = errors.New("memstore: store closed")

func (s *Store) SaveDefinition(_ context.Context, d *workflow.Definition) error {
	entry, err := d.IndexEntry()
	if err != nil {
		return fmt.Errorf("memstore: index workflow %s: %w", d.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.definitions[d.ID]; ok && d.CreatedAt.IsZero() {
		d.CreatedAt = prev.CreatedAt
	}
	s.definitions[d.ID] = clone(d)
	s.index[d.ID] = entry
	return nil
}

func (s *Store) GetDefinition(_ context.Context, id core.ID) (*workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	if !ok {
		return nil, core.ErrWorkflowNotFound
	}
	return clone(d), nil
}

func (s *Store) ListActiveDefinitions(_ context.Context) ([]*workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*workflow.Definition
	for _, d := range s.definitions {
		if d.IsActive {
			out = append(out, clone(d))
		}
	}
	sortByCreated(out,
		func(d *workflow.Definition) time.Time { return d.CreatedAt },
		func(d *workflow.Definition) core.ID { return d.ID },
	)
	return out, nil
}

func (s *Store) FindByTrigger(
	_ context.Context,
	triggerType core.TriggerType,
	key string,
	ownerID string,
) ([]core.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []core.ID
	for id, entry := range s.index {
		if entry.TriggerType != triggerType || entry.RoutingKey != key {
			continue
		}
		if ownerID != "" && entry.OwnerID != ownerID {
			continue
		}
		if d := s.definitions[id]; d == nil || !d.IsActive {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
