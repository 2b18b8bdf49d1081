// Package memstore is an in-process store driver. A single mutex guards all
// state, so every operation is atomic with respect to the others.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/compozy/autoflow/engine/store"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/mohae/deepcopy"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu          sync.Mutex
	definitions map[core.ID]*workflow.Definition
	index       map[core.ID]workflow.IndexEntry
	entries     map[core.ID]*queue.Entry
	executions  map[core.ID]*execution.State
	jobs        map[core.ID]*execution.Job
	closed      bool
}

func New() *Store {
	return &Store{
		definitions: make(map[core.ID]*workflow.Definition),
		index:       make(map[core.ID]workflow.IndexEntry),
		entries:     make(map[core.ID]*queue.Entry),
		executions:  make(map[core.ID]*execution.State),
		jobs:        make(map[core.ID]*execution.Job),
	}
}

func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// clone returns a deep copy so callers never alias stored values.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c, ok := deepcopy.Copy(v).(*T)
	if !ok {
		cp := *v
		return &cp
	}
	return c
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func sortByCreated[T any](items []T, created func(T) time.Time, id func(T) core.ID) {
	slices.SortFunc(items, func(a, b T) int {
		if c := created(a).Compare(created(b)); c != 0 {
			return c
		}
		return cmp.Compare(id(a), id(b))
	})
}
