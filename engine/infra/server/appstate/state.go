package appstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/compozy/autoflow/engine/processor"
	"github.com/compozy/autoflow/engine/store"
	"github.com/compozy/autoflow/engine/trigger"
	"github.com/compozy/autoflow/engine/webhook"
	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	stateKey contextKey = "app_state"
)

// ExtensionKey is a distinct type for keys stored in State.Extensions to avoid
// accidental collisions and stringly-typed access across the codebase.
type ExtensionKey string

const (
	extensionSchedulerKey ExtensionKey = "scheduler"
)

// Ticker runs one processor tick. *processor.Processor satisfies it.
type Ticker interface {
	Tick(ctx context.Context) (processor.Summary, error)
}

type BaseDeps struct {
	Store     store.Store
	Triggers  *trigger.Service
	Processor Ticker
	Webhooks  webhook.Processor
}

func NewBaseDeps(st store.Store, triggers *trigger.Service, proc Ticker, hooks webhook.Processor) BaseDeps {
	return BaseDeps{
		Store:     st,
		Triggers:  triggers,
		Processor: proc,
		Webhooks:  hooks,
	}
}

type State struct {
	BaseDeps
	mu         sync.RWMutex
	Extensions map[ExtensionKey]any
}

func NewState(deps BaseDeps) (*State, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Triggers == nil:
		return nil, fmt.Errorf("trigger service is required")
	case deps.Processor == nil:
		return nil, fmt.Errorf("processor is required")
	case deps.Webhooks == nil:
		return nil, fmt.Errorf("webhook processor is required")
	}
	return &State{
		BaseDeps:   deps,
		Extensions: make(map[ExtensionKey]any),
	}, nil
}

func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

func GetState(ctx context.Context) (*State, error) {
	state, ok := ctx.Value(stateKey).(*State)
	if !ok {
		return nil, fmt.Errorf("app state not found in context")
	}
	return state, nil
}

// SetScheduler stores the cron scheduler in extensions with type safety
func (s *State) SetScheduler(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Extensions == nil {
		s.Extensions = make(map[ExtensionKey]any)
	}
	s.Extensions[extensionSchedulerKey] = v
}

// Scheduler retrieves the cron scheduler from extensions with type safety
func (s *State) Scheduler() (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Extensions[extensionSchedulerKey]
	return v, ok
}

func StateMiddleware(state *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithState(c.Request.Context(), state)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
