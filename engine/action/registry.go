package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/compozy/autoflow/engine/core"
)

// Action is an external capability invoked by action nodes. params are the
// node's rendered parameters; execCtx is a read-only view of the execution
// context. The returned map is merged into the context.
type Action interface {
	Execute(ctx context.Context, params map[string]any, execCtx map[string]any) (map[string]any, error)
}

// Func adapts a plain function to Action.
type Func func(ctx context.Context, params map[string]any, execCtx map[string]any) (map[string]any, error)

func (f Func) Execute(ctx context.Context, params map[string]any, execCtx map[string]any) (map[string]any, error) {
	return f(ctx, params, execCtx)
}

var ErrDuplicateAction = errors.New("duplicate action type")

type Registry struct {
	mu     sync.RWMutex
	byType map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{byType: map[string]Action{}}
}

// Lookup is the read side of the registry used by the executor.
type Lookup interface {
	Get(actionType string) (Action, error)
}

func normalizeType(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (r *Registry) Register(actionType string, a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeType(actionType)
	if key == "" {
		return fmt.Errorf("action type must not be empty")
	}
	if a == nil {
		return fmt.Errorf("action %s must not be nil", key)
	}
	if _, ok := r.byType[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, key)
	}
	r.byType[key] = a
	return nil
}

func (r *Registry) MustRegister(actionType string, a Action) {
	if err := r.Register(actionType, a); err != nil {
		panic(err)
	}
}

// Get returns core.ErrUnknownAction for unregistered types.
func (r *Registry) Get(actionType string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byType[normalizeType(actionType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownAction, actionType)
	}
	return a, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
