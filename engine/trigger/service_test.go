package trigger_test

import (
	"testing"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/infra/memstore"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/compozy/autoflow/engine/trigger"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hook(id core.ID, owner, key string, active bool) *workflow.Definition {
	return &workflow.Definition{
		ID:       id,
		OwnerID:  owner,
		IsActive: active,
		Nodes: []workflow.Node{
			{ID: "t", Kind: workflow.NodeTrigger, Data: map[string]any{"type": "webhook", "key": key}},
		},
	}
}

func newService(t *testing.T, defs ...*workflow.Definition) (*trigger.Service, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	for _, d := range defs {
		require.NoError(t, s.SaveDefinition(t.Context(), d))
	}
	return trigger.NewService(trigger.NewMatcher(s), s, queue.NewService(s, nil)), s
}

func TestService_Dispatch(t *testing.T) {
	t.Run("Should enqueue one entry per matching workflow", func(t *testing.T) {
		svc, s := newService(t,
			hook("wf-1", "o", "signup", true),
			hook("wf-2", "o", "signup", true),
			hook("wf-3", "o", "signup", false),
		)
		payload := map[string]any{"email": "a@b.c"}
		res, err := svc.Dispatch(t.Context(), core.TriggerWebhook, "signup", "", payload)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Triggered)
		require.Len(t, res.EntryIDs, 2)
		for _, id := range res.EntryIDs {
			e, err := s.GetEntry(t.Context(), id)
			require.NoError(t, err)
			assert.Equal(t, queue.StatusPending, e.Status)
			assert.Equal(t, payload, e.TriggerData)
			assert.Zero(t, e.RetryCount)
		}
	})

	t.Run("Should return zero without error when nothing matches", func(t *testing.T) {
		svc, _ := newService(t, hook("wf-1", "o", "signup", true))
		res, err := svc.Dispatch(t.Context(), core.TriggerWebhook, "unknown", "", nil)
		require.NoError(t, err)
		assert.Zero(t, res.Triggered)
		assert.Empty(t, res.EntryIDs)
	})

	t.Run("Should report active subscriptions", func(t *testing.T) {
		svc, _ := newService(t, hook("wf-1", "o", "signup", true), hook("wf-2", "p", "signup", true))
		n, err := svc.Active(t.Context(), "signup", "p")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = svc.Active(t.Context(), "nothing", "")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestService_Manual(t *testing.T) {
	t.Run("Should enqueue a manual entry for an active workflow", func(t *testing.T) {
		svc, s := newService(t, hook("wf-1", "o", "k", true))
		id, err := svc.Manual(t.Context(), "wf-1", map[string]any{"x": 1})
		require.NoError(t, err)
		e, err := s.GetEntry(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, core.TriggerManual, e.TriggerType)
	})

	t.Run("Should reject missing and inactive workflows", func(t *testing.T) {
		svc, _ := newService(t, hook("off", "o", "k", false))
		_, err := svc.Manual(t.Context(), "off", nil)
		assert.True(t, trigger.IsNotFound(err))
		_, err = svc.Manual(t.Context(), "missing", nil)
		assert.True(t, trigger.IsNotFound(err))
	})
}
