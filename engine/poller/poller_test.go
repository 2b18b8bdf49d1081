package poller_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compozy/autoflow/engine/action"
	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/executor"
	"github.com/compozy/autoflow/engine/infra/memstore"
	"github.com/compozy/autoflow/engine/poller"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store  *memstore.Store
	exec   *executor.Executor
	poller *poller.Poller
	now    time.Time
	calls  int
	fail   bool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: memstore.New(), now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }
	reg := action.NewRegistry()
	reg.MustRegister("notify", action.Func(func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
		if e.fail {
			return nil, errors.New("provider down")
		}
		e.calls++
		return nil, nil
	}))
	cel, err := executor.NewCELEvaluator()
	require.NoError(t, err)
	e.exec = executor.New(e.store, e.store, reg, cel, clock, executor.Options{})
	e.poller = poller.New(e.store, e.exec, clock, poller.Options{MaxRetries: 2, RetryBackoff: time.Minute})
	require.NoError(t, e.store.SaveDefinition(t.Context(), &workflow.Definition{
		ID:       "wf",
		IsActive: true,
		Nodes: []workflow.Node{
			{ID: "t", Kind: workflow.NodeTrigger, Data: map[string]any{"type": "manual"}},
			{ID: "w", Kind: workflow.NodeWait, Data: map[string]any{"delay": "2h"}},
			{ID: "n", Kind: workflow.NodeAction, Data: map[string]any{"action_type": "notify"}},
		},
		Edges: []workflow.Edge{{From: "t", To: "w"}, {From: "w", To: "n"}},
	}))
	return e
}

func (e *env) start(t *testing.T) *executor.Result {
	res, err := e.exec.Execute(t.Context(), executor.Request{WorkflowID: "wf"})
	require.NoError(t, err)
	require.Equal(t, execution.StatusWaiting, res.Status)
	return res
}

func TestPoller_Poll(t *testing.T) {
	t.Run("Should not resume before ready_at and resume exactly once after", func(t *testing.T) {
		e := newEnv(t)
		res := e.start(t)
		e.now = e.now.Add(2*time.Hour - time.Second)
		out, err := e.poller.Poll(t.Context())
		require.NoError(t, err)
		assert.Zero(t, out.Resumed)
		assert.Zero(t, e.calls)

		e.now = e.now.Add(time.Second)
		out, err = e.poller.Poll(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, out.Resumed)
		assert.Equal(t, 1, e.calls)
		st, err := e.store.GetExecution(t.Context(), res.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusCompleted, st.Status)

		out, err = e.poller.Poll(t.Context())
		require.NoError(t, err)
		assert.Zero(t, out.Resumed)
		assert.Equal(t, 1, e.calls)
	})

	t.Run("Should treat a second resume of the same job as a no-op", func(t *testing.T) {
		e := newEnv(t)
		e.start(t)
		e.now = e.now.Add(3 * time.Hour)
		jobs, err := e.store.ListDueJobs(t.Context(), e.now, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		ok, err := e.poller.Resume(t.Context(), jobs[0].ID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = e.poller.Resume(t.Context(), jobs[0].ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, e.calls)
	})

	t.Run("Should reschedule failed resumes then fail the execution", func(t *testing.T) {
		e := newEnv(t)
		res := e.start(t)
		e.fail = true
		e.now = e.now.Add(2 * time.Hour)
		out, err := e.poller.Poll(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, out.Retried)
		st, err := e.store.GetExecution(t.Context(), res.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusWaiting, st.Status)
		assert.Equal(t, e.now.Add(time.Minute), *st.ResumeAt)

		out, err = e.poller.Poll(t.Context())
		require.NoError(t, err)
		assert.Zero(t, out.Retried+out.Failed, "retry must wait for the backoff")

		e.now = e.now.Add(time.Minute)
		out, err = e.poller.Poll(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, out.Failed)
		st, err = e.store.GetExecution(t.Context(), res.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusFailed, st.Status)
		assert.Contains(t, st.Error, core.ErrMaxRetriesExceeded.Error())
	})
}

// cancelAwareStore rejects job writes on a done context like a real driver would.
type cancelAwareStore struct {
	*memstore.Store
}

func (s cancelAwareStore) FailJob(
	ctx context.Context,
	id core.ID,
	failure execution.JobFailure,
	now time.Time,
) (*execution.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.FailJob(ctx, id, failure, now)
}

func (s cancelAwareStore) CompleteJob(ctx context.Context, id core.ID, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CompleteJob(ctx, id, now)
}

func TestPoller_StaleClaims(t *testing.T) {
	t.Run("Should count abandoned claims and fail the execution at the retry bound", func(t *testing.T) {
		e := newEnv(t)
		res := e.start(t)
		p := poller.New(e.store, e.exec, func() time.Time { return e.now }, poller.Options{
			MaxRetries:   2,
			RetryBackoff: time.Minute,
			ClaimTimeout: 5 * time.Minute,
		})
		e.now = e.now.Add(2 * time.Hour)
		jobs, err := e.store.ListDueJobs(t.Context(), e.now, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		jobID := jobs[0].ID

		// A worker claims the job and dies before recording an outcome.
		_, err = e.store.ClaimJob(t.Context(), jobID, e.now)
		require.NoError(t, err)
		e.now = e.now.Add(10 * time.Minute)
		e.fail = true
		out, err := p.Poll(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, out.Released)
		assert.Equal(t, 1, out.Failed, "the released attempt counts toward the bound")
		assert.Zero(t, e.calls)

		st, err := e.store.GetExecution(t.Context(), res.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusFailed, st.Status)
		assert.Contains(t, st.Error, core.ErrMaxRetriesExceeded.Error())
	})
}

func TestPoller_CanceledTick(t *testing.T) {
	t.Run("Should record the outcome of a claimed job after the tick context ends", func(t *testing.T) {
		e := newEnv(t)
		res := e.start(t)
		ctx, cancel := context.WithCancel(t.Context())
		reg := action.NewRegistry()
		reg.MustRegister("notify", action.Func(func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
			cancel()
			return nil, errors.New("provider down")
		}))
		store := cancelAwareStore{e.store}
		cel, err := executor.NewCELEvaluator()
		require.NoError(t, err)
		clock := func() time.Time { return e.now }
		exec := executor.New(store, store, reg, cel, clock, executor.Options{})
		p := poller.New(store, exec, clock, poller.Options{MaxRetries: 3, RetryBackoff: time.Minute})

		e.now = e.now.Add(2 * time.Hour)
		out, err := p.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, out.Retried)

		due, err := e.store.ListDueJobs(t.Context(), e.now.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1, "the job must not stay claimed")
		assert.Equal(t, 1, due[0].RetryCount)
		st, err := e.store.GetExecution(t.Context(), res.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusWaiting, st.Status)
	})
}
