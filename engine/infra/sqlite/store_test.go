package sqlite

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	ctx := t.Context()
	s, err := NewStore(ctx, &Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func newFileStore(t *testing.T) *Store {
	t.Helper()
	return newTestStore(t, filepath.Join(t.TempDir(), "autoflow.db"))
}

func webhookDefinition(id core.ID, owner, key string, active bool) *workflow.Definition {
	return &workflow.Definition{
		ID:       id,
		OwnerID:  owner,
		Name:     string(id),
		IsActive: active,
		Nodes: []workflow.Node{
			{ID: "t", Kind: workflow.NodeTrigger, Data: map[string]any{"type": "webhook", "key": key}},
			{ID: "a", Kind: workflow.NodeAction, Data: map[string]any{"action_type": "notify"}},
		},
		Edges: []workflow.Edge{{From: "t", To: "a"}},
	}
}

func pendingEntry(id core.ID, createdAt time.Time) *queue.Entry {
	return &queue.Entry{
		ID:          id,
		WorkflowID:  "wf",
		TriggerType: core.TriggerWebhook,
		TriggerData: map[string]any{"email": "a@b.c"},
		Status:      queue.StatusPending,
		CreatedAt:   createdAt,
	}
}

func TestBuildDSN(t *testing.T) {
	t.Run("Should build DSN for file path with pragmas", func(t *testing.T) {
		dsn, memory, err := buildDSN(&Config{Path: filepath.Join(t.TempDir(), "test.db")})
		require.NoError(t, err)
		assert.False(t, memory)
		assert.Contains(t, dsn, "file:")
		assert.Contains(t, dsn, "_pragma=journal_mode(WAL)")
		assert.Contains(t, dsn, "_pragma=foreign_keys(ON)")
		assert.Contains(t, dsn, "_pragma=busy_timeout(5000)")
	})
	t.Run("Should build DSN for in-memory databases", func(t *testing.T) {
		dsn, memory, err := buildDSN(&Config{Path: ":memory:", BusyTimeout: time.Second})
		require.NoError(t, err)
		assert.True(t, memory)
		assert.Contains(t, dsn, "file::memory:?")
		assert.Contains(t, dsn, "_pragma=busy_timeout(1000)")
		assert.NotContains(t, dsn, "journal_mode")
	})
	t.Run("Should treat an empty path as in-memory", func(t *testing.T) {
		_, memory, err := buildDSN(&Config{})
		require.NoError(t, err)
		assert.True(t, memory)
	})
}

func TestJSONHelpers(t *testing.T) {
	t.Run("Should encode nil maps as an empty object", func(t *testing.T) {
		var m map[string]any
		s, err := ToJSONText(m)
		require.NoError(t, err)
		assert.Equal(t, "{}", s)
	})
	t.Run("Should leave the target untouched for empty input", func(t *testing.T) {
		dst := map[string]any{"keep": true}
		require.NoError(t, FromJSONText("", &dst))
		assert.Equal(t, map[string]any{"keep": true}, dst)
	})
}

func TestStore_HealthCheck(t *testing.T) {
	t.Run("Should report healthy and fail after close", func(t *testing.T) {
		s := newTestStore(t, ":memory:")
		require.NoError(t, s.HealthCheck(t.Context()))
		require.NoError(t, s.Close(t.Context()))
		assert.Error(t, s.HealthCheck(t.Context()))
	})
}

func TestWorkflowRepo(t *testing.T) {
	t.Run("Should round-trip a definition and keep created_at on update", func(t *testing.T) {
		s := newFileStore(t)
		d := webhookDefinition("wf-1", "acme", "signup", true)
		require.NoError(t, s.SaveDefinition(t.Context(), d))
		created := d.CreatedAt

		got, err := s.GetDefinition(t.Context(), "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "acme", got.OwnerID)
		assert.True(t, got.IsActive)
		require.Len(t, got.Nodes, 2)
		assert.Equal(t, workflow.NodeAction, got.Nodes[1].Kind)
		assert.Equal(t, []workflow.Edge{{From: "t", To: "a"}}, got.Edges)

		d.Name = "renamed"
		d.CreatedAt = time.Time{}
		require.NoError(t, s.SaveDefinition(t.Context(), d))
		got, err = s.GetDefinition(t.Context(), "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.True(t, created.Equal(got.CreatedAt))
	})

	t.Run("Should return not found for unknown definitions", func(t *testing.T) {
		s := newFileStore(t)
		_, err := s.GetDefinition(t.Context(), "missing")
		assert.ErrorIs(t, err, core.ErrWorkflowNotFound)
	})

	t.Run("Should fan out to active subscribers and scope by owner", func(t *testing.T) {
		s := newFileStore(t)
		for _, d := range []*workflow.Definition{
			webhookDefinition("wf-a", "acme", "signup", true),
			webhookDefinition("wf-b", "acme", "signup", true),
			webhookDefinition("wf-c", "other", "signup", true),
			webhookDefinition("wf-d", "acme", "signup", false),
			webhookDefinition("wf-e", "acme", "refund", true),
		} {
			require.NoError(t, s.SaveDefinition(t.Context(), d))
		}
		ids, err := s.FindByTrigger(t.Context(), core.TriggerWebhook, "signup", "")
		require.NoError(t, err)
		assert.Equal(t, []core.ID{"wf-a", "wf-b", "wf-c"}, ids)

		ids, err = s.FindByTrigger(t.Context(), core.TriggerWebhook, "signup", "acme")
		require.NoError(t, err)
		assert.Equal(t, []core.ID{"wf-a", "wf-b"}, ids)

		ids, err = s.FindByTrigger(t.Context(), core.TriggerWebhook, "nothing", "")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Should reindex when the trigger key changes", func(t *testing.T) {
		s := newFileStore(t)
		d := webhookDefinition("wf-1", "acme", "old", true)
		require.NoError(t, s.SaveDefinition(t.Context(), d))
		d.Nodes[0].Data["key"] = "new"
		require.NoError(t, s.SaveDefinition(t.Context(), d))

		ids, err := s.FindByTrigger(t.Context(), core.TriggerWebhook, "old", "")
		require.NoError(t, err)
		assert.Empty(t, ids)
		ids, err = s.FindByTrigger(t.Context(), core.TriggerWebhook, "new", "")
		require.NoError(t, err)
		assert.Equal(t, []core.ID{"wf-1"}, ids)
	})

	t.Run("Should list only active definitions", func(t *testing.T) {
		s := newFileStore(t)
		require.NoError(t, s.SaveDefinition(t.Context(), webhookDefinition("on", "o", "k", true)))
		require.NoError(t, s.SaveDefinition(t.Context(), webhookDefinition("off", "o", "k", false)))
		defs, err := s.ListActiveDefinitions(t.Context())
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, core.ID("on"), defs[0].ID)
	})
}

func TestQueueRepo(t *testing.T) {
	t.Run("Should claim oldest first within the limit", func(t *testing.T) {
		s := newFileStore(t)
		for i := range 3 {
			id := core.ID(fmt.Sprintf("e%d", i))
			require.NoError(t, s.EnqueueEntry(t.Context(), pendingEntry(id, baseTime.Add(time.Duration(i)*time.Second))))
		}
		batch, err := s.ClaimEntries(t.Context(), 2, 3, baseTime.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, batch, 2)
		assert.Equal(t, core.ID("e0"), batch[0].ID)
		assert.Equal(t, core.ID("e1"), batch[1].ID)
		assert.Equal(t, queue.StatusProcessing, batch[0].Status)
		require.NotNil(t, batch[0].ClaimedAt)
		assert.True(t, baseTime.Add(time.Minute).Equal(*batch[0].ClaimedAt))
		assert.Equal(t, map[string]any{"email": "a@b.c"}, batch[0].TriggerData)

		batch, err = s.ClaimEntries(t.Context(), 2, 3, baseTime.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, core.ID("e2"), batch[0].ID)
	})

	t.Run("Should never hand the same entry to concurrent claimers", func(t *testing.T) {
		s := newTestStore(t, ":memory:")
		for i := range 20 {
			id := core.ID(fmt.Sprintf("e%02d", i))
			require.NoError(t, s.EnqueueEntry(t.Context(), pendingEntry(id, baseTime.Add(time.Duration(i)*time.Millisecond))))
		}
		var mu sync.Mutex
		seen := make(map[core.ID]int)
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				batch, err := s.ClaimEntries(t.Context(), 5, 3, baseTime)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				for _, e := range batch {
					seen[e.ID]++
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 20)
		for id, n := range seen {
			assert.Equalf(t, 1, n, "entry %s claimed %d times", id, n)
		}
	})

	t.Run("Should retry until the bound then fail with the exhausted message", func(t *testing.T) {
		s := newFileStore(t)
		require.NoError(t, s.EnqueueEntry(t.Context(), pendingEntry("e1", baseTime)))
		failure := queue.Failure{Message: "boom", ExhaustedMessage: "max retries exceeded: boom", MaxRetries: 2}

		_, err := s.ClaimEntries(t.Context(), 1, 2, baseTime)
		require.NoError(t, err)
		e, err := s.FailEntry(t.Context(), "e1", failure, baseTime)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, e.Status)
		assert.Equal(t, 1, e.RetryCount)
		assert.Equal(t, "boom", e.LastError)
		assert.Nil(t, e.ClaimedAt)

		_, err = s.ClaimEntries(t.Context(), 1, 2, baseTime)
		require.NoError(t, err)
		e, err = s.FailEntry(t.Context(), "e1", failure, baseTime.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, e.Status)
		assert.Equal(t, 2, e.RetryCount)
		assert.Equal(t, "max retries exceeded: boom", e.LastError)
		require.NotNil(t, e.ProcessedAt)

		batch, err := s.ClaimEntries(t.Context(), 1, 2, baseTime)
		require.NoError(t, err)
		assert.Empty(t, batch)
	})

	t.Run("Should fail terminal errors immediately", func(t *testing.T) {
		s := newFileStore(t)
		require.NoError(t, s.EnqueueEntry(t.Context(), pendingEntry("e1", baseTime)))
		_, err := s.ClaimEntries(t.Context(), 1, 3, baseTime)
		require.NoError(t, err)
		e, err := s.FailEntry(t.Context(), "e1", queue.Failure{Message: "bad graph", MaxRetries: 3, Terminal: true}, baseTime)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, e.Status)
		assert.Equal(t, "bad graph", e.LastError)
	})

	t.Run("Should report conflicts and missing entries", func(t *testing.T) {
		s := newFileStore(t)
		require.NoError(t, s.EnqueueEntry(t.Context(), pendingEntry("e1", baseTime)))
		err := s.CompleteEntry(t.Context(), "e1", baseTime)
		assert.True(t, errors.Is(err, core.ErrClaimConflict))

		_, err = s.ClaimEntries(t.Context(), 1, 3, baseTime)
		require.NoError(t, err)
		require.NoError(t, s.CompleteEntry(t.Context(), "e1", baseTime))
		err = s.CompleteEntry(t.Context(), "e1", baseTime)
		assert.True(t, errors.Is(err, core.ErrClaimConflict))
		_, err = s.FailEntry(t.Context(), "e1", queue.Failure{MaxRetries: 3}, baseTime)
		assert.True(t, errors.Is(err, core.ErrClaimConflict))

		err = s.CompleteEntry(t.Context(), "missing", baseTime)
		assert.ErrorIs(t, err, core.ErrEntryNotFound)
		_, err = s.GetEntry(t.Context(), "missing")
		assert.ErrorIs(t, err, core.ErrEntryNotFound)

		e, err := s.GetEntry(t.Context(), "e1")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCompleted, e.Status)
		require.NotNil(t, e.ProcessedAt)
	})

	t.Run("Should reclaim only entries claimed before the cutoff", func(t *testing.T) {
		s := newFileStore(t)
		require.NoError(t, s.EnqueueEntry(t.Context(), pendingEntry("old", baseTime)))
		require.NoError(t, s.EnqueueEntry(t.Context(), pendingEntry("new", baseTime.Add(time.Second))))
		_, err := s.ClaimEntries(t.Context(), 1, 3, baseTime)
		require.NoError(t, err)
		_, err = s.ClaimEntries(t.Context(), 1, 3, baseTime.Add(10*time.Minute))
		require.NoError(t, err)

		failure := queue.Failure{Message: "processing timeout", ExhaustedMessage: "max retries exceeded", MaxRetries: 3}
		n, err := s.ReclaimEntries(t.Context(), baseTime.Add(5*time.Minute), failure, baseTime.Add(15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		e, err := s.GetEntry(t.Context(), "old")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, e.Status)
		assert.Equal(t, 1, e.RetryCount)
		assert.Equal(t, "processing timeout", e.LastError)
		e, err = s.GetEntry(t.Context(), "new")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusProcessing, e.Status)
	})
}

func waitingExecution(id core.ID, resumeAt time.Time) (*execution.State, *execution.Job) {
	st := &execution.State{
		ID:           id,
		WorkflowID:   "wf",
		QueueEntryID: "e1",
		Context:      map[string]any{"trigger": map[string]any{"email": "a@b.c"}},
		Status:       execution.StatusRunning,
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
	st.MarkWaiting("w", resumeAt, baseTime)
	job := &execution.Job{
		ID:          id + "-job",
		ExecutionID: id,
		NodeID:      "w",
		ReadyAt:     resumeAt,
		Context:     st.Context,
		Status:      execution.JobPending,
		CreatedAt:   baseTime,
	}
	return st, job
}

func TestExecutionRepo(t *testing.T) {
	t.Run("Should create, save, and list executions", func(t *testing.T) {
		s := newFileStore(t)
		st := &execution.State{
			ID:         "x1",
			WorkflowID: "wf",
			Status:     execution.StatusRunning,
			CreatedAt:  baseTime,
			UpdatedAt:  baseTime,
		}
		require.NoError(t, s.CreateExecution(t.Context(), st))
		st.CurrentNodeID = "a"
		st.MarkCompleted(baseTime.Add(time.Second))
		require.NoError(t, s.SaveExecution(t.Context(), st))

		got, err := s.GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusCompleted, got.Status)
		assert.Equal(t, "a", got.CurrentNodeID)
		assert.Nil(t, got.ResumeAt)

		require.NoError(t, s.CreateExecution(t.Context(), &execution.State{
			ID: "x2", WorkflowID: "other", Status: execution.StatusRunning,
			CreatedAt: baseTime.Add(time.Second), UpdatedAt: baseTime,
		}))
		list, err := s.ListExecutions(t.Context(), execution.ListFilter{WorkflowID: "wf"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, core.ID("x1"), list[0].ID)
		list, err = s.ListExecutions(t.Context(), execution.ListFilter{Status: execution.StatusRunning})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, core.ID("x2"), list[0].ID)
	})

	t.Run("Should reject states that break the waiting pairing", func(t *testing.T) {
		s := newFileStore(t)
		err := s.CreateExecution(t.Context(), &execution.State{ID: "x", WorkflowID: "wf", Status: execution.StatusWaiting})
		assert.Error(t, err)
		_, err = s.GetExecution(t.Context(), "x")
		assert.ErrorIs(t, err, core.ErrExecutionNotFound)
	})

	t.Run("Should report missing executions on save", func(t *testing.T) {
		s := newFileStore(t)
		err := s.SaveExecution(t.Context(), &execution.State{ID: "ghost", Status: execution.StatusRunning})
		assert.ErrorIs(t, err, core.ErrExecutionNotFound)
	})

	t.Run("Should suspend and resume a job exactly once", func(t *testing.T) {
		s := newFileStore(t)
		resumeAt := baseTime.Add(2 * time.Hour)
		st, job := waitingExecution("x1", resumeAt)
		require.NoError(t, s.SuspendExecution(t.Context(), st, job))

		got, err := s.GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusWaiting, got.Status)
		require.NotNil(t, got.ResumeAt)
		assert.True(t, resumeAt.Equal(*got.ResumeAt))

		due, err := s.ListDueJobs(t.Context(), resumeAt.Add(-time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
		_, err = s.ClaimJob(t.Context(), job.ID, resumeAt.Add(-time.Second))
		assert.ErrorIs(t, err, core.ErrClaimConflict)

		due, err = s.ListDueJobs(t.Context(), resumeAt, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		claimed, err := s.ClaimJob(t.Context(), job.ID, resumeAt)
		require.NoError(t, err)
		assert.Equal(t, execution.JobClaimed, claimed.Status)
		assert.Equal(t, st.Context, claimed.Context)

		_, err = s.ClaimJob(t.Context(), job.ID, resumeAt)
		assert.ErrorIs(t, err, core.ErrClaimConflict)
		require.NoError(t, s.CompleteJob(t.Context(), job.ID, resumeAt))
		assert.ErrorIs(t, s.CompleteJob(t.Context(), job.ID, resumeAt), core.ErrClaimConflict)
		_, err = s.ClaimJob(t.Context(), "missing", resumeAt)
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("Should reschedule failed jobs then fail the execution", func(t *testing.T) {
		s := newFileStore(t)
		resumeAt := baseTime.Add(time.Hour)
		st, job := waitingExecution("x1", resumeAt)
		require.NoError(t, s.SuspendExecution(t.Context(), st, job))

		_, err := s.ClaimJob(t.Context(), job.ID, resumeAt)
		require.NoError(t, err)
		retryAt := resumeAt.Add(time.Minute)
		failed, err := s.FailJob(t.Context(), job.ID, execution.JobFailure{
			Message: "provider down", MaxRetries: 2, RetryAt: retryAt,
		}, resumeAt)
		require.NoError(t, err)
		assert.Equal(t, execution.JobPending, failed.Status)
		assert.Equal(t, 1, failed.RetryCount)
		assert.True(t, retryAt.Equal(failed.ReadyAt))
		got, err := s.GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusWaiting, got.Status)
		assert.True(t, retryAt.Equal(*got.ResumeAt))

		_, err = s.ClaimJob(t.Context(), job.ID, retryAt)
		require.NoError(t, err)
		failed, err = s.FailJob(t.Context(), job.ID, execution.JobFailure{
			Message: "max retries exceeded: provider down", MaxRetries: 2, RetryAt: retryAt.Add(time.Minute),
		}, retryAt)
		require.NoError(t, err)
		assert.Equal(t, execution.JobFailed, failed.Status)
		got, err = s.GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusFailed, got.Status)
		assert.Nil(t, got.ResumeAt)
		assert.Contains(t, got.Error, core.ErrMaxRetriesExceeded.Error())

		_, err = s.FailJob(t.Context(), job.ID, execution.JobFailure{MaxRetries: 2}, retryAt)
		assert.ErrorIs(t, err, core.ErrClaimConflict)
	})

	t.Run("Should release jobs claimed before the cutoff", func(t *testing.T) {
		s := newFileStore(t)
		st, job := waitingExecution("x1", baseTime)
		require.NoError(t, s.SuspendExecution(t.Context(), st, job))
		_, err := s.ClaimJob(t.Context(), job.ID, baseTime)
		require.NoError(t, err)

		failure := execution.JobFailure{Message: "claim timed out", MaxRetries: 3, RetryAt: baseTime}
		n, err := s.ReleaseStaleJobs(t.Context(), baseTime, failure, baseTime)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = s.ReleaseStaleJobs(t.Context(), baseTime.Add(time.Second), failure, baseTime.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		due, err := s.ListDueJobs(t.Context(), baseTime, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Nil(t, due[0].ClaimedAt)
		assert.Equal(t, 1, due[0].RetryCount)
		assert.Equal(t, "claim timed out", due[0].LastError)
		got, err := s.GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusWaiting, got.Status)
	})

	t.Run("Should fail job and execution when stale claims exhaust the budget", func(t *testing.T) {
		s := newFileStore(t)
		st, job := waitingExecution("x1", baseTime)
		require.NoError(t, s.SuspendExecution(t.Context(), st, job))
		failure := execution.JobFailure{
			Message:          "claim timed out",
			ExhaustedMessage: core.ErrMaxRetriesExceeded.Error() + ": claim timed out",
			MaxRetries:       2,
			RetryAt:          baseTime,
		}
		for i := range 2 {
			_, err := s.ClaimJob(t.Context(), job.ID, baseTime)
			require.NoError(t, err, "claim %d", i)
			n, err := s.ReleaseStaleJobs(t.Context(), baseTime.Add(time.Second), failure, baseTime.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		}

		due, err := s.ListDueJobs(t.Context(), baseTime.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
		_, err = s.ClaimJob(t.Context(), job.ID, baseTime)
		assert.ErrorIs(t, err, core.ErrClaimConflict)
		got, err := s.GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusFailed, got.Status)
		assert.Contains(t, got.Error, core.ErrMaxRetriesExceeded.Error())
	})

	t.Run("Should leave a completed execution alone when releasing its job", func(t *testing.T) {
		s := newFileStore(t)
		st, job := waitingExecution("x1", baseTime)
		require.NoError(t, s.SuspendExecution(t.Context(), st, job))
		_, err := s.ClaimJob(t.Context(), job.ID, baseTime)
		require.NoError(t, err)
		st.MarkCompleted(baseTime)
		require.NoError(t, s.SaveExecution(t.Context(), st))

		_, err = s.ReleaseStaleJobs(t.Context(), baseTime.Add(time.Second), execution.JobFailure{
			Message: "claim timed out", MaxRetries: 1, RetryAt: baseTime,
		}, baseTime.Add(time.Second))
		require.NoError(t, err)
		got, err := s.GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusCompleted, got.Status)
	})
}
