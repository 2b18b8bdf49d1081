//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/infra/postgres"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newIntegrationStore(ctx context.Context, t *testing.T) *postgres.Store {
	t.Helper()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("autoflow"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %s", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.ApplyMigrationsWithLock(ctx, dsn))
	st, err := postgres.NewStore(ctx, &postgres.Config{ConnString: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	st := newIntegrationStore(ctx, t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Should never hand the same entry to concurrent claimers", func(t *testing.T) {
		for i := range 20 {
			require.NoError(t, st.EnqueueEntry(ctx, &queue.Entry{
				ID:          core.ID(fmt.Sprintf("claim-%02d", i)),
				WorkflowID:  "wf",
				TriggerType: core.TriggerWebhook,
				Status:      queue.StatusPending,
				CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
			}))
		}
		var mu sync.Mutex
		seen := make(map[core.ID]int)
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					batch, err := st.ClaimEntries(ctx, 3, 3, base)
					if !assert.NoError(t, err) || len(batch) == 0 {
						return
					}
					mu.Lock()
					for _, e := range batch {
						seen[e.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 20)
		for id, n := range seen {
			assert.Equal(t, 1, n, "entry %s claimed %d times", id, n)
		}
	})

	t.Run("Should retry then fail an entry at the bound", func(t *testing.T) {
		id := core.ID("retry-1")
		require.NoError(t, st.EnqueueEntry(ctx, &queue.Entry{
			ID: id, WorkflowID: "wf-retry", TriggerType: core.TriggerManual, Status: queue.StatusPending, CreatedAt: base,
		}))
		failure := queue.Failure{Message: "boom", ExhaustedMessage: "max retries exceeded: boom", MaxRetries: 2}
		for attempt := 1; attempt <= 2; attempt++ {
			claimed, err := st.ClaimEntries(ctx, 100, 2, base)
			require.NoError(t, err)
			require.NotEmpty(t, claimed)
			e, err := st.FailEntry(ctx, id, failure, base)
			require.NoError(t, err)
			assert.Equal(t, attempt, e.RetryCount)
		}
		e, err := st.GetEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, e.Status)
		assert.Equal(t, "max retries exceeded: boom", e.LastError)
		assert.ErrorIs(t, st.CompleteEntry(ctx, id, base), core.ErrClaimConflict)
	})

	t.Run("Should suspend and resume through a scheduled job once", func(t *testing.T) {
		resume := base.Add(time.Hour)
		state := &execution.State{
			ID: "exec-1", WorkflowID: "wf", CurrentNodeID: "running", Status: execution.StatusRunning,
			Context: map[string]any{"trigger": map[string]any{"name": "Jan"}}, CreatedAt: base, UpdatedAt: base,
		}
		require.NoError(t, st.CreateExecution(ctx, state))
		state.MarkWaiting("wait", resume, base)
		require.NoError(t, st.SuspendExecution(ctx, state, &execution.Job{
			ID: "job-1", ExecutionID: "exec-1", NodeID: "wait", ReadyAt: resume,
			Context: state.Context, Status: execution.JobPending, CreatedAt: base,
		}))

		due, err := st.ListDueJobs(ctx, base.Add(30*time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
		due, err = st.ListDueJobs(ctx, resume, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		_, err = st.ClaimJob(ctx, "job-1", resume)
		require.NoError(t, err)
		_, err = st.ClaimJob(ctx, "job-1", resume)
		assert.ErrorIs(t, err, core.ErrClaimConflict)
		require.NoError(t, st.CompleteJob(ctx, "job-1", resume))

		got, err := st.GetExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusWaiting, got.Status)
		assert.Equal(t, "Jan", got.Context["trigger"].(map[string]any)["name"])
	})
}
