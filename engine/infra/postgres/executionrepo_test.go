package postgres_test

import (
	"errors"
	"testing"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/infra/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	executionCols = []string{
		"id", "workflow_id", "queue_entry_id", "current_node_id", "context",
		"status", "resume_at", "error", "created_at", "updated_at",
	}
	jobCols = []string{
		"id", "execution_id", "node_id", "ready_at", "context", "status", "retry_count", "last_error",
		"claimed_at", "created_at",
	}
)

func TestExecutionRepo_GetExecution(t *testing.T) {
	t.Run("Should decode the stored state", func(t *testing.T) {
		mockPool := newMockPool(t)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		resume := now.Add(time.Hour)
		mockPool.ExpectQuery("SELECT (.+) FROM executions WHERE id =").
			WithArgs(core.ID("x1")).
			WillReturnRows(mockPool.NewRows(executionCols).
				AddRow(core.ID("x1"), core.ID("wf"), core.ID("e1"), "wait", []byte(`{"trigger":{"name":"Jan"}}`),
					"waiting", &resume, "", now, now))

		st, err := postgres.NewExecutionRepo(mockPool).GetExecution(t.Context(), "x1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusWaiting, st.Status)
		require.NotNil(t, st.ResumeAt)
		assert.Equal(t, resume, *st.ResumeAt)
		assert.Equal(t, map[string]any{"name": "Jan"}, st.Context["trigger"])
		assert.NoError(t, st.Check())
	})

	t.Run("Should map no rows to ErrExecutionNotFound", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectQuery("SELECT (.+) FROM executions WHERE id =").
			WithArgs(core.ID("missing")).
			WillReturnError(pgx.ErrNoRows)
		_, err := postgres.NewExecutionRepo(mockPool).GetExecution(t.Context(), "missing")
		assert.ErrorIs(t, err, core.ErrExecutionNotFound)
	})
}

func TestExecutionRepo_ListExecutions(t *testing.T) {
	t.Run("Should filter and order by creation", func(t *testing.T) {
		mockPool := newMockPool(t)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		var nilTime *time.Time
		mockPool.ExpectQuery("SELECT (.+) FROM executions WHERE workflow_id = (.+) AND status = (.+) ORDER BY created_at, id LIMIT 5").
			WithArgs(core.ID("wf"), "failed").
			WillReturnRows(mockPool.NewRows(executionCols).
				AddRow(core.ID("x1"), core.ID("wf"), core.ID("e1"), "a", []byte(`{}`), "failed", nilTime, "boom", now, now))

		out, err := postgres.NewExecutionRepo(mockPool).ListExecutions(t.Context(), execution.ListFilter{
			WorkflowID: "wf",
			Status:     execution.StatusFailed,
			Limit:      5,
		})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "boom", out[0].Error)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestExecutionRepo_SuspendExecution(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resume := now.Add(time.Hour)
	state := &execution.State{
		ID: "x1", WorkflowID: "wf", CurrentNodeID: "wait", Status: execution.StatusWaiting,
		ResumeAt: &resume, CreatedAt: now, UpdatedAt: now,
	}
	job := &execution.Job{
		ID: "j1", ExecutionID: "x1", NodeID: "wait", ReadyAt: resume, Status: execution.JobPending, CreatedAt: now,
	}
	anyArgs := func(n int) []any {
		out := make([]any, n)
		for i := range out {
			out[i] = pgxmock.AnyArg()
		}
		return out
	}

	t.Run("Should persist state and job in one transaction", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO executions(.+)ON CONFLICT").
			WithArgs(anyArgs(10)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("INSERT INTO scheduled_jobs").
			WithArgs(anyArgs(9)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, postgres.NewExecutionRepo(mockPool).SuspendExecution(t.Context(), state, job))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should roll back when the job insert fails", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO executions").
			WithArgs(anyArgs(10)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("INSERT INTO scheduled_jobs").
			WithArgs(anyArgs(9)...).
			WillReturnError(errors.New("duplicate key"))
		mockPool.ExpectRollback()

		err := postgres.NewExecutionRepo(mockPool).SuspendExecution(t.Context(), state, job)
		assert.ErrorContains(t, err, "duplicate key")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should reject a waiting state without resume_at", func(t *testing.T) {
		mockPool := newMockPool(t)
		bad := *state
		bad.ResumeAt = nil
		err := postgres.NewExecutionRepo(mockPool).SuspendExecution(t.Context(), &bad, job)
		assert.Error(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestExecutionRepo_ClaimJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Should claim a due job", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectQuery("UPDATE scheduled_jobs SET status = 'claimed'").
			WithArgs(core.ID("j1"), now).
			WillReturnRows(mockPool.NewRows(jobCols).
				AddRow(core.ID("j1"), core.ID("x1"), "wait", now, []byte(`{"a":1}`), "claimed", 0, "", &now, now))
		j, err := postgres.NewExecutionRepo(mockPool).ClaimJob(t.Context(), "j1", now)
		require.NoError(t, err)
		assert.Equal(t, execution.JobClaimed, j.Status)
		assert.Equal(t, map[string]any{"a": float64(1)}, j.Context)
	})

	t.Run("Should report a conflict for a consumed job", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectQuery("UPDATE scheduled_jobs SET status = 'claimed'").
			WithArgs(core.ID("j1"), now).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery("SELECT status FROM scheduled_jobs").
			WithArgs(core.ID("j1")).
			WillReturnRows(mockPool.NewRows([]string{"status"}).AddRow("done"))
		_, err := postgres.NewExecutionRepo(mockPool).ClaimJob(t.Context(), "j1", now)
		assert.ErrorIs(t, err, core.ErrClaimConflict)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestExecutionRepo_FailJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	retryAt := now.Add(time.Minute)

	t.Run("Should reschedule job and execution while budget remains", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT (.+) FROM scheduled_jobs WHERE id = (.+) FOR UPDATE").
			WithArgs(core.ID("j1")).
			WillReturnRows(mockPool.NewRows(jobCols).
				AddRow(core.ID("j1"), core.ID("x1"), "wait", now, []byte(`{}`), "claimed", 0, "", &now, now))
		mockPool.ExpectExec("UPDATE scheduled_jobs SET status").
			WithArgs(core.ID("j1"), "pending", 1, "boom", retryAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec("UPDATE executions SET status = 'waiting'").
			WithArgs(core.ID("x1"), retryAt, "wait", pgxmock.AnyArg(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		j, err := postgres.NewExecutionRepo(mockPool).FailJob(t.Context(), "j1", execution.JobFailure{
			Message: "boom", MaxRetries: 3, RetryAt: retryAt,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, execution.JobPending, j.Status)
		assert.Equal(t, 1, j.RetryCount)
		assert.Equal(t, retryAt, j.ReadyAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should fail job and execution once exhausted", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT (.+) FROM scheduled_jobs WHERE id = (.+) FOR UPDATE").
			WithArgs(core.ID("j1")).
			WillReturnRows(mockPool.NewRows(jobCols).
				AddRow(core.ID("j1"), core.ID("x1"), "wait", now, []byte(`{}`), "claimed", 2, "", &now, now))
		mockPool.ExpectExec("UPDATE scheduled_jobs SET status").
			WithArgs(core.ID("j1"), "failed", 3, "boom", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec("UPDATE executions SET status = 'failed'").
			WithArgs(core.ID("x1"), "boom", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		j, err := postgres.NewExecutionRepo(mockPool).FailJob(t.Context(), "j1", execution.JobFailure{
			Message: "boom", MaxRetries: 3, RetryAt: retryAt,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, execution.JobFailed, j.Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should roll back on a job that is not claimed", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT (.+) FROM scheduled_jobs WHERE id = (.+) FOR UPDATE").
			WithArgs(core.ID("j1")).
			WillReturnRows(mockPool.NewRows(jobCols).
				AddRow(core.ID("j1"), core.ID("x1"), "wait", now, []byte(`{}`), "pending", 0, "", (*time.Time)(nil), now))
		mockPool.ExpectRollback()

		_, err := postgres.NewExecutionRepo(mockPool).FailJob(t.Context(), "j1", execution.JobFailure{MaxRetries: 3}, now)
		assert.ErrorIs(t, err, core.ErrClaimConflict)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestExecutionRepo_ReleaseStaleJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	claimedAt := now.Add(-10 * time.Minute)
	failure := execution.JobFailure{
		Message:          "claim timed out",
		ExhaustedMessage: "max retries exceeded: claim timed out",
		MaxRetries:       3,
		RetryAt:          now,
	}

	t.Run("Should count the abandoned attempt and reschedule the execution", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT (.+) FROM scheduled_jobs WHERE status = 'claimed' AND claimed_at < (.+) FOR UPDATE SKIP LOCKED").
			WithArgs(now.Add(-5 * time.Minute)).
			WillReturnRows(mockPool.NewRows(jobCols).
				AddRow(core.ID("j1"), core.ID("x1"), "wait", claimedAt, []byte(`{}`), "claimed", 0, "", &claimedAt, claimedAt))
		mockPool.ExpectExec("UPDATE scheduled_jobs SET status").
			WithArgs(core.ID("j1"), "pending", 1, "claim timed out", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec("UPDATE executions SET status = 'waiting'").
			WithArgs(core.ID("x1"), now, "wait", pgxmock.AnyArg(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		n, err := postgres.NewExecutionRepo(mockPool).ReleaseStaleJobs(t.Context(), now.Add(-5*time.Minute), failure, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should fail job and execution once the claim budget is exhausted", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT (.+) FROM scheduled_jobs WHERE status = 'claimed' AND claimed_at < (.+) FOR UPDATE SKIP LOCKED").
			WithArgs(now.Add(-5 * time.Minute)).
			WillReturnRows(mockPool.NewRows(jobCols).
				AddRow(core.ID("j1"), core.ID("x1"), "wait", claimedAt, []byte(`{}`), "claimed", 2, "", &claimedAt, claimedAt))
		mockPool.ExpectExec("UPDATE scheduled_jobs SET status").
			WithArgs(core.ID("j1"), "failed", 3, "max retries exceeded: claim timed out", claimedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec("UPDATE executions SET status = 'failed'").
			WithArgs(core.ID("x1"), "max retries exceeded: claim timed out", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		n, err := postgres.NewExecutionRepo(mockPool).ReleaseStaleJobs(t.Context(), now.Add(-5*time.Minute), failure, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should release nothing when no claim is stale", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT (.+) FROM scheduled_jobs WHERE status = 'claimed'").
			WithArgs(now.Add(-5 * time.Minute)).
			WillReturnRows(mockPool.NewRows(jobCols))
		mockPool.ExpectCommit()

		n, err := postgres.NewExecutionRepo(mockPool).ReleaseStaleJobs(t.Context(), now.Add(-5*time.Minute), failure, now)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
