package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

var executionColumns = []string{
	"id", "workflow_id", "queue_entry_id", "current_node_id", "context",
	"status", "resume_at", "error", "created_at", "updated_at",
}

const jobColumns = "id, execution_id, node_id, ready_at, context, status, retry_count, last_error, claimed_at, created_at"

type executionRow struct {
	ID            core.ID    `db:"id"`
	WorkflowID    core.ID    `db:"workflow_id"`
	QueueEntryID  core.ID    `db:"queue_entry_id"`
	CurrentNodeID string     `db:"current_node_id"`
	Context       []byte     `db:"context"`
	Status        string     `db:"status"`
	ResumeAt      *time.Time `db:"resume_at"`
	Error         string     `db:"error"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (r *executionRow) toState() (*execution.State, error) {
	st := &execution.State{
		ID:            r.ID,
		WorkflowID:    r.WorkflowID,
		QueueEntryID:  r.QueueEntryID,
		CurrentNodeID: r.CurrentNodeID,
		Status:        execution.Status(r.Status),
		ResumeAt:      r.ResumeAt,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := FromJSONB(r.Context, &st.Context); err != nil {
		return nil, fmt.Errorf("unmarshaling context: %w", err)
	}
	return st, nil
}

type jobRow struct {
	ID          core.ID    `db:"id"`
	ExecutionID core.ID    `db:"execution_id"`
	NodeID      string     `db:"node_id"`
	ReadyAt     time.Time  `db:"ready_at"`
	Context     []byte     `db:"context"`
	Status      string     `db:"status"`
	RetryCount  int        `db:"retry_count"`
	LastError   string     `db:"last_error"`
	ClaimedAt   *time.Time `db:"claimed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

func (r *jobRow) toJob() (*execution.Job, error) {
	j := &execution.Job{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		NodeID:      r.NodeID,
		ReadyAt:     r.ReadyAt,
		Status:      execution.JobStatus(r.Status),
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
		ClaimedAt:   r.ClaimedAt,
		CreatedAt:   r.CreatedAt,
	}
	if err := FromJSONB(r.Context, &j.Context); err != nil {
		return nil, fmt.Errorf("unmarshaling job context: %w", err)
	}
	return j, nil
}

// ExecutionRepo implements execution.Repository.
type ExecutionRepo struct {
	db DB
}

func NewExecutionRepo(db DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

func executionArgs(state *execution.State) ([]any, error) {
	ctxJSON, err := ToJSONB(state.Context)
	if err != nil {
		return nil, fmt.Errorf("marshaling context: %w", err)
	}
	return []any{
		state.ID,
		state.WorkflowID,
		state.QueueEntryID,
		state.CurrentNodeID,
		ctxJSON,
		string(state.Status),
		state.ResumeAt,
		state.Error,
		state.CreatedAt,
		state.UpdatedAt,
	}, nil
}

const insertExecution = `
    INSERT INTO executions (id, workflow_id, queue_entry_id, current_node_id, context, status, resume_at, error, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const upsertExecution = insertExecution + `
    ON CONFLICT (id) DO UPDATE SET
        current_node_id = EXCLUDED.current_node_id, context = EXCLUDED.context, status = EXCLUDED.status,
        resume_at = EXCLUDED.resume_at, error = EXCLUDED.error, updated_at = EXCLUDED.updated_at`

func (r *ExecutionRepo) CreateExecution(ctx context.Context, state *execution.State) error {
	if err := state.Check(); err != nil {
		return err
	}
	args, err := executionArgs(state)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, insertExecution, args...); err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepo) SaveExecution(ctx context.Context, state *execution.State) error {
	if err := state.Check(); err != nil {
		return err
	}
	ctxJSON, err := ToJSONB(state.Context)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}
	const query = `
        UPDATE executions SET current_node_id = $2, context = $3, status = $4, resume_at = $5, error = $6, updated_at = $7
        WHERE id = $1
    `
	tag, err := r.db.Exec(
		ctx, query,
		state.ID, state.CurrentNodeID, ctxJSON, string(state.Status), state.ResumeAt, state.Error, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrExecutionNotFound
	}
	return nil
}

func (r *ExecutionRepo) GetExecution(ctx context.Context, id core.ID) (*execution.State, error) {
	query, args, err := squirrel.Select(executionColumns...).
		From("executions").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var row executionRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, core.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("scanning execution: %w", err)
	}
	return row.toState()
}

func (r *ExecutionRepo) ListExecutions(ctx context.Context, filter execution.ListFilter) ([]*execution.State, error) {
	sb := squirrel.Select(executionColumns...).
		From("executions").
		OrderBy("created_at", "id").
		PlaceholderFormat(squirrel.Dollar)
	if !filter.WorkflowID.IsZero() {
		sb = sb.Where(squirrel.Eq{"workflow_id": filter.WorkflowID})
	}
	if !filter.QueueEntryID.IsZero() {
		sb = sb.Where(squirrel.Eq{"queue_entry_id": filter.QueueEntryID})
	}
	if filter.Status != "" {
		sb = sb.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.Limit > 0 {
		sb = sb.Limit(uint64(filter.Limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*executionRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning executions: %w", err)
	}
	out := make([]*execution.State, 0, len(rows))
	for _, row := range rows {
		st, err := row.toState()
		if err != nil {
			return nil, fmt.Errorf("converting execution %s: %w", row.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *ExecutionRepo) SuspendExecution(ctx context.Context, state *execution.State, job *execution.Job) error {
	if err := state.Check(); err != nil {
		return err
	}
	args, err := executionArgs(state)
	if err != nil {
		return err
	}
	jobCtx, err := ToJSONB(job.Context)
	if err != nil {
		return fmt.Errorf("marshaling job context: %w", err)
	}
	const insertJob = `
        INSERT INTO scheduled_jobs (id, execution_id, node_id, ready_at, context, status, retry_count, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	return withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertExecution, args...); err != nil {
			return fmt.Errorf("saving waiting execution: %w", err)
		}
		if _, err := tx.Exec(
			ctx, insertJob,
			job.ID, job.ExecutionID, job.NodeID, job.ReadyAt, jobCtx,
			string(job.Status), job.RetryCount, job.LastError, job.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting scheduled job: %w", err)
		}
		return nil
	})
}

func (r *ExecutionRepo) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*execution.Job, error) {
	sb := squirrel.Select(jobColumns).
		From("scheduled_jobs").
		Where(squirrel.Eq{"status": string(execution.JobPending)}).
		Where(squirrel.LtOrEq{"ready_at": now}).
		OrderBy("ready_at", "id").
		PlaceholderFormat(squirrel.Dollar)
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*jobRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning due jobs: %w", err)
	}
	out := make([]*execution.Job, 0, len(rows))
	for _, row := range rows {
		j, err := row.toJob()
		if err != nil {
			return nil, fmt.Errorf("converting job %s: %w", row.ID, err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *ExecutionRepo) ClaimJob(ctx context.Context, id core.ID, now time.Time) (*execution.Job, error) {
	query := `UPDATE scheduled_jobs SET status = 'claimed', claimed_at = $2
        WHERE id = $1 AND status = 'pending' AND ready_at <= $2
        RETURNING ` + jobColumns
	var row jobRow
	if err := pgxscan.Get(ctx, r.db, &row, query, id, now); err != nil {
		if isNoRows(err) {
			return nil, r.jobConflict(ctx, id)
		}
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return row.toJob()
}

func (r *ExecutionRepo) CompleteJob(ctx context.Context, id core.ID, _ time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE scheduled_jobs SET status = 'done' WHERE id = $1 AND status = 'claimed'`, id)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.jobConflict(ctx, id)
	}
	return nil
}

func (r *ExecutionRepo) FailJob(
	ctx context.Context,
	id core.ID,
	failure execution.JobFailure,
	now time.Time,
) (*execution.Job, error) {
	var out *execution.Job
	err := withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		var row jobRow
		query := "SELECT " + jobColumns + " FROM scheduled_jobs WHERE id = $1 FOR UPDATE"
		if err := pgxscan.Get(ctx, tx, &row, query, id); err != nil {
			if isNoRows(err) {
				return core.ErrJobNotFound
			}
			return fmt.Errorf("locking job: %w", err)
		}
		if row.Status != string(execution.JobClaimed) {
			return fmt.Errorf("%w: job %s is %s", core.ErrClaimConflict, id, row.Status)
		}
		job, err := row.toJob()
		if err != nil {
			return err
		}
		if err := applyJobFailure(ctx, tx, job, failure, now); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyJobFailure counts the attempt on job and moves its execution to failed,
// or back to waiting on the job's node with the job's context. A completed
// execution is left alone.
func applyJobFailure(
	ctx context.Context,
	tx pgx.Tx,
	job *execution.Job,
	failure execution.JobFailure,
	now time.Time,
) error {
	failed := failure.Apply(job)
	if _, err := tx.Exec(
		ctx,
		`UPDATE scheduled_jobs SET status = $2, retry_count = $3, last_error = $4, ready_at = $5, claimed_at = NULL
        WHERE id = $1`,
		job.ID, string(job.Status), job.RetryCount, job.LastError, job.ReadyAt,
	); err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if failed {
		if _, err := tx.Exec(
			ctx,
			`UPDATE executions SET status = 'failed', resume_at = NULL, error = $2, updated_at = $3
            WHERE id = $1 AND status <> 'completed'`,
			job.ExecutionID, job.LastError, now,
		); err != nil {
			return fmt.Errorf("failing execution: %w", err)
		}
		return nil
	}
	ctxJSON, err := ToJSONB(job.Context)
	if err != nil {
		return fmt.Errorf("marshaling job context: %w", err)
	}
	if _, err := tx.Exec(
		ctx,
		`UPDATE executions SET status = 'waiting', resume_at = $2, current_node_id = $3, context = $4, error = '', updated_at = $5
        WHERE id = $1 AND status <> 'completed'`,
		job.ExecutionID, job.ReadyAt, job.NodeID, ctxJSON, now,
	); err != nil {
		return fmt.Errorf("rescheduling execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepo) ReleaseStaleJobs(
	ctx context.Context,
	claimedBefore time.Time,
	failure execution.JobFailure,
	now time.Time,
) (int, error) {
	released := 0
	err := withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		var rows []jobRow
		query := "SELECT " + jobColumns +
			" FROM scheduled_jobs WHERE status = 'claimed' AND claimed_at < $1 ORDER BY claimed_at FOR UPDATE SKIP LOCKED"
		if err := pgxscan.Select(ctx, tx, &rows, query, claimedBefore); err != nil {
			return fmt.Errorf("locking stale jobs: %w", err)
		}
		for i := range rows {
			job, err := rows[i].toJob()
			if err != nil {
				return err
			}
			if err := applyJobFailure(ctx, tx, job, failure, now); err != nil {
				return err
			}
		}
		released = len(rows)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("releasing stale jobs: %w", err)
	}
	return released, nil
}

func (r *ExecutionRepo) jobConflict(ctx context.Context, id core.ID) error {
	var status string
	err := r.db.QueryRow(ctx, "SELECT status FROM scheduled_jobs WHERE id = $1", id).Scan(&status)
	if isNoRows(err) {
		return core.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("reading job status: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s", core.ErrClaimConflict, id, status)
}
