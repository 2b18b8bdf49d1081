package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/georgysavva/scany/v2/sqlscan"
)

const (
	executionColumns = "id, workflow_id, queue_entry_id, current_node_id, context, status, resume_at, error, " +
		"created_at, updated_at"
	jobColumns = "id, execution_id, node_id, ready_at, context, status, retry_count, last_error, claimed_at, created_at"
)

type executionRow struct {
	ID            string        `db:"id"`
	WorkflowID    string        `db:"workflow_id"`
	QueueEntryID  string        `db:"queue_entry_id"`
	CurrentNodeID string        `db:"current_node_id"`
	Context       string        `db:"context"`
	Status        string        `db:"status"`
	ResumeAt      sql.NullInt64 `db:"resume_at"`
	Error         string        `db:"error"`
	CreatedAt     int64         `db:"created_at"`
	UpdatedAt     int64         `db:"updated_at"`
}

func (r *executionRow) toState() (*execution.State, error) {
	st := &execution.State{
		ID:            core.ID(r.ID),
		WorkflowID:    core.ID(r.WorkflowID),
		QueueEntryID:  core.ID(r.QueueEntryID),
		CurrentNodeID: r.CurrentNodeID,
		Status:        execution.Status(r.Status),
		ResumeAt:      fromNullNano(r.ResumeAt),
		Error:         r.Error,
		CreatedAt:     fromNano(r.CreatedAt),
		UpdatedAt:     fromNano(r.UpdatedAt),
	}
	if err := FromJSONText(r.Context, &st.Context); err != nil {
		return nil, fmt.Errorf("unmarshaling context: %w", err)
	}
	return st, nil
}

type jobRow struct {
	ID          string        `db:"id"`
	ExecutionID string        `db:"execution_id"`
	NodeID      string        `db:"node_id"`
	ReadyAt     int64         `db:"ready_at"`
	Context     string        `db:"context"`
	Status      string        `db:"status"`
	RetryCount  int           `db:"retry_count"`
	LastError   string        `db:"last_error"`
	ClaimedAt   sql.NullInt64 `db:"claimed_at"`
	CreatedAt   int64         `db:"created_at"`
}

func (r *jobRow) toJob() (*execution.Job, error) {
	j := &execution.Job{
		ID:          core.ID(r.ID),
		ExecutionID: core.ID(r.ExecutionID),
		NodeID:      r.NodeID,
		ReadyAt:     fromNano(r.ReadyAt),
		Status:      execution.JobStatus(r.Status),
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
		ClaimedAt:   fromNullNano(r.ClaimedAt),
		CreatedAt:   fromNano(r.CreatedAt),
	}
	if err := FromJSONText(r.Context, &j.Context); err != nil {
		return nil, fmt.Errorf("unmarshaling job context: %w", err)
	}
	return j, nil
}

// ExecutionRepo implements execution.Repository on top of a SQLite *sql.DB.
type ExecutionRepo struct{ db *sql.DB }

func NewExecutionRepo(db *sql.DB) *ExecutionRepo { return &ExecutionRepo{db: db} }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeExecution(ctx context.Context, db execer, state *execution.State, upsert bool) error {
	ctxJSON, err := ToJSONText(state.Context)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}
	q := `INSERT INTO executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if upsert {
		q += ` ON CONFLICT (id) DO UPDATE SET
            current_node_id = excluded.current_node_id, context = excluded.context, status = excluded.status,
            resume_at = excluded.resume_at, error = excluded.error, updated_at = excluded.updated_at`
	}
	_, err = db.ExecContext(
		ctx, q,
		string(state.ID), string(state.WorkflowID), string(state.QueueEntryID), state.CurrentNodeID, ctxJSON,
		string(state.Status), nullNano(state.ResumeAt), state.Error, toNano(state.CreatedAt), toNano(state.UpdatedAt),
	)
	return err
}

func (r *ExecutionRepo) CreateExecution(ctx context.Context, state *execution.State) error {
	if err := state.Check(); err != nil {
		return err
	}
	if err := writeExecution(ctx, r.db, state, false); err != nil {
		return fmt.Errorf("sqlite: create execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepo) SaveExecution(ctx context.Context, state *execution.State) error {
	if err := state.Check(); err != nil {
		return err
	}
	ctxJSON, err := ToJSONText(state.Context)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE executions SET current_node_id = ?, context = ?, status = ?, resume_at = ?, error = ?, updated_at = ?
        WHERE id = ?`,
		state.CurrentNodeID, ctxJSON, string(state.Status), nullNano(state.ResumeAt), state.Error,
		toNano(state.UpdatedAt), string(state.ID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrExecutionNotFound
	}
	return nil
}

func (r *ExecutionRepo) GetExecution(ctx context.Context, id core.ID) (*execution.State, error) {
	var row executionRow
	if err := sqlscan.Get(
		ctx, r.db, &row,
		"SELECT "+executionColumns+" FROM executions WHERE id = ?", string(id),
	); err != nil {
		if isNoRows(err) {
			return nil, core.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("sqlite: get execution: %w", err)
	}
	return row.toState()
}

func (r *ExecutionRepo) ListExecutions(ctx context.Context, filter execution.ListFilter) ([]*execution.State, error) {
	sb := squirrel.Select(executionColumns).From("executions").OrderBy("created_at", "id")
	if !filter.WorkflowID.IsZero() {
		sb = sb.Where(squirrel.Eq{"workflow_id": string(filter.WorkflowID)})
	}
	if !filter.QueueEntryID.IsZero() {
		sb = sb.Where(squirrel.Eq{"queue_entry_id": string(filter.QueueEntryID)})
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
	if err := sqlscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: list executions: %w", err)
	}
	out := make([]*execution.State, 0, len(rows))
	for _, row := range rows {
		st, err := row.toState()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *ExecutionRepo) SuspendExecution(ctx context.Context, state *execution.State, job *execution.Job) error {
	if err := state.Check(); err != nil {
		return err
	}
	jobCtx, err := ToJSONText(job.Context)
	if err != nil {
		return fmt.Errorf("marshaling job context: %w", err)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := writeExecution(ctx, tx, state, true); err != nil {
			return fmt.Errorf("sqlite: save waiting execution: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO scheduled_jobs (id, execution_id, node_id, ready_at, context, status, retry_count, last_error, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(job.ID), string(job.ExecutionID), job.NodeID, toNano(job.ReadyAt), jobCtx,
			string(job.Status), job.RetryCount, job.LastError, toNano(job.CreatedAt),
		); err != nil {
			return fmt.Errorf("sqlite: insert scheduled job: %w", err)
		}
		return nil
	})
}

func (r *ExecutionRepo) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*execution.Job, error) {
	sb := squirrel.Select(jobColumns).
		From("scheduled_jobs").
		Where(squirrel.Eq{"status": string(execution.JobPending)}).
		Where(squirrel.LtOrEq{"ready_at": toNano(now)}).
		OrderBy("ready_at", "id")
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*jobRow
	if err := sqlscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: list due jobs: %w", err)
	}
	out := make([]*execution.Job, 0, len(rows))
	for _, row := range rows {
		j, err := row.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *ExecutionRepo) ClaimJob(ctx context.Context, id core.ID, now time.Time) (*execution.Job, error) {
	var row jobRow
	err := sqlscan.Get(
		ctx, r.db, &row,
		`UPDATE scheduled_jobs SET status = 'claimed', claimed_at = ?2
        WHERE id = ?1 AND status = 'pending' AND ready_at <= ?2
        RETURNING `+jobColumns,
		string(id), toNano(now),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, r.jobConflict(ctx, id)
		}
		return nil, fmt.Errorf("sqlite: claim job: %w", err)
	}
	return row.toJob()
}

func (r *ExecutionRepo) CompleteJob(ctx context.Context, id core.ID, _ time.Time) error {
	res, err := r.db.ExecContext(
		ctx, `UPDATE scheduled_jobs SET status = 'done' WHERE id = ? AND status = 'claimed'`, string(id),
	)
	if err != nil {
		return fmt.Errorf("sqlite: complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var row jobRow
		if err := sqlscan.Get(
			ctx, tx, &row,
			"SELECT "+jobColumns+" FROM scheduled_jobs WHERE id = ?", string(id),
		); err != nil {
			if isNoRows(err) {
				return core.ErrJobNotFound
			}
			return fmt.Errorf("sqlite: read job: %w", err)
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
// or back to waiting on the job's node. A completed execution is left alone.
func applyJobFailure(
	ctx context.Context,
	tx *sql.Tx,
	job *execution.Job,
	failure execution.JobFailure,
	now time.Time,
) error {
	failed := failure.Apply(job)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE scheduled_jobs SET status = ?, retry_count = ?, last_error = ?, ready_at = ?, claimed_at = NULL
            WHERE id = ?`,
		string(job.Status), job.RetryCount, job.LastError, toNano(job.ReadyAt), string(job.ID),
	); err != nil {
		return fmt.Errorf("sqlite: update job: %w", err)
	}
	var err error
	if failed {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE executions SET status = 'failed', resume_at = NULL, error = ?, updated_at = ?
            WHERE id = ? AND status <> 'completed'`,
			job.LastError, toNano(now), string(job.ExecutionID),
		)
	} else {
		var ctxJSON string
		if ctxJSON, err = ToJSONText(job.Context); err != nil {
			return fmt.Errorf("marshaling job context: %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			`UPDATE executions SET status = 'waiting', resume_at = ?, current_node_id = ?, context = ?, error = '',
            updated_at = ? WHERE id = ? AND status <> 'completed'`,
			toNano(job.ReadyAt), job.NodeID, ctxJSON, toNano(now), string(job.ExecutionID),
		)
	}
	if err != nil {
		return fmt.Errorf("sqlite: update execution: %w", err)
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
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var rows []jobRow
		if err := sqlscan.Select(
			ctx, tx, &rows,
			"SELECT "+jobColumns+" FROM scheduled_jobs WHERE status = 'claimed' AND claimed_at < ? ORDER BY claimed_at",
			toNano(claimedBefore),
		); err != nil {
			return fmt.Errorf("sqlite: read stale jobs: %w", err)
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
		return 0, fmt.Errorf("sqlite: release stale jobs: %w", err)
	}
	return released, nil
}

func (r *ExecutionRepo) jobConflict(ctx context.Context, id core.ID) error {
	var status string
	err := r.db.QueryRowContext(ctx, "SELECT status FROM scheduled_jobs WHERE id = ?", string(id)).Scan(&status)
	if isNoRows(err) {
		return core.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: read job status: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s", core.ErrClaimConflict, id, status)
}
