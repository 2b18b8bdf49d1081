package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/georgysavva/scany/v2/sqlscan"
)

const entryColumns = "id, workflow_id, trigger_type, trigger_data, status, retry_count, last_error, " +
	"created_at, claimed_at, processed_at"

// A single UPDATE holds the database write lock, so concurrent claims are
// serialized and never overlap.
const claimEntriesQuery = `
    UPDATE trigger_queue SET status = 'processing', claimed_at = ?3
    WHERE id IN (
        SELECT id FROM trigger_queue
        WHERE status = 'pending' AND retry_count < ?2
        ORDER BY created_at, id
        LIMIT ?1
    )
    RETURNING ` + entryColumns

// failAssignments mirrors queue.Failure.Apply. Parameters: ?2 now,
// ?3 terminal, ?4 max retries, ?5 exhausted message, ?6 message.
const failAssignments = `
    retry_count = retry_count + 1,
    status = CASE WHEN ?3 OR retry_count + 1 >= ?4 THEN 'failed' ELSE 'pending' END,
    last_error = CASE WHEN NOT ?3 AND retry_count + 1 >= ?4 THEN ?5 ELSE ?6 END,
    processed_at = CASE WHEN ?3 OR retry_count + 1 >= ?4 THEN ?2 ELSE processed_at END,
    claimed_at = NULL`

type entryRow struct {
	ID          string        `db:"id"`
	WorkflowID  string        `db:"workflow_id"`
	TriggerType string        `db:"trigger_type"`
	TriggerData string        `db:"trigger_data"`
	Status      string        `db:"status"`
	RetryCount  int           `db:"retry_count"`
	LastError   string        `db:"last_error"`
	CreatedAt   int64         `db:"created_at"`
	ClaimedAt   sql.NullInt64 `db:"claimed_at"`
	ProcessedAt sql.NullInt64 `db:"processed_at"`
}

func (r *entryRow) toEntry() (*queue.Entry, error) {
	e := &queue.Entry{
		ID:          core.ID(r.ID),
		WorkflowID:  core.ID(r.WorkflowID),
		TriggerType: core.TriggerType(r.TriggerType),
		Status:      queue.Status(r.Status),
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
		CreatedAt:   fromNano(r.CreatedAt),
		ClaimedAt:   fromNullNano(r.ClaimedAt),
		ProcessedAt: fromNullNano(r.ProcessedAt),
	}
	if err := FromJSONText(r.TriggerData, &e.TriggerData); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger data: %w", err)
	}
	return e, nil
}

// QueueRepo implements queue.Repository on top of a SQLite *sql.DB.
type QueueRepo struct{ db *sql.DB }

func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

func (r *QueueRepo) EnqueueEntry(ctx context.Context, entry *queue.Entry) error {
	data, err := ToJSONText(entry.TriggerData)
	if err != nil {
		return fmt.Errorf("marshaling trigger data: %w", err)
	}
	const q = `INSERT INTO trigger_queue (id, workflow_id, trigger_type, trigger_data, status, retry_count, last_error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(
		ctx, q,
		string(entry.ID), string(entry.WorkflowID), string(entry.TriggerType), data,
		string(entry.Status), entry.RetryCount, entry.LastError, toNano(entry.CreatedAt),
	); err != nil {
		return fmt.Errorf("sqlite: enqueue entry: %w", err)
	}
	return nil
}

func (r *QueueRepo) ClaimEntries(ctx context.Context, limit int, maxRetries int, now time.Time) ([]*queue.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []*entryRow
	if err := sqlscan.Select(ctx, r.db, &rows, claimEntriesQuery, limit, maxRetries, toNano(now)); err != nil {
		return nil, fmt.Errorf("sqlite: claim entries: %w", err)
	}
	out := make([]*queue.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *queue.Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *QueueRepo) CompleteEntry(ctx context.Context, id core.ID, now time.Time) error {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE trigger_queue SET status = 'completed', processed_at = ? WHERE id = ? AND status = 'processing'`,
		toNano(now), string(id),
	)
	if err != nil {
		return fmt.Errorf("sqlite: complete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.conflict(ctx, id)
	}
	return nil
}

func (r *QueueRepo) FailEntry(ctx context.Context, id core.ID, failure queue.Failure, now time.Time) (*queue.Entry, error) {
	query := "UPDATE trigger_queue SET " + failAssignments +
		" WHERE id = ?1 AND status = 'processing' RETURNING " + entryColumns
	var row entryRow
	err := sqlscan.Get(
		ctx, r.db, &row, query,
		string(id), toNano(now), failure.Terminal, failure.MaxRetries, failure.ExhaustedMessage, failure.Message,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, r.conflict(ctx, id)
		}
		return nil, fmt.Errorf("sqlite: fail entry: %w", err)
	}
	return row.toEntry()
}

func (r *QueueRepo) ReclaimEntries(
	ctx context.Context,
	claimedBefore time.Time,
	failure queue.Failure,
	now time.Time,
) (int, error) {
	query := "UPDATE trigger_queue SET " + failAssignments +
		" WHERE status = 'processing' AND claimed_at < ?1"
	res, err := r.db.ExecContext(
		ctx, query,
		toNano(claimedBefore), toNano(now), failure.Terminal, failure.MaxRetries, failure.ExhaustedMessage, failure.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reclaim entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reclaim entries: %w", err)
	}
	return int(n), nil
}

func (r *QueueRepo) GetEntry(ctx context.Context, id core.ID) (*queue.Entry, error) {
	var row entryRow
	if err := sqlscan.Get(
		ctx, r.db, &row,
		"SELECT "+entryColumns+" FROM trigger_queue WHERE id = ?", string(id),
	); err != nil {
		if isNoRows(err) {
			return nil, core.ErrEntryNotFound
		}
		return nil, fmt.Errorf("sqlite: get entry: %w", err)
	}
	return row.toEntry()
}

func (r *QueueRepo) conflict(ctx context.Context, id core.ID) error {
	var status string
	err := r.db.QueryRowContext(ctx, "SELECT status FROM trigger_queue WHERE id = ?", string(id)).Scan(&status)
	if isNoRows(err) {
		return core.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: read entry status: %w", err)
	}
	return fmt.Errorf("%w: entry %s is %s", core.ErrClaimConflict, id, status)
}
