package postgres

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/georgysavva/scany/v2/pgxscan"
)

const entryColumns = "id, workflow_id, trigger_type, trigger_data, status, retry_count, last_error, " +
	"created_at, claimed_at, processed_at"

// claimEntriesQuery takes the oldest claimable rows. SKIP LOCKED keeps
// concurrent claimers from blocking on, or double-claiming, the same rows.
const claimEntriesQuery = `
    UPDATE trigger_queue SET status = 'processing', claimed_at = $3
    WHERE id IN (
        SELECT id FROM trigger_queue
        WHERE status = 'pending' AND retry_count < $2
        ORDER BY created_at, id
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    )
    RETURNING ` + entryColumns

// failAssignments mirrors queue.Failure.Apply. Parameters: $2 now,
// $3 terminal, $4 max retries, $5 exhausted message, $6 message.
const failAssignments = `
    retry_count = retry_count + 1,
    status = CASE WHEN $3::boolean OR retry_count + 1 >= $4::integer THEN 'failed' ELSE 'pending' END,
    last_error = CASE WHEN NOT $3::boolean AND retry_count + 1 >= $4::integer THEN $5::text ELSE $6::text END,
    processed_at = CASE WHEN $3::boolean OR retry_count + 1 >= $4::integer THEN $2::timestamptz ELSE processed_at END,
    claimed_at = NULL`

type entryRow struct {
	ID          core.ID    `db:"id"`
	WorkflowID  core.ID    `db:"workflow_id"`
	TriggerType string     `db:"trigger_type"`
	TriggerData []byte     `db:"trigger_data"`
	Status      string     `db:"status"`
	RetryCount  int        `db:"retry_count"`
	LastError   string     `db:"last_error"`
	CreatedAt   time.Time  `db:"created_at"`
	ClaimedAt   *time.Time `db:"claimed_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}

func (r *entryRow) toEntry() (*queue.Entry, error) {
	e := &queue.Entry{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		TriggerType: core.TriggerType(r.TriggerType),
		Status:      queue.Status(r.Status),
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
		ClaimedAt:   r.ClaimedAt,
		ProcessedAt: r.ProcessedAt,
	}
	if err := FromJSONB(r.TriggerData, &e.TriggerData); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger data: %w", err)
	}
	return e, nil
}

// QueueRepo implements queue.Repository.
type QueueRepo struct {
	db DB
}

func NewQueueRepo(db DB) *QueueRepo {
	return &QueueRepo{db: db}
}

func (r *QueueRepo) EnqueueEntry(ctx context.Context, entry *queue.Entry) error {
	data, err := ToJSONB(entry.TriggerData)
	if err != nil {
		return fmt.Errorf("marshaling trigger data: %w", err)
	}
	const query = `
        INSERT INTO trigger_queue (id, workflow_id, trigger_type, trigger_data, status, retry_count, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	if _, err := r.db.Exec(
		ctx,
		query,
		entry.ID,
		entry.WorkflowID,
		string(entry.TriggerType),
		data,
		string(entry.Status),
		entry.RetryCount,
		entry.LastError,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting queue entry: %w", err)
	}
	return nil
}

func (r *QueueRepo) ClaimEntries(ctx context.Context, limit int, maxRetries int, now time.Time) ([]*queue.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []*entryRow
	if err := pgxscan.Select(ctx, r.db, &rows, claimEntriesQuery, limit, maxRetries, now); err != nil {
		return nil, fmt.Errorf("claiming queue entries: %w", err)
	}
	out, err := toEntries(rows)
	if err != nil {
		return nil, err
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
	const query = `UPDATE trigger_queue SET status = 'completed', processed_at = $2 WHERE id = $1 AND status = 'processing'`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("completing queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflict(ctx, id)
	}
	return nil
}

func (r *QueueRepo) FailEntry(ctx context.Context, id core.ID, failure queue.Failure, now time.Time) (*queue.Entry, error) {
	query := "UPDATE trigger_queue SET " + failAssignments +
		" WHERE id = $1 AND status = 'processing' RETURNING " + entryColumns
	var row entryRow
	err := pgxscan.Get(
		ctx, r.db, &row, query,
		id, now, failure.Terminal, failure.MaxRetries, failure.ExhaustedMessage, failure.Message,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, r.conflict(ctx, id)
		}
		return nil, fmt.Errorf("failing queue entry: %w", err)
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
		" WHERE status = 'processing' AND claimed_at < $1"
	tag, err := r.db.Exec(
		ctx, query,
		claimedBefore, now, failure.Terminal, failure.MaxRetries, failure.ExhaustedMessage, failure.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaiming queue entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *QueueRepo) GetEntry(ctx context.Context, id core.ID) (*queue.Entry, error) {
	var row entryRow
	query := "SELECT " + entryColumns + " FROM trigger_queue WHERE id = $1"
	if err := pgxscan.Get(ctx, r.db, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, core.ErrEntryNotFound
		}
		return nil, fmt.Errorf("scanning queue entry: %w", err)
	}
	return row.toEntry()
}

// conflict explains why a guarded update touched no row.
func (r *QueueRepo) conflict(ctx context.Context, id core.ID) error {
	var status string
	err := r.db.QueryRow(ctx, "SELECT status FROM trigger_queue WHERE id = $1", id).Scan(&status)
	if isNoRows(err) {
		return core.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("reading queue entry status: %w", err)
	}
	return fmt.Errorf("%w: entry %s is %s", core.ErrClaimConflict, id, status)
}

func toEntries(rows []*entryRow) ([]*queue.Entry, error) {
	out := make([]*queue.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			return nil, fmt.Errorf("converting entry %s: %w", row.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
