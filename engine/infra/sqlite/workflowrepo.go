package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/georgysavva/scany/v2/sqlscan"
)

const definitionColumns = "id, owner_id, name, is_active, nodes, edges, created_at, updated_at"

type definitionRow struct {
	ID        string `db:"id"`
	OwnerID   string `db:"owner_id"`
	Name      string `db:"name"`
	IsActive  bool   `db:"is_active"`
	Nodes     string `db:"nodes"`
	Edges     string `db:"edges"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r *definitionRow) toDefinition() (*workflow.Definition, error) {
	d := &workflow.Definition{
		ID:        core.ID(r.ID),
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		IsActive:  r.IsActive,
		CreatedAt: fromNano(r.CreatedAt),
		UpdatedAt: fromNano(r.UpdatedAt),
	}
	if err := FromJSONText(r.Nodes, &d.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshaling nodes: %w", err)
	}
	if err := FromJSONText(r.Edges, &d.Edges); err != nil {
		return nil, fmt.Errorf("unmarshaling edges: %w", err)
	}
	return d, nil
}

// WorkflowRepo implements workflow.Repository on top of a SQLite *sql.DB.
type WorkflowRepo struct{ db *sql.DB }

func NewWorkflowRepo(db *sql.DB) *WorkflowRepo { return &WorkflowRepo{db: db} }

func (r *WorkflowRepo) SaveDefinition(ctx context.Context, d *workflow.Definition) error {
	entry, err := d.IndexEntry()
	if err != nil {
		return fmt.Errorf("sqlite: index workflow %s: %w", d.ID, err)
	}
	nodes, err := ToJSONText(d.Nodes)
	if err != nil {
		return fmt.Errorf("marshaling nodes: %w", err)
	}
	edges, err := ToJSONText(d.Edges)
	if err != nil {
		return fmt.Errorf("marshaling edges: %w", err)
	}
	now := time.Now().UTC()
	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}
	const upsertDefinition = `
        INSERT INTO workflow_definitions (id, owner_id, name, is_active, nodes, edges, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            owner_id = excluded.owner_id, name = excluded.name, is_active = excluded.is_active,
            nodes = excluded.nodes, edges = excluded.edges, updated_at = excluded.updated_at
        RETURNING created_at`
	const upsertIndex = `
        INSERT INTO trigger_index (workflow_id, trigger_type, routing_key, owner_id)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (workflow_id) DO UPDATE SET
            trigger_type = excluded.trigger_type, routing_key = excluded.routing_key, owner_id = excluded.owner_id`
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var createdNano int64
		if err := tx.QueryRowContext(
			ctx, upsertDefinition,
			string(d.ID), d.OwnerID, d.Name, d.IsActive, nodes, edges, toNano(created), toNano(now),
		).Scan(&createdNano); err != nil {
			return fmt.Errorf("sqlite: upsert definition: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx, upsertIndex,
			string(entry.WorkflowID), string(entry.TriggerType), entry.RoutingKey, entry.OwnerID,
		); err != nil {
			return fmt.Errorf("sqlite: upsert trigger index: %w", err)
		}
		d.CreatedAt = fromNano(createdNano)
		d.UpdatedAt = now
		return nil
	})
}

func (r *WorkflowRepo) GetDefinition(ctx context.Context, id core.ID) (*workflow.Definition, error) {
	var row definitionRow
	query := "SELECT " + definitionColumns + " FROM workflow_definitions WHERE id = ?"
	if err := sqlscan.Get(ctx, r.db, &row, query, string(id)); err != nil {
		if isNoRows(err) {
			return nil, core.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("sqlite: get definition: %w", err)
	}
	return row.toDefinition()
}

func (r *WorkflowRepo) ListActiveDefinitions(ctx context.Context) ([]*workflow.Definition, error) {
	var rows []*definitionRow
	query := "SELECT " + definitionColumns + " FROM workflow_definitions WHERE is_active = 1 ORDER BY created_at, id"
	if err := sqlscan.Select(ctx, r.db, &rows, query); err != nil {
		return nil, fmt.Errorf("sqlite: list definitions: %w", err)
	}
	out := make([]*workflow.Definition, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("converting definition %s: %w", row.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *WorkflowRepo) FindByTrigger(
	ctx context.Context,
	triggerType core.TriggerType,
	key string,
	ownerID string,
) ([]core.ID, error) {
	sb := squirrel.Select("t.workflow_id").
		From("trigger_index t").
		Join("workflow_definitions d ON d.id = t.workflow_id").
		Where(squirrel.Eq{"t.trigger_type": string(triggerType), "t.routing_key": key}).
		Where("d.is_active = 1").
		OrderBy("t.workflow_id")
	if ownerID != "" {
		sb = sb.Where(squirrel.Eq{"t.owner_id": ownerID})
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var raw []string
	if err := sqlscan.Select(ctx, r.db, &raw, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: find by trigger: %w", err)
	}
	ids := make([]core.ID, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, core.ID(id))
	}
	return ids, nil
}
