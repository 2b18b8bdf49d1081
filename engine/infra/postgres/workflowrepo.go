package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

const definitionColumns = "id, owner_id, name, is_active, nodes, edges, created_at, updated_at"

type definitionRow struct {
	ID        core.ID   `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Name      string    `db:"name"`
	IsActive  bool      `db:"is_active"`
	Nodes     []byte    `db:"nodes"`
	Edges     []byte    `db:"edges"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *definitionRow) toDefinition() (*workflow.Definition, error) {
	d := &workflow.Definition{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := FromJSONB(r.Nodes, &d.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshaling nodes: %w", err)
	}
	if err := FromJSONB(r.Edges, &d.Edges); err != nil {
		return nil, fmt.Errorf("unmarshaling edges: %w", err)
	}
	return d, nil
}

// WorkflowRepo implements workflow.Repository.
type WorkflowRepo struct {
	db DB
}

func NewWorkflowRepo(db DB) *WorkflowRepo {
	return &WorkflowRepo{db: db}
}

func (r *WorkflowRepo) SaveDefinition(ctx context.Context, d *workflow.Definition) error {
	entry, err := d.IndexEntry()
	if err != nil {
		return fmt.Errorf("postgres: index workflow %s: %w", d.ID, err)
	}
	nodes, err := ToJSONB(d.Nodes)
	if err != nil {
		return fmt.Errorf("marshaling nodes: %w", err)
	}
	edges, err := ToJSONB(d.Edges)
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
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            owner_id = EXCLUDED.owner_id, name = EXCLUDED.name, is_active = EXCLUDED.is_active,
            nodes = EXCLUDED.nodes, edges = EXCLUDED.edges, updated_at = EXCLUDED.updated_at
        RETURNING created_at
    `
	const upsertIndex = `
        INSERT INTO trigger_index (workflow_id, trigger_type, routing_key, owner_id)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (workflow_id) DO UPDATE SET
            trigger_type = EXCLUDED.trigger_type, routing_key = EXCLUDED.routing_key, owner_id = EXCLUDED.owner_id
    `
	return withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(
			ctx,
			upsertDefinition,
			d.ID, d.OwnerID, d.Name, d.IsActive, nodes, edges, created, now,
		).Scan(&d.CreatedAt); err != nil {
			return fmt.Errorf("upserting definition: %w", err)
		}
		d.UpdatedAt = now
		if _, err := tx.Exec(
			ctx,
			upsertIndex,
			entry.WorkflowID, string(entry.TriggerType), entry.RoutingKey, entry.OwnerID,
		); err != nil {
			return fmt.Errorf("upserting trigger index: %w", err)
		}
		return nil
	})
}

func (r *WorkflowRepo) GetDefinition(ctx context.Context, id core.ID) (*workflow.Definition, error) {
	var row definitionRow
	query := "SELECT " + definitionColumns + " FROM workflow_definitions WHERE id = $1"
	if err := pgxscan.Get(ctx, r.db, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, core.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("scanning definition: %w", err)
	}
	return row.toDefinition()
}

func (r *WorkflowRepo) ListActiveDefinitions(ctx context.Context) ([]*workflow.Definition, error) {
	var rows []*definitionRow
	query := "SELECT " + definitionColumns + " FROM workflow_definitions WHERE is_active ORDER BY created_at, id"
	if err := pgxscan.Select(ctx, r.db, &rows, query); err != nil {
		return nil, fmt.Errorf("scanning definitions: %w", err)
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
		Where("d.is_active").
		OrderBy("t.workflow_id").
		PlaceholderFormat(squirrel.Dollar)
	if ownerID != "" {
		sb = sb.Where(squirrel.Eq{"t.owner_id": ownerID})
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var ids []core.ID
	if err := pgxscan.Select(ctx, r.db, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("scanning trigger index: %w", err)
	}
	return ids, nil
}
