package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schemaTables = []string{"workflow_definitions", "trigger_index", "trigger_queue", "executions", "scheduled_jobs"}

func TestMigrations(t *testing.T) {
	t.Run("Should create all required tables", func(t *testing.T) {
		ctx := t.Context()
		dbPath := filepath.Join(t.TempDir(), "tables.db")
		require.NoError(t, ApplyMigrations(ctx, dbPath))

		db := openTestSQLite(ctx, t, dbPath)
		names := make(map[string]bool)
		rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
		require.NoError(t, err)
		defer rows.Close()
		for rows.Next() {
			var name string
			require.NoError(t, rows.Scan(&name))
			names[name] = true
		}
		require.NoError(t, rows.Err())
		for _, table := range schemaTables {
			assert.Truef(t, names[table], "expected table %s to exist", table)
		}
	})

	t.Run("Should create lookup indexes", func(t *testing.T) {
		ctx := t.Context()
		dbPath := filepath.Join(t.TempDir(), "indexes.db")
		require.NoError(t, ApplyMigrations(ctx, dbPath))

		db := openTestSQLite(ctx, t, dbPath)
		for _, idx := range []string{
			"idx_trigger_index_lookup",
			"idx_trigger_queue_claimable",
			"idx_executions_workflow_id",
			"idx_scheduled_jobs_due",
		} {
			var n int
			require.NoError(t, db.QueryRowContext(
				ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", idx,
			).Scan(&n))
			assert.Equalf(t, 1, n, "expected index %s to exist", idx)
		}
	})

	t.Run("Should enforce the waiting and resume_at pairing", func(t *testing.T) {
		ctx := t.Context()
		dbPath := filepath.Join(t.TempDir(), "check.db")
		require.NoError(t, ApplyMigrations(ctx, dbPath))

		db := openTestSQLite(ctx, t, dbPath)
		_, err := db.ExecContext(ctx,
			`INSERT INTO executions (id, workflow_id, status, created_at, updated_at) VALUES ('x', 'wf', 'waiting', 1, 1)`)
		assert.Error(t, err)
		_, err = db.ExecContext(ctx,
			`INSERT INTO executions (id, workflow_id, status, resume_at, created_at, updated_at) VALUES ('y', 'wf', 'running', 5, 1, 1)`)
		assert.Error(t, err)
	})

	t.Run("Should enforce foreign keys on scheduled jobs", func(t *testing.T) {
		ctx := t.Context()
		dbPath := filepath.Join(t.TempDir(), "fk.db")
		require.NoError(t, ApplyMigrations(ctx, dbPath))

		db := openTestSQLite(ctx, t, dbPath)
		_, err := db.ExecContext(ctx,
			`INSERT INTO scheduled_jobs (id, execution_id, node_id, ready_at, status, created_at)
			 VALUES ('j', 'missing', 'n', 1, 'pending', 1)`)
		require.Error(t, err)
	})

	t.Run("Should rollback migrations", func(t *testing.T) {
		ctx := t.Context()
		dbPath := filepath.Join(t.TempDir(), "rollback.db")
		require.NoError(t, ApplyMigrations(ctx, dbPath))

		db := openTestSQLite(ctx, t, dbPath)
		provider, err := newMigrationProvider(db)
		require.NoError(t, err)
		_, err = provider.DownTo(ctx, 0)
		require.NoError(t, err)
		version, err := provider.GetDBVersion(ctx)
		require.NoError(t, err)
		assert.Zero(t, version)

		var count int
		require.NoError(t, db.QueryRowContext(
			ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('trigger_queue', 'executions')",
		).Scan(&count))
		assert.Equal(t, 0, count)
	})

	t.Run("Should be idempotent", func(t *testing.T) {
		ctx := t.Context()
		dbPath := filepath.Join(t.TempDir(), "idempotent.db")
		require.NoError(t, ApplyMigrations(ctx, dbPath))
		require.NoError(t, ApplyMigrations(ctx, dbPath))
	})

	t.Run("Should refuse in-memory paths", func(t *testing.T) {
		assert.Error(t, ApplyMigrations(t.Context(), ":memory:"))
	})
}

func openTestSQLite(ctx context.Context, t *testing.T, dbPath string) *sql.DB {
	t.Helper()
	dsn, _, err := buildDSN(&Config{Path: dbPath})
	require.NoError(t, err)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}
