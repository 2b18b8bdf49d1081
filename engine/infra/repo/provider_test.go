package repo

import (
	"path/filepath"
	"testing"

	"github.com/compozy/autoflow/engine/infra/memstore"
	"github.com/compozy/autoflow/engine/infra/sqlite"
	"github.com/compozy/autoflow/engine/store"
	"github.com/compozy/autoflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("Should open the memory store", func(t *testing.T) {
		s, err := Open(t.Context(), &config.DatabaseConfig{Driver: store.DriverMemory})
		require.NoError(t, err)
		assert.IsType(t, &memstore.Store{}, s)
		require.NoError(t, s.HealthCheck(t.Context()))
	})

	t.Run("Should open and migrate an in-memory sqlite store", func(t *testing.T) {
		s, err := Open(t.Context(), &config.DatabaseConfig{Driver: store.DriverSQLite, SQLitePath: ":memory:"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(t.Context()) })
		assert.IsType(t, &sqlite.Store{}, s)
		ids, err := s.FindByTrigger(t.Context(), "webhook", "nothing", "")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Should migrate a sqlite file when auto migrate is set", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data", "autoflow.db")
		cfg := &config.DatabaseConfig{Driver: store.DriverSQLite, SQLitePath: path, AutoMigrate: true}
		s, err := Open(t.Context(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(t.Context()) })
		_, err = s.ListActiveDefinitions(t.Context())
		require.NoError(t, err)
		require.NoError(t, Migrate(t.Context(), cfg))
	})

	t.Run("Should reject unknown drivers", func(t *testing.T) {
		_, err := Open(t.Context(), &config.DatabaseConfig{Driver: "mysql"})
		assert.ErrorContains(t, err, "unsupported database driver")
		_, err = Open(t.Context(), nil)
		assert.Error(t, err)
	})

	t.Run("Should refuse migrations for the memory driver", func(t *testing.T) {
		assert.Error(t, Migrate(t.Context(), &config.DatabaseConfig{Driver: store.DriverMemory}))
	})
}
