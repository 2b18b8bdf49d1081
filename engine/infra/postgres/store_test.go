package postgres

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPoolConfig(t *testing.T) {
	t.Run("Should synthesize a DSN and apply the pool size", func(t *testing.T) {
		poolCfg, err := buildPoolConfig(&Config{Host: "db", DBName: "flows", MaxConns: 7})
		require.NoError(t, err)
		assert.Equal(t, "db", poolCfg.ConnConfig.Host)
		assert.Equal(t, "flows", poolCfg.ConnConfig.Database)
		assert.Equal(t, int32(7), poolCfg.MaxConns)
	})

	t.Run("Should reject a malformed connection string", func(t *testing.T) {
		_, err := buildPoolConfig(&Config{ConnString: "postgres://%zz"})
		assert.Error(t, err)
	})
}

func TestMaxConns(t *testing.T) {
	t.Run("Should default non-positive values", func(t *testing.T) {
		assert.Equal(t, int32(defaultMaxConns), maxConns(0))
		assert.Equal(t, int32(defaultMaxConns), maxConns(-3))
	})

	t.Run("Should clamp to int32", func(t *testing.T) {
		assert.Equal(t, int32(math.MaxInt32), maxConns(math.MaxInt32+1))
	})
}

func TestPoolLabel(t *testing.T) {
	t.Run("Should join host and database", func(t *testing.T) {
		assert.Equal(t, "db.internal/flows", poolLabel(&Config{Host: " DB.internal ", DBName: "flows"}))
	})

	t.Run("Should fall back to default", func(t *testing.T) {
		assert.Equal(t, "default", poolLabel(&Config{}))
	})
}

func TestConfig_DSN(t *testing.T) {
	t.Run("Should prefer the explicit connection string", func(t *testing.T) {
		cfg := &Config{ConnString: "postgres://u@h/db", Host: "ignored"}
		assert.Equal(t, "postgres://u@h/db", cfg.DSN())
	})

	t.Run("Should build a URL with defaults and escaped credentials", func(t *testing.T) {
		cfg := &Config{Host: "db", User: "flow", Password: "p@ss word"}
		assert.Equal(t, "postgres://flow:p%40ss%20word@db:5432/autoflow?sslmode=disable", cfg.DSN())
	})
}
