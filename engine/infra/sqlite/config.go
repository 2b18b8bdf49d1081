package sqlite

import (
	"time"

	"github.com/compozy/autoflow/pkg/config"
)

const (
	memoryPath         = ":memory:"
	defaultBusyTimeout = 5 * time.Second
)

// Config captures SQLite store configuration derived from application settings.
type Config struct {
	// Path is the database location or ":memory:" for in-memory deployments.
	Path string

	// MaxOpenConns controls the pool size exposed by database/sql.
	// In-memory databases always use a single connection.
	MaxOpenConns int

	// MaxIdleConns limits idle connections retained in the pool.
	MaxIdleConns int

	// ConnMaxLifetime bounds connection reuse duration.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime bounds idle connection retention.
	ConnMaxIdleTime time.Duration

	// BusyTimeout configures sqlite busy timeout via PRAGMA busy_timeout.
	BusyTimeout time.Duration
}

// FromAppConfig maps the application database section onto the driver config.
func FromAppConfig(cfg *config.DatabaseConfig) *Config {
	if cfg == nil || cfg.SQLitePath == "" {
		return &Config{Path: memoryPath}
	}
	return &Config{Path: cfg.SQLitePath, MaxOpenConns: cfg.MaxConns}
}

func (c *Config) inMemory() bool {
	return c.Path == memoryPath || c.Path == ""
}
