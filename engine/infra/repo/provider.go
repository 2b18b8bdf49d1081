// Package repo opens the durable store selected by configuration.
package repo

import (
	"context"
	"fmt"

	"github.com/compozy/autoflow/engine/infra/memstore"
	"github.com/compozy/autoflow/engine/infra/postgres"
	"github.com/compozy/autoflow/engine/infra/sqlite"
	"github.com/compozy/autoflow/engine/store"
	"github.com/compozy/autoflow/pkg/config"
	"github.com/compozy/autoflow/pkg/logger"
)

// Open returns the store for cfg.Driver. SQL drivers run their migrations
// when AutoMigrate is set; in-memory SQLite always migrates.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	log := logger.FromContext(ctx).With("store_driver", cfg.Driver)
	switch cfg.Driver {
	case store.DriverPostgres:
		pgCfg := postgres.FromAppConfig(cfg)
		if cfg.AutoMigrate {
			if err := postgres.ApplyMigrationsWithLock(ctx, pgCfg.DSN()); err != nil {
				return nil, fmt.Errorf("failed to migrate postgres: %w", err)
			}
			log.Info("Postgres migrations applied")
		}
		s, err := postgres.NewStore(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case store.DriverSQLite:
		liteCfg := sqlite.FromAppConfig(cfg)
		s, err := sqlite.NewStore(ctx, liteCfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate || liteCfg.Path == ":memory:" {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close(ctx)
				return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
			}
			log.Info("SQLite migrations applied")
		}
		return s, nil
	case store.DriverMemory, "":
		log.Warn("Using in-memory store; state is lost on restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate applies schema migrations for SQL drivers without opening a store.
func Migrate(ctx context.Context, cfg *config.DatabaseConfig) error {
	switch cfg.Driver {
	case store.DriverPostgres:
		return postgres.ApplyMigrationsWithLock(ctx, postgres.FromAppConfig(cfg).DSN())
	case store.DriverSQLite:
		return sqlite.ApplyMigrations(ctx, sqlite.FromAppConfig(cfg).Path)
	default:
		return fmt.Errorf("driver %q has no migrations", cfg.Driver)
	}
}
