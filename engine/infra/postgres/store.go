package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/compozy/autoflow/engine/store"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns           = 20
	defaultHealthCheckPeriod  = 30 * time.Second
	defaultConnectTimeout     = 5 * time.Second
	defaultPingTimeout        = 3 * time.Second
	defaultHealthCheckTimeout = time.Second
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL driver backed by pgxpool.Pool. The embedded repos
// provide the engine repositories; pgx types stay inside this package.
type Store struct {
	*WorkflowRepo
	*QueueRepo
	*ExecutionRepo
	pool               *pgxpool.Pool
	metrics            *poolMetrics
	healthCheckTimeout time.Duration
}

// NewStore opens the pool and pings it before returning.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres: config is required")
	}
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, durationOr(cfg.PingTimeout, defaultPingTimeout))
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	log := logger.FromContext(ctx)
	metrics, err := observePool(pool, poolLabel(cfg))
	if err != nil {
		log.Warn("Postgres pool metrics disabled", "error", err)
	}
	log.Info("Store initialized",
		"store_driver", "postgres",
		"host", cfg.Host,
		"db_name", cfg.DBName,
		"max_conns", poolCfg.MaxConns,
	)
	return &Store{
		WorkflowRepo:       NewWorkflowRepo(pool),
		QueueRepo:          NewQueueRepo(pool),
		ExecutionRepo:      NewExecutionRepo(pool),
		pool:               pool,
		metrics:            metrics,
		healthCheckTimeout: durationOr(cfg.HealthCheckTimeout, defaultHealthCheckTimeout),
	}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close(ctx context.Context) error {
	if err := s.metrics.close(); err != nil {
		logger.FromContext(ctx).Warn("Failed to unregister pool metrics", "error", err)
	}
	s.pool.Close()
	logger.FromContext(ctx).Info("Postgres store closed")
	return nil
}

// Pool exposes the internal pool for migrations and integration tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// HealthCheck verifies the connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, s.healthCheckTimeout)
	defer cancel()
	if err := s.pool.Ping(hctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

func buildPoolConfig(cfg *Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = maxConns(cfg.MaxConns)
	poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	return poolCfg, nil
}

func maxConns(n int) int32 {
	switch {
	case n <= 0:
		return defaultMaxConns
	case n > math.MaxInt32:
		return math.MaxInt32
	default:
		return int32(n)
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
