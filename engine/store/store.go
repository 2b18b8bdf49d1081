// Package store defines the durable store the engine runs against. Drivers
// live under engine/infra: postgres, sqlite and memstore.
package store

import (
	"context"

	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/compozy/autoflow/engine/workflow"
)

type Store interface {
	workflow.Repository
	queue.Repository
	execution.Repository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)
