package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/compozy/autoflow/engine/infra/monitoring/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "autoflow.postgres"

// poolMetrics reports pgxpool statistics as observable gauges on the global
// meter provider, which the monitoring service installs.
type poolMetrics struct {
	registration metric.Registration
}

func observePool(pool *pgxpool.Pool, label string) (*poolMetrics, error) {
	meter := otel.GetMeterProvider().Meter(meterName)
	total, err := meter.Int64ObservableGauge(
		metrics.MetricNameWithSubsystem("postgres", "connections_open"),
		metric.WithDescription("Open connections in the store pool"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: connections_open gauge: %w", err)
	}
	acquired, err := meter.Int64ObservableGauge(
		metrics.MetricNameWithSubsystem("postgres", "connections_in_use"),
		metric.WithDescription("Connections checked out by queue claims and repository calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: connections_in_use gauge: %w", err)
	}
	waits, err := meter.Int64ObservableCounter(
		metrics.MetricNameWithSubsystem("postgres", "empty_acquire_total"),
		metric.WithDescription("Acquires that had to wait for a free connection"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: empty_acquire_total counter: %w", err)
	}
	attrs := metric.WithAttributes(attribute.String("pool", label))
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := pool.Stat()
		o.ObserveInt64(total, int64(stats.TotalConns()), attrs)
		o.ObserveInt64(acquired, int64(stats.AcquiredConns()), attrs)
		o.ObserveInt64(waits, stats.EmptyAcquireCount(), attrs)
		return nil
	}, total, acquired, waits)
	if err != nil {
		return nil, fmt.Errorf("postgres: register pool callback: %w", err)
	}
	return &poolMetrics{registration: reg}, nil
}

func (m *poolMetrics) close() error {
	if m == nil || m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

// poolLabel identifies the pool by host and database name.
func poolLabel(cfg *Config) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{cfg.Host, cfg.DBName} {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, "/")
}
