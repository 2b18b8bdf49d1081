package ratelimit

import (
	"context"

	"github.com/compozy/autoflow/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type blockCounter struct {
	counter metric.Int64Counter
}

func newBlockCounter(meter metric.Meter) (*blockCounter, error) {
	counter, err := meter.Int64Counter(
		metrics.MetricNameWithSubsystem("rate_limit", "blocks_total"),
		metric.WithDescription("Requests rejected by the per-client rate limiter"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return &blockCounter{counter: counter}, nil
}

// record is a no-op on a nil counter so managers built without a meter work.
func (b *blockCounter) record(ctx context.Context, route, store string) {
	if b == nil {
		return
	}
	b.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("store", store),
	))
}
