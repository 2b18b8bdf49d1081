package webhook

import (
	"context"
	"fmt"
	"time"

	monitoringmetrics "github.com/compozy/autoflow/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const subsystem = "webhook"

// Metrics instruments hook ingestion. A nil *Metrics records nothing.
type Metrics struct {
	receivedTotal       metric.Int64Counter
	duplicateTotal      metric.Int64Counter
	triggeredTotal      metric.Int64Counter
	noMatchTotal        metric.Int64Counter
	failedTotal         metric.Int64Counter
	processingHistogram metric.Float64Histogram
	payloadHistogram    metric.Int64Histogram
}

func NewMetrics(_ context.Context, meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	if meter == nil {
		return m, nil
	}
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.receivedTotal, "received_total", "Webhook requests received"},
		{&m.duplicateTotal, "duplicate_total", "Webhook requests rejected as duplicates"},
		{&m.triggeredTotal, "triggered_total", "Queue entries created by webhook fan-out"},
		{&m.noMatchTotal, "no_match_total", "Webhook requests with no active subscriber"},
		{&m.failedTotal, "failed_total", "Webhook requests that failed, by reason"},
	}
	for _, def := range counters {
		counter, err := meter.Int64Counter(
			monitoringmetrics.MetricNameWithSubsystem(subsystem, def.name),
			metric.WithDescription(def.description),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook %s counter: %w", def.name, err)
		}
		*def.target = counter
	}
	var err error
	m.payloadHistogram, err = meter.Int64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystem, "payload_size_bytes"),
		metric.WithDescription("Size distribution of webhook payloads"),
		metric.WithUnit("bytes"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook payload histogram: %w", err)
	}
	m.processingHistogram, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystem, "processing_duration_seconds"),
		metric.WithDescription("Overall webhook processing duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.HTTPDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook processing histogram: %w", err)
	}
	return m, nil
}

func keyAttr(key string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("key", key))
}

func (m *Metrics) OnReceived(ctx context.Context, key string, payloadBytes int) {
	if m == nil || m.receivedTotal == nil {
		return
	}
	m.receivedTotal.Add(ctx, 1, keyAttr(key))
	m.payloadHistogram.Record(ctx, int64(payloadBytes), keyAttr(key))
}

func (m *Metrics) OnDuplicate(ctx context.Context, key string) {
	if m != nil && m.duplicateTotal != nil {
		m.duplicateTotal.Add(ctx, 1, keyAttr(key))
	}
}

func (m *Metrics) OnTriggered(ctx context.Context, key string, n int) {
	if m == nil || m.triggeredTotal == nil {
		return
	}
	if n == 0 {
		m.noMatchTotal.Add(ctx, 1, keyAttr(key))
		return
	}
	m.triggeredTotal.Add(ctx, int64(n), keyAttr(key))
}

func (m *Metrics) OnFailed(ctx context.Context, key, reason string) {
	if m != nil && m.failedTotal != nil {
		m.failedTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("key", key),
			attribute.String("reason", reason),
		))
	}
}

func (m *Metrics) ObserveOverall(ctx context.Context, key string, d time.Duration) {
	if m != nil && m.processingHistogram != nil {
		m.processingHistogram.Record(ctx, d.Seconds(), keyAttr(key))
	}
}
