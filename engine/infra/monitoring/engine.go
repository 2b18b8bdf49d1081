package monitoring

import (
	"context"
	"time"

	monitoringmetrics "github.com/compozy/autoflow/engine/infra/monitoring/metrics"
	"github.com/compozy/autoflow/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// TickStats is what one queue processor tick did.
type TickStats struct {
	Processed int
	Completed int
	Waiting   int
	Retried   int
	Failed    int
	Reclaimed int
	Resumed   int
}

// EngineMetrics instruments the queue processor and the resumption poller.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	entriesTotal      metric.Int64Counter
	reclaimedTotal    metric.Int64Counter
	resumedTotal      metric.Int64Counter
	ticksTotal        metric.Int64Counter
	tickDuration      metric.Float64Histogram
	executionDuration metric.Float64Histogram
}

// NewEngineMetrics creates the engine instruments. Instruments that fail to
// register are logged and skipped.
func NewEngineMetrics(meter metric.Meter) *EngineMetrics {
	m := &EngineMetrics{}
	if meter == nil {
		return m
	}
	var err error
	m.entriesTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("queue", "entries_total"),
		metric.WithDescription("Queue entries handled by the processor, by outcome"),
		metric.WithUnit("1"),
	)
	logInstrumentError("queue entries counter", err)
	m.reclaimedTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("queue", "reclaimed_total"),
		metric.WithDescription("Entries returned to the queue after a processing timeout"),
		metric.WithUnit("1"),
	)
	logInstrumentError("queue reclaimed counter", err)
	m.resumedTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("poller", "jobs_resumed_total"),
		metric.WithDescription("Scheduled jobs resumed by the poller"),
		metric.WithUnit("1"),
	)
	logInstrumentError("poller resumed counter", err)
	m.ticksTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("processor", "ticks_total"),
		metric.WithDescription("Processor ticks, by outcome"),
		metric.WithUnit("1"),
	)
	logInstrumentError("processor ticks counter", err)
	m.tickDuration, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("processor", "tick_duration_seconds"),
		metric.WithDescription("Processor tick latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.TickDurationBuckets...),
	)
	logInstrumentError("processor tick histogram", err)
	m.executionDuration, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("executor", "run_duration_seconds"),
		metric.WithDescription("Workflow run latency, by resulting status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.ExecutionDurationBuckets...),
	)
	logInstrumentError("executor duration histogram", err)
	return m
}

func logInstrumentError(name string, err error) {
	if err != nil {
		logger.GetDefault().Error("Failed to create instrument", "instrument", name, "error", err)
	}
}

// RecordTick records the outcome of one processor tick.
func (m *EngineMetrics) RecordTick(ctx context.Context, stats TickStats, elapsed time.Duration, tickErr error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if tickErr != nil {
		outcome = outcomeError
	}
	if m.ticksTotal != nil {
		m.ticksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if m.tickDuration != nil {
		m.tickDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if m.entriesTotal != nil {
		for status, n := range map[string]int{
			"completed": stats.Completed,
			"waiting":   stats.Waiting,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
		} {
			if n > 0 {
				m.entriesTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", status)))
			}
		}
	}
	if m.reclaimedTotal != nil && stats.Reclaimed > 0 {
		m.reclaimedTotal.Add(ctx, int64(stats.Reclaimed))
	}
	if m.resumedTotal != nil && stats.Resumed > 0 {
		m.resumedTotal.Add(ctx, int64(stats.Resumed))
	}
}

// RecordExecution records how long a single workflow run took.
func (m *EngineMetrics) RecordExecution(ctx context.Context, workflowID string, status string, elapsed time.Duration) {
	if m == nil || m.executionDuration == nil {
		return
	}
	m.executionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("status", status),
	))
}
