package monitoring

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	monitoringmetrics "github.com/compozy/autoflow/engine/infra/monitoring/metrics"
	"github.com/compozy/autoflow/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Set via -ldflags "-X github.com/compozy/autoflow/engine/infra/monitoring.Version=v1.0.0".
var (
	Version    = "unknown"
	CommitHash = "unknown"
)

var (
	buildInfo          metric.Float64Gauge
	uptimeGauge        metric.Float64ObservableGauge
	uptimeRegistration metric.Registration
	startTime          time.Time
	systemInitOnce     sync.Once
	systemResetMutex   sync.Mutex
)

func initSystemMetrics(meter metric.Meter) {
	systemInitOnce.Do(func() {
		log := logger.GetDefault()
		var err error
		buildInfo, err = meter.Float64Gauge(
			monitoringmetrics.MetricName("build_info"),
			metric.WithDescription("Build information (value=1)"),
		)
		if err != nil {
			log.Error("Failed to create build info gauge", "error", err)
		}
		uptimeGauge, err = meter.Float64ObservableGauge(
			monitoringmetrics.MetricName("uptime_seconds"),
			metric.WithDescription("Service uptime in seconds"),
		)
		if err != nil {
			log.Error("Failed to create uptime gauge", "error", err)
			return
		}
		startTime = time.Now()
		uptimeRegistration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveFloat64(uptimeGauge, time.Since(startTime).Seconds())
			return nil
		}, uptimeGauge)
		if err != nil {
			log.Error("Failed to register uptime callback", "error", err)
		}
	})
}

// buildVersion prefers ldflags values and falls back to the embedded build info.
func buildVersion() (version, commit, goVersion string) {
	version = Version
	commit = CommitHash
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "unknown" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		if commit == "unknown" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value
					break
				}
			}
		}
	}
	return version, commit, runtime.Version()
}

// InitSystemMetrics registers the uptime gauge and records build info once.
func InitSystemMetrics(ctx context.Context, meter metric.Meter) {
	initSystemMetrics(meter)
	if buildInfo == nil {
		return
	}
	version, commit, goVersion := buildVersion()
	buildInfo.Record(ctx, 1, metric.WithAttributes(
		attribute.String("version", version),
		attribute.String("commit_hash", commit),
		attribute.String("go_version", goVersion),
	))
	logger.FromContext(ctx).Debug("System metrics initialized", "version", version, "commit", commit)
}

// ResetSystemMetricsForTesting clears the one-time registration state.
func ResetSystemMetricsForTesting() {
	systemResetMutex.Lock()
	defer systemResetMutex.Unlock()
	if uptimeRegistration != nil {
		if err := uptimeRegistration.Unregister(); err != nil {
			logger.GetDefault().Error("Failed to unregister uptime callback during reset", "error", err)
		}
		uptimeRegistration = nil
	}
	buildInfo = nil
	uptimeGauge = nil
	startTime = time.Time{}
	systemInitOnce = sync.Once{}
}
