package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/autoflow/engine/action"
	"github.com/compozy/autoflow/engine/executor"
	"github.com/compozy/autoflow/engine/infra/cache"
	"github.com/compozy/autoflow/engine/infra/monitoring"
	"github.com/compozy/autoflow/engine/infra/repo"
	"github.com/compozy/autoflow/engine/poller"
	"github.com/compozy/autoflow/engine/processor"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/compozy/autoflow/engine/schedule"
	"github.com/compozy/autoflow/engine/store"
	"github.com/compozy/autoflow/engine/trigger"
	"github.com/compozy/autoflow/engine/webhook"
	"github.com/compozy/autoflow/pkg/config"
	"github.com/compozy/autoflow/pkg/logger"
)

const shutdownStepTimeout = 5 * time.Second

// Dependencies holds every engine component built from one configuration.
type Dependencies struct {
	Config     *config.Config
	Store      store.Store
	Redis      *cache.Redis
	Monitoring *monitoring.Service
	Actions    *action.Registry
	Executor   *executor.Executor
	Queue      *queue.Service
	Triggers   *trigger.Service
	Poller     *poller.Poller
	Processor  *processor.Processor
	Scheduler  *schedule.Scheduler
	Webhooks   *webhook.Orchestrator

	cleanups []func(context.Context)
}

// BuildDependencies opens storage and assembles the engine. On error every
// resource opened so far is released.
func BuildDependencies(ctx context.Context, cfg *config.Config) (deps *Dependencies, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := logger.FromContext(ctx)
	deps = &Dependencies{Config: cfg}
	defer func() {
		if err != nil {
			deps.Close(context.WithoutCancel(ctx))
			deps = nil
		}
	}()
	if err := deps.setupStore(ctx); err != nil {
		return deps, err
	}
	if err := deps.setupRedis(ctx); err != nil {
		return deps, err
	}
	deps.setupMonitoring(ctx)
	if err := deps.setupEngine(); err != nil {
		return deps, err
	}
	if err := deps.setupWebhooks(ctx); err != nil {
		return deps, err
	}
	log.Info("Engine dependencies ready",
		"driver", cfg.Database.Driver,
		"redis", deps.Redis != nil,
		"monitoring", deps.Monitoring.IsInitialized(),
		"actions", deps.Actions.Types(),
	)
	return deps, nil
}

func (d *Dependencies) setupStore(ctx context.Context) error {
	start := time.Now()
	s, err := repo.Open(ctx, &d.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	d.Store = s
	d.cleanups = append(d.cleanups, func(ctx context.Context) {
		if err := s.Close(ctx); err != nil {
			logger.GetDefault().Error("Failed to close store", "error", err)
		}
	})
	logger.FromContext(ctx).Debug("Store initialized", "driver", d.Config.Database.Driver, "duration", time.Since(start))
	return nil
}

func (d *Dependencies) setupRedis(ctx context.Context) error {
	rcfg := cache.FromAppConfig(&d.Config.Redis)
	if !rcfg.Enabled() {
		logger.FromContext(ctx).Debug("Redis disabled; webhook dedupe and shared rate limits are off")
		return nil
	}
	r, err := cache.NewRedis(ctx, rcfg)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	d.Redis = r
	d.cleanups = append(d.cleanups, func(context.Context) {
		if err := r.Close(); err != nil {
			logger.GetDefault().Error("Failed to close redis", "error", err)
		}
	})
	return nil
}

func (d *Dependencies) setupMonitoring(ctx context.Context) {
	svc := monitoring.NewMonitoringServiceWithFallback(ctx, monitoring.FromAppConfig(&d.Config.Monitoring))
	d.Monitoring = svc
	if !svc.IsInitialized() {
		return
	}
	d.cleanups = append(d.cleanups, func(ctx context.Context) {
		if err := svc.Shutdown(ctx); err != nil {
			logger.GetDefault().Error("Failed to shutdown monitoring service", "error", err)
		}
	})
}

func (d *Dependencies) setupEngine() error {
	cfg := d.Config
	d.Actions = action.NewRegistry()
	if err := action.RegisterBuiltins(d.Actions, action.NewHTTPClient(cfg.Processor.ActionTimeout)); err != nil {
		return fmt.Errorf("failed to register builtin actions: %w", err)
	}
	conditions, err := executor.NewCELEvaluator()
	if err != nil {
		return fmt.Errorf("failed to build condition evaluator: %w", err)
	}
	d.Executor = executor.New(d.Store, d.Store, d.Actions, conditions, nil, executor.Options{
		ActionTimeout: cfg.Processor.ActionTimeout,
		MaxSteps:      cfg.Processor.MaxSteps,
	})
	d.Queue = queue.NewService(d.Store, nil)
	d.Triggers = trigger.NewService(trigger.NewMatcher(d.Store), d.Store, d.Queue)
	d.Poller = poller.New(d.Store, d.Executor, nil, poller.Options{
		BatchSize:    cfg.Poller.BatchSize,
		MaxRetries:   cfg.Poller.MaxRetries,
		RetryBackoff: cfg.Poller.RetryBackoff,
		ClaimTimeout: cfg.Poller.ClaimTimeout,
	})
	d.Processor = processor.New(d.Queue, d.Executor, d.Poller, processor.Options{
		BatchSize:         cfg.Queue.BatchSize,
		MaxRetries:        cfg.Queue.MaxRetries,
		Workers:           cfg.Queue.Workers,
		TickTimeout:       cfg.Processor.TickTimeout,
		ProcessingTimeout: cfg.Queue.ProcessingTimeout,
		Metrics:           d.Monitoring.Engine(),
	})
	if !cfg.Schedule.Enabled {
		return nil
	}
	sched, err := schedule.New(d.Store, d.Queue, schedule.Options{Timezone: cfg.Schedule.Timezone})
	if err != nil {
		return err
	}
	d.Scheduler = sched
	d.cleanups = append(d.cleanups, sched.Stop)
	return nil
}

func (d *Dependencies) setupWebhooks(ctx context.Context) error {
	verifier, err := webhook.NewVerifier(webhook.VerifyConfigFromApp(&d.Config.Webhook))
	if err != nil {
		return fmt.Errorf("failed to build webhook verifier: %w", err)
	}
	metrics, err := webhook.NewMetrics(ctx, d.Monitoring.Meter())
	if err != nil {
		return fmt.Errorf("failed to build webhook metrics: %w", err)
	}
	var idem webhook.Service
	if d.Redis != nil {
		idem = webhook.NewRedisService(d.Redis, d.Config.Redis.Prefix)
	}
	d.Webhooks = webhook.NewOrchestrator(d.Triggers, verifier, idem, webhook.Options{
		MaxBody:   d.Config.Server.MaxBodyBytes,
		DedupeTTL: d.Config.Redis.DedupeTTL,
		Metrics:   metrics,
	})
	return nil
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close(ctx context.Context) {
	if d == nil {
		return
	}
	for i := len(d.cleanups) - 1; i >= 0; i-- {
		stepCtx, cancel := context.WithTimeout(ctx, shutdownStepTimeout)
		d.cleanups[i](stepCtx)
		cancel()
	}
	d.cleanups = nil
}
