package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/executor"
	"github.com/compozy/autoflow/engine/infra/monitoring"
	"github.com/compozy/autoflow/engine/poller"
	"github.com/compozy/autoflow/engine/queue"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 10
	defaultMaxRetries  = 3
	defaultWorkers     = 4
	storeWriteAttempts = 3
	storeWriteBackoff  = 50 * time.Millisecond
)

// Queue is the claim side of the trigger queue. *queue.Service satisfies it.
type Queue interface {
	ClaimBatch(ctx context.Context, limit int, maxRetries int) ([]*queue.Entry, error)
	Complete(ctx context.Context, id core.ID) error
	Fail(ctx context.Context, id core.ID, cause error, maxRetries int) (*queue.Entry, error)
	Reclaim(ctx context.Context, olderThan time.Duration, maxRetries int) (int, error)
}

// Runner executes workflows. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// Poller resumes due scheduled jobs. *poller.Poller satisfies it.
type Poller interface {
	Poll(ctx context.Context) (poller.Result, error)
}

type Options struct {
	BatchSize  int
	MaxRetries int
	Workers    int
	// TickTimeout bounds a whole tick, action calls included. Zero means no bound.
	TickTimeout time.Duration
	// ProcessingTimeout requeues entries left in processing longer than this. Zero disables.
	ProcessingTimeout time.Duration
	Metrics           *monitoring.EngineMetrics
}

// Summary aggregates what one tick did.
type Summary struct {
	Processed            int `json:"processed_count"`
	Completed            int `json:"completed"`
	Waiting              int `json:"waiting"`
	Retried              int `json:"retried"`
	Failed               int `json:"failed"`
	Reclaimed            int `json:"reclaimed"`
	ScheduledJobsResumed int `json:"scheduled_jobs_resumed"`
	ScheduledJobsFailed  int `json:"scheduled_jobs_failed"`
}

// Processor runs one orchestration tick: reclaim, claim, execute, resolve,
// then resume due scheduled jobs. It keeps no state between ticks.
type Processor struct {
	queue  Queue
	runner Runner
	poller Poller
	opts   Options
}

func New(q Queue, runner Runner, p Poller, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Processor{queue: q, runner: runner, poller: p, opts: opts}
}

// Tick processes one claimed batch and one poller pass. Failures of single
// entries are recorded on the entry and never fail the tick.
func (p *Processor) Tick(ctx context.Context) (summary Summary, err error) {
	start := time.Now()
	defer func() {
		p.opts.Metrics.RecordTick(ctx, monitoring.TickStats{
			Processed: summary.Processed,
			Completed: summary.Completed,
			Waiting:   summary.Waiting,
			Retried:   summary.Retried,
			Failed:    summary.Failed,
			Reclaimed: summary.Reclaimed,
			Resumed:   summary.ScheduledJobsResumed,
		}, time.Since(start), err)
	}()
	log := logger.FromContext(ctx)
	if p.opts.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TickTimeout)
		defer cancel()
	}
	if p.opts.ProcessingTimeout > 0 {
		n, err := p.queue.Reclaim(ctx, p.opts.ProcessingTimeout, p.opts.MaxRetries)
		if err != nil {
			return summary, fmt.Errorf("reclaim sweep failed: %w", err)
		}
		summary.Reclaimed = n
	}
	entries, err := p.queue.ClaimBatch(ctx, p.opts.BatchSize, p.opts.MaxRetries)
	if err != nil {
		return summary, fmt.Errorf("failed to claim batch: %w", err)
	}
	p.processBatch(ctx, entries, &summary)
	if p.poller != nil {
		res, err := p.poller.Poll(ctx)
		summary.ScheduledJobsResumed = res.Resumed
		summary.ScheduledJobsFailed = res.Failed
		if err != nil {
			return summary, fmt.Errorf("scheduled job poll failed: %w", err)
		}
	}
	log.Info("Processor tick finished",
		"processed", summary.Processed,
		"completed", summary.Completed,
		"waiting", summary.Waiting,
		"retried", summary.Retried,
		"failed", summary.Failed,
		"resumed", summary.ScheduledJobsResumed,
		"duration", time.Since(start),
	)
	return summary, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeWaiting
	outcomeRetried
	outcomeFailed
	outcomeLost
)

func (p *Processor) processBatch(ctx context.Context, entries []*queue.Entry, summary *Summary) {
	if len(entries) == 0 {
		return
	}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.opts.Workers)
	for _, entry := range entries {
		g.Go(func() error {
			out := p.processEntry(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			switch out {
			case outcomeCompleted:
				summary.Completed++
			case outcomeWaiting:
				summary.Waiting++
			case outcomeRetried:
				summary.Retried++
			case outcomeFailed:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) processEntry(ctx context.Context, entry *queue.Entry) (out outcome) {
	log := logger.FromContext(ctx).With("entry_id", entry.ID, "workflow_id", entry.WorkflowID)
	ctx = logger.ContextWithLogger(ctx, log)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing entry", "panic", r)
			out = p.fail(ctx, entry, fmt.Errorf("panic: %v", r))
		}
	}()
	start := time.Now()
	res, err := p.runner.Execute(ctx, executor.Request{
		WorkflowID:   entry.WorkflowID,
		QueueEntryID: entry.ID,
		Context:      executor.NewTriggerContext(entry.TriggerData),
	})
	status := string(execution.StatusFailed)
	if res != nil {
		status = string(res.Status)
	}
	p.opts.Metrics.RecordExecution(ctx, entry.WorkflowID.String(), status, time.Since(start))
	if err != nil {
		return p.fail(ctx, entry, err)
	}
	// A waiting run is owned by its scheduled job from here on.
	if err := p.write(ctx, func(ctx context.Context) error {
		return p.queue.Complete(ctx, entry.ID)
	}); err != nil {
		log.Error("Failed to complete entry", "error", err)
		return outcomeLost
	}
	if res.Status == execution.StatusWaiting {
		log.Info("Execution suspended", "execution_id", res.ExecutionID, "resume_at", res.ResumeAt)
		return outcomeWaiting
	}
	log.Info("Execution completed", "execution_id", res.ExecutionID, "steps", res.Steps)
	return outcomeCompleted
}

func (p *Processor) fail(ctx context.Context, entry *queue.Entry, cause error) outcome {
	log := logger.FromContext(ctx)
	var updated *queue.Entry
	err := p.write(ctx, func(ctx context.Context) error {
		var err error
		updated, err = p.queue.Fail(ctx, entry.ID, cause, p.opts.MaxRetries)
		return err
	})
	if err != nil {
		log.Error("Failed to record entry failure", "cause", cause, "error", err)
		return outcomeLost
	}
	if updated.Status == queue.StatusFailed {
		log.Warn("Entry failed", "retry_count", updated.RetryCount, "error", updated.LastError)
		return outcomeFailed
	}
	log.Info("Entry requeued", "retry_count", updated.RetryCount, "error", cause)
	return outcomeRetried
}

// write resolves an entry even when the tick deadline already passed, and
// retries transient store errors. Claim conflicts are final.
func (p *Processor) write(ctx context.Context, fn func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	backoff := retry.WithMaxRetries(storeWriteAttempts-1, retry.NewExponential(storeWriteBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, core.ErrClaimConflict) || errors.Is(err, core.ErrEntryNotFound) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// Run ticks every interval until ctx is canceled. Tick errors are logged.
func (p *Processor) Run(ctx context.Context, interval time.Duration) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("Started queue processor", "interval", interval)
	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Error("Processor tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("Stopping queue processor")
			return
		case <-ticker.C:
		}
	}
}
