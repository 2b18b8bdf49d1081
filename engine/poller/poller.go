package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/executor"
	"github.com/compozy/autoflow/pkg/logger"
)

const (
	defaultBatchSize    = 50
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Minute
)

// Runner resumes executions. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

type Options struct {
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	// ClaimTimeout releases jobs claimed longer ago than this. Zero disables.
	ClaimTimeout time.Duration
}

type Result struct {
	Resumed  int `json:"resumed"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Released int `json:"released"`
}

// Poller resumes waiting executions whose scheduled jobs are due.
type Poller struct {
	executions execution.Repository
	runner     Runner
	clock      core.Clock
	opts       Options
}

func New(executions execution.Repository, runner Runner, clock core.Clock, opts Options) *Poller {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Poller{executions: executions, runner: runner, clock: core.ClockOrDefault(clock), opts: opts}
}

// Poll resumes every due job once. Per-job failures are recorded on the job
// and do not abort the poll.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	var res Result
	now := p.clock()
	if p.opts.ClaimTimeout > 0 {
		n, err := p.executions.ReleaseStaleJobs(ctx, now.Add(-p.opts.ClaimTimeout), p.staleFailure(now), now)
		if err != nil {
			return res, fmt.Errorf("failed to release stale jobs: %w", err)
		}
		res.Released = n
	}
	jobs, err := p.executions.ListDueJobs(ctx, now, p.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to list due jobs: %w", err)
	}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := p.resume(ctx, job.ID)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeResumed:
			res.Resumed++
		case outcomeRetried:
			res.Retried++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

// Resume claims and runs a single job. It reports false when the job was
// already consumed or claimed elsewhere.
func (p *Poller) Resume(ctx context.Context, jobID core.ID) (bool, error) {
	outcome, err := p.resume(ctx, jobID)
	return outcome == outcomeResumed, err
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeResumed
	outcomeRetried
	outcomeFailed
)

func (p *Poller) resume(ctx context.Context, jobID core.ID) (outcome, error) {
	log := logger.FromContext(ctx).With("job_id", jobID)
	job, err := p.executions.ClaimJob(ctx, jobID, p.clock())
	if err != nil {
		if errors.Is(err, core.ErrClaimConflict) || errors.Is(err, core.ErrJobNotFound) {
			log.Debug("Job already claimed or consumed")
			return outcomeSkipped, nil
		}
		return outcomeSkipped, fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	log = log.With("execution_id", job.ExecutionID)
	// Once claimed, the job outcome must be written even if the tick ends.
	writeCtx := context.WithoutCancel(ctx)
	state, err := p.executions.GetExecution(ctx, job.ExecutionID)
	if err != nil {
		return p.fail(writeCtx, job, err)
	}
	if state.Status.IsTerminal() {
		log.Warn("Execution already finished; discarding job", "status", state.Status)
		if err := p.executions.CompleteJob(writeCtx, job.ID, p.clock()); err != nil {
			return outcomeSkipped, fmt.Errorf("failed to discard job %s: %w", job.ID, err)
		}
		return outcomeSkipped, nil
	}
	_, runErr := p.runner.Execute(logger.ContextWithLogger(ctx, log), executor.Request{
		WorkflowID:   state.WorkflowID,
		ExecutionID:  state.ID,
		QueueEntryID: state.QueueEntryID,
		AfterNodeID:  job.NodeID,
		Context:      job.Context,
	})
	if runErr != nil {
		return p.fail(writeCtx, job, runErr)
	}
	if err := p.executions.CompleteJob(writeCtx, job.ID, p.clock()); err != nil {
		return outcomeSkipped, fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	log.Info("Execution resumed")
	return outcomeResumed, nil
}

func (p *Poller) fail(ctx context.Context, job *execution.Job, cause error) (outcome, error) {
	now := p.clock()
	failure := execution.JobFailure{
		Message:          cause.Error(),
		ExhaustedMessage: fmt.Sprintf("%s: %s", core.ErrMaxRetriesExceeded, cause),
		MaxRetries:       p.opts.MaxRetries,
		RetryAt:          now.Add(p.opts.RetryBackoff),
		Terminal:         core.IsPermanent(cause),
	}
	updated, err := p.executions.FailJob(ctx, job.ID, failure, now)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("failed to record failure for job %s: %w", job.ID, err)
	}
	log := logger.FromContext(ctx).With("job_id", job.ID, "execution_id", job.ExecutionID)
	if updated.Status == execution.JobFailed {
		log.Warn("Resume failed permanently", "retry_count", updated.RetryCount, "error", cause)
		return outcomeFailed, nil
	}
	log.Info("Resume failed; rescheduled", "retry_count", updated.RetryCount, "ready_at", updated.ReadyAt, "error", cause)
	return outcomeRetried, nil
}

// staleFailure counts an abandoned claim as a failed attempt. The job is due
// again immediately since its backoff already elapsed while claimed.
func (p *Poller) staleFailure(now time.Time) execution.JobFailure {
	msg := fmt.Sprintf("claim timed out after %s", p.opts.ClaimTimeout)
	return execution.JobFailure{
		Message:          msg,
		ExhaustedMessage: fmt.Sprintf("%s: %s", core.ErrMaxRetriesExceeded, msg),
		MaxRetries:       p.opts.MaxRetries,
		RetryAt:          now,
	}
}
