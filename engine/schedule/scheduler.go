// Package schedule fires schedule triggers from cron expressions declared on
// workflow trigger nodes. Each firing only enqueues a trigger entry; the
// queue processor runs it like any other trigger.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/robfig/cron/v3"
)

const DefaultTimezone = "UTC"

// Enqueuer is the queue side of a firing. *queue.Service satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, workflowID core.ID, triggerType core.TriggerType, payload map[string]any) (core.ID, error)
}

type Options struct {
	Timezone string
	Clock    core.Clock
}

// Info describes one registered schedule.
type Info struct {
	WorkflowID core.ID   `json:"workflow_id"`
	Cron       string    `json:"cron"`
	Next       time.Time `json:"next"`
}

// Plan is the outcome of a reconciliation pass.
type Plan struct {
	Created []core.ID
	Updated []core.ID
	Deleted []core.ID
}

func (p Plan) Empty() bool {
	return len(p.Created)+len(p.Updated)+len(p.Deleted) == 0
}

type registered struct {
	id   cron.EntryID
	expr string
}

type Scheduler struct {
	workflows workflow.Repository
	queue     Enqueuer
	cron      *cron.Cron
	clock     core.Clock

	mu       sync.Mutex
	baseCtx  context.Context
	entries  map[core.ID]registered
	stopLoop context.CancelFunc
}

func New(workflows workflow.Repository, queue Enqueuer, opts Options) (*Scheduler, error) {
	tz := opts.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule timezone %q: %w", tz, err)
	}
	return &Scheduler{
		workflows: workflows,
		queue:     queue,
		cron:      cron.New(cron.WithLocation(loc)),
		clock:     core.ClockOrDefault(opts.Clock),
		baseCtx:   context.Background(),
		entries:   make(map[core.ID]registered),
	}, nil
}

// desired collects the cron expression of every active schedule trigger.
func (s *Scheduler) desired(ctx context.Context) (map[core.ID]string, error) {
	defs, err := s.workflows.ListActiveDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}
	out := make(map[core.ID]string)
	for _, def := range defs {
		spec, err := def.Trigger()
		if err != nil || spec.Type != core.TriggerSchedule {
			continue
		}
		out[def.ID] = spec.Cron
	}
	return out, nil
}

// Reconcile makes the registered cron jobs match the active definitions.
// Definitions with an unparsable cron are skipped and reported in the error.
func (s *Scheduler) Reconcile(ctx context.Context) (Plan, error) {
	want, err := s.desired(ctx)
	if err != nil {
		return Plan{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var plan Plan
	changed := make(map[core.ID]bool)
	for _, id := range slices.Sorted(maps.Keys(s.entries)) {
		expr, ok := want[id]
		if ok && expr == s.entries[id].expr {
			continue
		}
		s.cron.Remove(s.entries[id].id)
		delete(s.entries, id)
		if ok {
			changed[id] = true
		} else {
			plan.Deleted = append(plan.Deleted, id)
		}
	}
	var errs []error
	for _, id := range slices.Sorted(maps.Keys(want)) {
		if _, ok := s.entries[id]; ok {
			continue
		}
		if err := s.register(id, want[id]); err != nil {
			errs = append(errs, err)
			continue
		}
		if changed[id] {
			plan.Updated = append(plan.Updated, id)
		} else {
			plan.Created = append(plan.Created, id)
		}
	}
	if !plan.Empty() {
		logger.FromContext(ctx).Info("Schedules reconciled",
			"created", len(plan.Created),
			"updated", len(plan.Updated),
			"deleted", len(plan.Deleted),
		)
	}
	return plan, errors.Join(errs...)
}

func (s *Scheduler) register(id core.ID, expr string) error {
	sched, err := workflow.ParseCron(expr)
	if err != nil {
		return fmt.Errorf("workflow %s: invalid cron %q: %w", id, expr, err)
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx := s.context()
		if _, err := s.Fire(ctx, id); err != nil {
			logger.FromContext(ctx).Error("Scheduled trigger failed", "workflow_id", id, "error", err)
		}
	}))
	s.entries[id] = registered{id: entryID, expr: expr}
	return nil
}

// Fire enqueues one schedule-triggered entry for the workflow.
func (s *Scheduler) Fire(ctx context.Context, workflowID core.ID) (core.ID, error) {
	s.mu.Lock()
	reg, ok := s.entries[workflowID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no schedule registered for workflow %s", workflowID)
	}
	payload := map[string]any{
		"cron":         reg.expr,
		"scheduled_at": s.clock().Format(time.RFC3339),
	}
	entryID, err := s.queue.Enqueue(ctx, workflowID, core.TriggerSchedule, payload)
	if err != nil {
		return "", err
	}
	logger.FromContext(ctx).Info("Schedule fired", "workflow_id", workflowID, "entry_id", entryID)
	return entryID, nil
}

// Schedules lists the registered schedules ordered by workflow id.
func (s *Scheduler) Schedules() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, id := range slices.Sorted(maps.Keys(s.entries)) {
		reg := s.entries[id]
		out = append(out, Info{WorkflowID: id, Cron: reg.expr, Next: s.cron.Entry(reg.id).Next})
	}
	return out
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Start runs the cron loop and re-reconciles every interval until Stop.
// A zero interval reconciles only once.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.baseCtx = loopCtx
	s.stopLoop = cancel
	s.mu.Unlock()
	if _, err := s.Reconcile(ctx); err != nil {
		logger.FromContext(ctx).Warn("Initial schedule reconciliation incomplete", "error", err)
	}
	s.cron.Start()
	if interval <= 0 {
		return nil
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.Reconcile(loopCtx); err != nil {
					logger.FromContext(loopCtx).Error("Periodic schedule reconciliation failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Stop halts the cron loop and waits for running firings or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopLoop != nil {
		s.stopLoop()
		s.stopLoop = nil
	}
	s.mu.Unlock()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
