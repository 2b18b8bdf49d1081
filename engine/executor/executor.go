package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/compozy/autoflow/engine/action"
	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/execution"
	"github.com/compozy/autoflow/engine/workflow"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/compozy/autoflow/pkg/tplengine"
)

const (
	defaultActionTimeout = 30 * time.Second
	defaultMaxSteps      = 1000
)

// TriggerKey is the context key holding the trigger payload.
const TriggerKey = "trigger"

type Options struct {
	ActionTimeout time.Duration
	MaxSteps      int
}

// Request starts or resumes a run. An empty ExecutionID starts a new one.
// Execution begins at StartNodeID, else at the successor of AfterNodeID,
// else at the successor of the trigger node.
type Request struct {
	WorkflowID   core.ID
	ExecutionID  core.ID
	QueueEntryID core.ID
	StartNodeID  string
	AfterNodeID  string
	Context      map[string]any
}

type Result struct {
	ExecutionID   core.ID          `json:"execution_id"`
	Status        execution.Status `json:"status"`
	CurrentNodeID string           `json:"current_node_id"`
	ResumeAt      *time.Time       `json:"resume_at,omitempty"`
	Context       map[string]any   `json:"context"`
	Steps         int              `json:"steps"`
}

// Executor interprets workflow graphs node by node. It never holds a timer
// across a Wait node: the run is persisted and the call returns.
type Executor struct {
	workflows  workflow.Repository
	executions execution.Repository
	actions    action.Lookup
	conditions ConditionEvaluator
	templates  *tplengine.TemplateEngine
	clock      core.Clock
	opts       Options
}

func New(
	workflows workflow.Repository,
	executions execution.Repository,
	actions action.Lookup,
	conditions ConditionEvaluator,
	clock core.Clock,
	opts Options,
) *Executor {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	return &Executor{
		workflows:  workflows,
		executions: executions,
		actions:    actions,
		conditions: conditions,
		templates:  tplengine.NewEngine(),
		clock:      core.ClockOrDefault(clock),
		opts:       opts,
	}
}

// NewTriggerContext builds the initial execution context for a trigger payload.
func NewTriggerContext(payload map[string]any) map[string]any {
	return map[string]any{TriggerKey: core.CloneMap(payload)}
}

// Execute runs the workflow until it completes, fails, or suspends at a Wait
// node. On failure the returned Result carries the failed state alongside the
// error; errors satisfying core.IsPermanent should not be retried.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	def, err := e.loadDefinition(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	state, err := e.prepareState(ctx, def, req)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("workflow_id", def.ID, "execution_id", state.ID)
	ctx = logger.ContextWithLogger(ctx, log)
	res, runErr := e.run(ctx, def, state)
	if runErr != nil {
		state.MarkFailed(runErr, e.clock())
		if err := e.executions.SaveExecution(context.WithoutCancel(ctx), state); err != nil {
			log.Error("Failed to persist failed execution", "error", err)
		}
		log.Warn("Execution failed", "node_id", state.CurrentNodeID, "error", runErr)
		return resultFrom(state, res.Steps), runErr
	}
	return res, nil
}

func (e *Executor) loadDefinition(ctx context.Context, id core.ID) (*workflow.Definition, error) {
	def, err := e.workflows.GetDefinition(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrWorkflowNotFound) {
			return nil, core.Permanent(fmt.Errorf("workflow %s: %w", id, err))
		}
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	if !def.IsActive {
		return nil, core.Permanent(fmt.Errorf("workflow %s: %w", id, core.ErrWorkflowInactive))
	}
	return def, nil
}

func (e *Executor) startNode(def *workflow.Definition, req Request) (string, error) {
	if req.StartNodeID != "" {
		return req.StartNodeID, nil
	}
	after := req.AfterNodeID
	if after == "" {
		trigger, err := def.TriggerNode()
		if err != nil {
			return "", core.Permanent(err)
		}
		after = trigger.ID
	}
	next, err := def.Next(after)
	if err != nil {
		return "", core.Permanent(err)
	}
	return next, nil
}

func (e *Executor) prepareState(ctx context.Context, def *workflow.Definition, req Request) (*execution.State, error) {
	start, err := e.startNode(def, req)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	if req.ExecutionID.IsZero() {
		id, err := core.NewID()
		if err != nil {
			return nil, err
		}
		state := &execution.State{
			ID:           id,
			WorkflowID:   def.ID,
			QueueEntryID: req.QueueEntryID,
			Context:      core.CloneMap(req.Context),
			CreatedAt:    now,
		}
		state.MarkRunning(start, now)
		if err := e.executions.CreateExecution(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to create execution: %w", err)
		}
		return state, nil
	}
	state, err := e.executions.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", req.ExecutionID, err)
	}
	if state.WorkflowID != def.ID {
		return nil, core.Permanent(fmt.Errorf("execution %s belongs to workflow %s", state.ID, state.WorkflowID))
	}
	if req.Context != nil {
		state.Context = core.CloneMap(req.Context)
	}
	state.MarkRunning(start, now)
	if err := e.executions.SaveExecution(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to mark execution %s running: %w", state.ID, err)
	}
	return state, nil
}

func (e *Executor) run(ctx context.Context, def *workflow.Definition, state *execution.State) (*Result, error) {
	steps := 0
	for nodeID := state.CurrentNodeID; nodeID != ""; {
		if err := ctx.Err(); err != nil {
			return &Result{Steps: steps}, err
		}
		steps++
		if steps > e.opts.MaxSteps {
			return &Result{Steps: steps}, core.Permanent(
				fmt.Errorf("%w: exceeded %d steps without suspending", core.ErrMalformedGraph, e.opts.MaxSteps),
			)
		}
		state.CurrentNodeID = nodeID
		node, ok := def.Node(nodeID)
		if !ok {
			return &Result{Steps: steps}, fmt.Errorf("%w: node %q does not exist", core.ErrMalformedGraph, nodeID)
		}
		next, suspended, err := e.step(ctx, def, state, node)
		if err != nil {
			return &Result{Steps: steps}, err
		}
		if suspended {
			logger.FromContext(ctx).Info("Execution suspended", "node_id", node.ID, "resume_at", state.ResumeAt)
			return resultFrom(state, steps), nil
		}
		nodeID = next
	}
	state.MarkCompleted(e.clock())
	if err := e.executions.SaveExecution(context.WithoutCancel(ctx), state); err != nil {
		return &Result{Steps: steps}, fmt.Errorf("failed to persist completed execution: %w", err)
	}
	logger.FromContext(ctx).Info("Execution completed", "steps", steps)
	return resultFrom(state, steps), nil
}

// step executes one node and returns the next node id, or suspended=true.
func (e *Executor) step(
	ctx context.Context,
	def *workflow.Definition,
	state *execution.State,
	node *workflow.Node,
) (string, bool, error) {
	switch node.Kind {
	case workflow.NodeTrigger:
		next, err := def.Next(node.ID)
		return next, false, err
	case workflow.NodeAction:
		if err := e.runAction(ctx, state, node); err != nil {
			return "", false, err
		}
		next, err := def.Next(node.ID)
		return next, false, err
	case workflow.NodeCondition:
		next, err := e.runCondition(ctx, def, state, node)
		return next, false, err
	case workflow.NodeWait:
		return "", true, e.suspend(ctx, state, node)
	default:
		return "", false, fmt.Errorf("%w: node %q has unknown kind %q", core.ErrMalformedGraph, node.ID, node.Kind)
	}
}

func (e *Executor) runAction(ctx context.Context, state *execution.State, node *workflow.Node) error {
	spec, err := node.ActionSpec()
	if err != nil {
		return err
	}
	act, err := e.actions.Get(spec.Type)
	if err != nil {
		return err
	}
	params := map[string]any{}
	if spec.Params != nil {
		rendered, err := e.templates.ParseMap(spec.Params, state.Context)
		if err != nil {
			return core.Permanent(fmt.Errorf("%w: action %q params: %v", core.ErrMalformedGraph, node.ID, err))
		}
		params, _ = rendered.(map[string]any)
	}
	actx, cancel := context.WithTimeout(ctx, e.opts.ActionTimeout)
	defer cancel()
	out, err := act.Execute(actx, params, core.CloneMap(state.Context))
	if err != nil {
		actionErr := &core.ActionError{NodeID: node.ID, ActionType: spec.Type, Err: err}
		if core.IsPermanent(err) {
			return core.Permanent(actionErr)
		}
		return actionErr
	}
	if len(out) == 0 {
		return nil
	}
	if state.Context == nil {
		state.Context = map[string]any{}
	}
	if err := mergo.Merge(&state.Context, out, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge output of action %q: %w", node.ID, err)
	}
	return nil
}

func (e *Executor) runCondition(
	ctx context.Context,
	def *workflow.Definition,
	state *execution.State,
	node *workflow.Node,
) (string, error) {
	expr, err := node.Expression()
	if err != nil {
		return "", err
	}
	outcome, err := e.conditions.Evaluate(ctx, expr, state.Context)
	if err != nil {
		return "", core.Permanent(fmt.Errorf("condition %q: %w", node.ID, err))
	}
	return def.Branch(node.ID, outcome), nil
}

func (e *Executor) suspend(ctx context.Context, state *execution.State, node *workflow.Node) error {
	delay, err := node.WaitDelay()
	if err != nil {
		return err
	}
	now := e.clock()
	resumeAt := now.Add(delay)
	jobID, err := core.NewID()
	if err != nil {
		return err
	}
	state.MarkWaiting(node.ID, resumeAt, now)
	job := &execution.Job{
		ID:          jobID,
		ExecutionID: state.ID,
		NodeID:      node.ID,
		ReadyAt:     resumeAt,
		Context:     core.CloneMap(state.Context),
		Status:      execution.JobPending,
		CreatedAt:   now,
	}
	// Side effects of earlier nodes already ran; the suspension must land.
	if err := e.executions.SuspendExecution(context.WithoutCancel(ctx), state, job); err != nil {
		return fmt.Errorf("failed to suspend execution at %q: %w", node.ID, err)
	}
	return nil
}

func resultFrom(state *execution.State, steps int) *Result {
	return &Result{
		ExecutionID:   state.ID,
		Status:        state.Status,
		CurrentNodeID: state.CurrentNodeID,
		ResumeAt:      state.ResumeAt,
		Context:       core.CloneMap(state.Context),
		Steps:         steps,
	}
}
