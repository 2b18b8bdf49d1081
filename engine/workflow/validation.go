package workflow

import (
	"errors"
	"fmt"

	"github.com/compozy/autoflow/engine/core"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a schedule expression using the same rules as the scheduler.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Validate checks the structural rules the executor relies on. Every
// returned error wraps core.ErrMalformedGraph.
func (d *Definition) Validate() error {
	if d.ID.IsZero() {
		return fmt.Errorf("%w: workflow id is required", core.ErrMalformedGraph)
	}
	if err := d.validateNodes(); err != nil {
		return err
	}
	if err := d.validateEdges(); err != nil {
		return err
	}
	trigger, err := d.Trigger()
	if err != nil {
		return err
	}
	return validateTrigger(trigger)
}

func (d *Definition) validateNodes() error {
	seen := make(map[string]struct{}, len(d.Nodes))
	var errs []error
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("%w: node[%d] id is required", core.ErrMalformedGraph, i))
			continue
		}
		if _, dup := seen[n.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate node id %q", core.ErrMalformedGraph, n.ID))
		}
		seen[n.ID] = struct{}{}
		if !n.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%w: node %q has unknown kind %q", core.ErrMalformedGraph, n.ID, n.Kind))
			continue
		}
		if err := n.validateData(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Node) validateData() error {
	var err error
	switch n.Kind {
	case NodeAction:
		_, err = n.ActionSpec()
	case NodeCondition:
		_, err = n.Expression()
	case NodeWait:
		_, err = n.WaitDelay()
	case NodeTrigger:
		_, err = n.TriggerSpec()
	}
	return err
}

func (d *Definition) validateEdges() error {
	var errs []error
	for _, e := range d.Edges {
		if _, ok := d.Node(e.From); !ok {
			errs = append(errs, fmt.Errorf("%w: edge source %q does not exist", core.ErrMalformedGraph, e.From))
		}
		if _, ok := d.Node(e.To); !ok {
			errs = append(errs, fmt.Errorf("%w: edge target %q does not exist", core.ErrMalformedGraph, e.To))
		}
	}
	for i := range d.Nodes {
		n := &d.Nodes[i]
		out := d.OutEdges(n.ID)
		if n.Kind == NodeCondition {
			if err := validateBranches(n.ID, out); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if len(out) > 1 {
			errs = append(errs, fmt.Errorf("%w: node %q has %d outgoing edges", core.ErrMalformedGraph, n.ID, len(out)))
		}
	}
	return errors.Join(errs...)
}

func validateBranches(nodeID string, out []Edge) error {
	labels := make(map[string]int, len(out))
	for _, e := range out {
		if e.Label != LabelTrue && e.Label != LabelFalse {
			return fmt.Errorf("%w: condition %q edge label %q must be true or false", core.ErrMalformedGraph, nodeID, e.Label)
		}
		labels[e.Label]++
		if labels[e.Label] > 1 {
			return fmt.Errorf("%w: condition %q has more than one %q edge", core.ErrMalformedGraph, nodeID, e.Label)
		}
	}
	return nil
}

func validateTrigger(spec TriggerSpec) error {
	switch spec.Type {
	case core.TriggerWebhook:
		if spec.Key == "" {
			return fmt.Errorf("%w: webhook trigger requires a key", core.ErrMalformedGraph)
		}
	case core.TriggerSchedule:
		if spec.Cron == "" {
			return fmt.Errorf("%w: schedule trigger requires a cron expression", core.ErrMalformedGraph)
		}
		if _, err := ParseCron(spec.Cron); err != nil {
			return fmt.Errorf("%w: invalid cron %q: %v", core.ErrMalformedGraph, spec.Cron, err)
		}
	}
	return nil
}
