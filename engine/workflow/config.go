package workflow

import (
	"fmt"
	"time"

	"github.com/compozy/autoflow/engine/core"
	str2duration "github.com/xhit/go-str2duration/v2"
)

type NodeKind string

const (
	NodeTrigger   NodeKind = "trigger"
	NodeAction    NodeKind = "action"
	NodeCondition NodeKind = "condition"
	NodeWait      NodeKind = "wait"
)

func (k NodeKind) IsValid() bool {
	switch k {
	case NodeTrigger, NodeAction, NodeCondition, NodeWait:
		return true
	}
	return false
}

// Condition branch labels.
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

// Definition is a user-authored workflow graph. The engine only reads it.
type Definition struct {
	ID        core.ID   `json:"id"         yaml:"id"`
	OwnerID   string    `json:"owner_id"   yaml:"owner_id"`
	Name      string    `json:"name"       yaml:"name"`
	IsActive  bool      `json:"is_active"  yaml:"is_active"`
	Nodes     []Node    `json:"nodes"      yaml:"nodes"`
	Edges     []Edge    `json:"edges"      yaml:"edges"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Node is a vertex of the graph. Data holds kind-specific settings:
//
//	trigger:   type, key, cron
//	action:    action_type, params
//	condition: expression
//	wait:      delay (Go duration string)
type Node struct {
	ID   string         `json:"id"             yaml:"id"`
	Kind NodeKind       `json:"kind"           yaml:"kind"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

type Edge struct {
	From  string `json:"from"            yaml:"from"`
	To    string `json:"to"              yaml:"to"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Graph is the persisted shape of a definition's nodes and edges.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (d *Definition) Graph() Graph {
	return Graph{Nodes: d.Nodes, Edges: d.Edges}
}

// TriggerSpec is the routing information carried by a trigger node.
type TriggerSpec struct {
	Type core.TriggerType
	Key  string
	Cron string
}

// ActionSpec names a registered action and its parameter templates.
type ActionSpec struct {
	Type   string
	Params map[string]any
}

func (n *Node) stringField(name string) string {
	if n.Data == nil {
		return ""
	}
	v, ok := n.Data[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (n *Node) TriggerSpec() (TriggerSpec, error) {
	if n.Kind != NodeTrigger {
		return TriggerSpec{}, fmt.Errorf("%w: node %q is not a trigger", core.ErrMalformedGraph, n.ID)
	}
	spec := TriggerSpec{
		Type: core.TriggerType(n.stringField("type")),
		Key:  n.stringField("key"),
		Cron: n.stringField("cron"),
	}
	if spec.Type == "" {
		spec.Type = core.TriggerWebhook
	}
	if !spec.Type.IsValid() {
		return TriggerSpec{}, fmt.Errorf("%w: trigger %q has unknown type %q", core.ErrMalformedGraph, n.ID, spec.Type)
	}
	return spec, nil
}

func (n *Node) ActionSpec() (ActionSpec, error) {
	spec := ActionSpec{Type: n.stringField("action_type")}
	if spec.Type == "" {
		return ActionSpec{}, fmt.Errorf("%w: action %q has no action_type", core.ErrMalformedGraph, n.ID)
	}
	if raw, ok := n.Data["params"]; ok && raw != nil {
		params, ok := raw.(map[string]any)
		if !ok {
			return ActionSpec{}, fmt.Errorf("%w: action %q params must be an object", core.ErrMalformedGraph, n.ID)
		}
		spec.Params = params
	}
	return spec, nil
}

func (n *Node) Expression() (string, error) {
	expr := n.stringField("expression")
	if expr == "" {
		return "", fmt.Errorf("%w: condition %q has no expression", core.ErrMalformedGraph, n.ID)
	}
	return expr, nil
}

func (n *Node) WaitDelay() (time.Duration, error) {
	raw := n.stringField("delay")
	if raw == "" {
		return 0, fmt.Errorf("%w: wait %q has no delay", core.ErrMalformedGraph, n.ID)
	}
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: wait %q delay %q: %v", core.ErrMalformedGraph, n.ID, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: wait %q delay must not be negative", core.ErrMalformedGraph, n.ID)
	}
	return d, nil
}
