package workflow

import (
	"fmt"

	"github.com/compozy/autoflow/engine/core"
)

func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

func (d *Definition) OutEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// TriggerNode returns the single entry point of the graph.
func (d *Definition) TriggerNode() (*Node, error) {
	var found *Node
	for i := range d.Nodes {
		if d.Nodes[i].Kind != NodeTrigger {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: workflow %s has more than one trigger node", core.ErrMalformedGraph, d.ID)
		}
		found = &d.Nodes[i]
	}
	if found == nil {
		return nil, fmt.Errorf("%w: workflow %s has no trigger node", core.ErrMalformedGraph, d.ID)
	}
	return found, nil
}

// Trigger returns the routing spec of the trigger node.
func (d *Definition) Trigger() (TriggerSpec, error) {
	node, err := d.TriggerNode()
	if err != nil {
		return TriggerSpec{}, err
	}
	return node.TriggerSpec()
}

// Next returns the successor of a non-condition node. An empty string means
// the node is terminal.
func (d *Definition) Next(nodeID string) (string, error) {
	edges := d.OutEdges(nodeID)
	switch len(edges) {
	case 0:
		return "", nil
	case 1:
		return edges[0].To, nil
	default:
		return "", fmt.Errorf("%w: node %q has %d outgoing edges", core.ErrMalformedGraph, nodeID, len(edges))
	}
}

// Branch returns the successor of a condition node for the given outcome.
// An empty string means no branch exists for the outcome.
func (d *Definition) Branch(nodeID string, outcome bool) string {
	label := LabelFalse
	if outcome {
		label = LabelTrue
	}
	for _, e := range d.OutEdges(nodeID) {
		if e.Label == label {
			return e.To
		}
	}
	return ""
}
