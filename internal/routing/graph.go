package routing

import (
	"encoding/json"
	"fmt"
)

// Node represents a single node in a flow graph, parsed from the visual
// editor JSON.
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Position holds the x/y canvas position of a node (for editor persistence).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData holds the configuration data for a flow node.
type NodeData struct {
	Label    string         `json:"label"`
	EntityID *int64         `json:"entity_id,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Edge represents a connection between two nodes in the flow graph.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle"`
	TargetHandle string `json:"targetHandle"`
	Label        string `json:"label,omitempty"`
}

// Graph is the parsed representation of the flow JSON stored in
// call_flows.flow_data.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node types understood by the evaluator.
const (
	NodeTypeEntry     = "entry"
	NodeTypeExtension = "extension"
	NodeTypeUser      = "user"
	NodeTypeSchedule  = "schedule"
	NodeTypeHangup    = "hangup"
)

// ParseGraph parses the stored flow JSON into a Graph.
func ParseGraph(flowData string) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal([]byte(flowData), &g); err != nil {
		return nil, fmt.Errorf("parsing flow graph: %w", err)
	}
	return &g, nil
}

// nodeByID builds a lookup map over the graph's nodes.
func (g *Graph) nodeByID() map[string]Node {
	m := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		m[n.ID] = n
	}
	return m
}

// followEdge finds the target node ID by matching the source node ID and
// source handle name.
func (g *Graph) followEdge(sourceNodeID, sourceHandle string) (string, bool) {
	for _, edge := range g.Edges {
		if edge.Source == sourceNodeID && edge.SourceHandle == sourceHandle {
			return edge.Target, true
		}
	}
	return "", false
}
