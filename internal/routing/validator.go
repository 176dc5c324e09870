package routing

import (
	"context"
	"fmt"

	"github.com/johanake/voxera/internal/database"
)

// ValidationSeverity indicates the severity of a validation issue.
type ValidationSeverity string

const (
	// SeverityError indicates a problem that prevents the flow from working.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates a potential issue that may cause unexpected behavior.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue describes a single problem found during flow validation.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	NodeID   string             `json:"nodeId,omitempty"`
	Message  string             `json:"message"`
}

// ValidationResult holds the outcome of validating a flow graph.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues"`
}

// Validator checks a flow graph for structural and referential integrity
// before it can be published.
type Validator struct {
	users database.UserRepository
}

// NewValidator creates a flow graph validator.
func NewValidator(users database.UserRepository) *Validator {
	return &Validator{users: users}
}

// Validate checks the flow graph for common issues:
//   - Empty graph or missing entry node
//   - Unknown node types
//   - Orphan edges (edges referencing non-existent nodes)
//   - Nodes with no incoming edges (disconnected, except the entry node)
//   - Non-terminal nodes with no outgoing edges (dead ends)
//   - Extension/user nodes referencing users that don't exist
func (v *Validator) Validate(ctx context.Context, graph *Graph, entryNodeID string) *ValidationResult {
	result := &ValidationResult{Valid: true, Issues: []ValidationIssue{}}

	if len(graph.Nodes) == 0 {
		result.addError("", "flow has no nodes")
		return result
	}

	nodeSet := graph.nodeByID()

	if entryNodeID != "" {
		if _, ok := nodeSet[entryNodeID]; !ok {
			result.addError("", fmt.Sprintf("entry node %q not found in flow", entryNodeID))
		}
	}

	knownTypes := map[string]bool{
		NodeTypeEntry:     true,
		NodeTypeExtension: true,
		NodeTypeUser:      true,
		NodeTypeSchedule:  true,
		NodeTypeHangup:    true,
	}

	hasIncoming := make(map[string]bool)
	hasOutgoing := make(map[string]bool)

	for _, edge := range graph.Edges {
		if _, ok := nodeSet[edge.Source]; !ok {
			result.addError("", fmt.Sprintf("edge %s references non-existent source node %q", edge.ID, edge.Source))
		} else {
			hasOutgoing[edge.Source] = true
		}

		if _, ok := nodeSet[edge.Target]; !ok {
			result.addError("", fmt.Sprintf("edge %s references non-existent target node %q", edge.ID, edge.Target))
		} else {
			hasIncoming[edge.Target] = true
		}
	}

	// Terminal node types end the walk, with or without outgoing edges.
	terminalTypes := map[string]bool{
		NodeTypeHangup:    true,
		NodeTypeExtension: true,
		NodeTypeUser:      true,
	}

	for _, node := range graph.Nodes {
		if !knownTypes[node.Type] {
			result.addError(node.ID, fmt.Sprintf("node %q has unknown type %q", node.Data.Label, node.Type))
			continue
		}

		if node.ID != entryNodeID && !hasIncoming[node.ID] {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityWarning,
				NodeID:   node.ID,
				Message:  fmt.Sprintf("node %q (%s) has no incoming edges (disconnected)", node.Data.Label, node.Type),
			})
		}

		if !terminalTypes[node.Type] && !hasOutgoing[node.ID] {
			result.Issues = append(result.Issues, ValidationIssue{
				Severity: SeverityWarning,
				NodeID:   node.ID,
				Message:  fmt.Sprintf("node %q (%s) has no outgoing edges (dead end)", node.Data.Label, node.Type),
			})
		}
	}

	// Validate user references.
	for _, node := range graph.Nodes {
		switch node.Type {
		case NodeTypeExtension:
			ext, _ := node.Data.Config["extension"].(string)
			if ext == "" {
				result.addError(node.ID, fmt.Sprintf("node %q has no extension configured", node.Data.Label))
				continue
			}
			user, err := v.users.GetByExtension(ctx, ext)
			if err != nil {
				result.addError(node.ID, fmt.Sprintf("node %q: resolving extension %s: %v", node.Data.Label, ext, err))
				continue
			}
			if user == nil {
				result.addError(node.ID, fmt.Sprintf("node %q: no user has extension %s", node.Data.Label, ext))
			}

		case NodeTypeUser:
			if node.Data.EntityID == nil {
				result.addError(node.ID, fmt.Sprintf("node %q has no user configured", node.Data.Label))
				continue
			}
			user, err := v.users.GetByID(ctx, *node.Data.EntityID)
			if err != nil {
				result.addError(node.ID, fmt.Sprintf("node %q: resolving user %d: %v", node.Data.Label, *node.Data.EntityID, err))
				continue
			}
			if user == nil {
				result.addError(node.ID, fmt.Sprintf("node %q: user %d not found", node.Data.Label, *node.Data.EntityID))
			}
		}
	}

	return result
}

func (r *ValidationResult) addError(nodeID, msg string) {
	r.Valid = false
	r.Issues = append(r.Issues, ValidationIssue{
		Severity: SeverityError,
		NodeID:   nodeID,
		Message:  msg,
	})
}
