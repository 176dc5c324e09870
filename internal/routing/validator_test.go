package routing

import (
	"context"
	"strings"
	"testing"

	"github.com/johanake/voxera/internal/database/models"
)

func validatorWithUsers(users map[int64]*models.User) *Validator {
	return NewValidator(&fakeUsers{byID: users})
}

func mustParse(t *testing.T, data string) *Graph {
	t.Helper()
	g, err := ParseGraph(data)
	if err != nil {
		t.Fatalf("ParseGraph() error: %v", err)
	}
	return g
}

func TestValidateWellFormedFlow(t *testing.T) {
	users := map[int64]*models.User{
		7: {ID: 7, Extension: "101", Enabled: true},
	}
	g := mustParse(t, extensionFlow)

	result := validatorWithUsers(users).Validate(context.Background(), g, "entry-1")
	if !result.Valid {
		t.Errorf("Validate() invalid, issues: %+v", result.Issues)
	}
	if len(result.Issues) != 0 {
		t.Errorf("Validate() issues = %+v, want none", result.Issues)
	}
}

func TestValidateEmptyGraph(t *testing.T) {
	g := mustParse(t, `{"nodes": [], "edges": []}`)
	result := validatorWithUsers(nil).Validate(context.Background(), g, "entry-1")
	if result.Valid {
		t.Error("empty graph should be invalid")
	}
}

func TestValidateMissingEntryNode(t *testing.T) {
	g := mustParse(t, `{"nodes": [{"id": "n1", "type": "hangup", "data": {}}], "edges": []}`)
	result := validatorWithUsers(nil).Validate(context.Background(), g, "entry-1")
	if result.Valid {
		t.Error("graph without its entry node should be invalid")
	}
}

func TestValidateOrphanEdge(t *testing.T) {
	g := mustParse(t, `{
		"nodes": [{"id": "entry-1", "type": "entry", "data": {}}],
		"edges": [{"id": "e1", "source": "entry-1", "target": "ghost", "sourceHandle": "next"}]
	}`)
	result := validatorWithUsers(nil).Validate(context.Background(), g, "entry-1")
	if result.Valid {
		t.Error("edge to non-existent node should be invalid")
	}
	found := false
	for _, issue := range result.Issues {
		if issue.Severity == SeverityError && strings.Contains(issue.Message, "ghost") {
			found = true
		}
	}
	if !found {
		t.Errorf("issues %+v should name the missing node", result.Issues)
	}
}

func TestValidateDisconnectedNodeWarns(t *testing.T) {
	users := map[int64]*models.User{
		7: {ID: 7, Extension: "101", Enabled: true},
	}
	g := mustParse(t, `{
		"nodes": [
			{"id": "entry-1", "type": "entry", "data": {}},
			{"id": "ext-1", "type": "extension", "data": {"config": {"extension": "101"}}},
			{"id": "stray", "type": "hangup", "data": {"label": "Stray"}}
		],
		"edges": [
			{"id": "e1", "source": "entry-1", "target": "ext-1", "sourceHandle": "next"}
		]
	}`)

	result := validatorWithUsers(users).Validate(context.Background(), g, "entry-1")
	if !result.Valid {
		t.Errorf("disconnected node should only warn, issues: %+v", result.Issues)
	}
	if len(result.Issues) != 1 || result.Issues[0].Severity != SeverityWarning {
		t.Errorf("issues = %+v, want one warning", result.Issues)
	}
}

func TestValidateDeadEndWarns(t *testing.T) {
	g := mustParse(t, `{
		"nodes": [
			{"id": "entry-1", "type": "entry", "data": {}},
			{"id": "sched-1", "type": "schedule", "data": {"config": {}}}
		],
		"edges": [
			{"id": "e1", "source": "entry-1", "target": "sched-1", "sourceHandle": "next"}
		]
	}`)

	result := validatorWithUsers(nil).Validate(context.Background(), g, "entry-1")
	warned := false
	for _, issue := range result.Issues {
		if issue.Severity == SeverityWarning && issue.NodeID == "sched-1" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("issues = %+v, want dead-end warning for sched-1", result.Issues)
	}
}

func TestValidateUnknownNodeType(t *testing.T) {
	g := mustParse(t, `{
		"nodes": [{"id": "n1", "type": "teleport", "data": {}}],
		"edges": []
	}`)
	result := validatorWithUsers(nil).Validate(context.Background(), g, "n1")
	if result.Valid {
		t.Error("unknown node type should be invalid")
	}
}

func TestValidateUserReferences(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		users map[int64]*models.User
		valid bool
	}{
		{
			name: "extension with no user",
			data: `{
				"nodes": [
					{"id": "entry-1", "type": "entry", "data": {}},
					{"id": "ext-1", "type": "extension", "data": {"config": {"extension": "999"}}}
				],
				"edges": [{"id": "e1", "source": "entry-1", "target": "ext-1", "sourceHandle": "next"}]
			}`,
			users: map[int64]*models.User{},
			valid: false,
		},
		{
			name: "extension node missing config",
			data: `{
				"nodes": [
					{"id": "entry-1", "type": "entry", "data": {}},
					{"id": "ext-1", "type": "extension", "data": {}}
				],
				"edges": [{"id": "e1", "source": "entry-1", "target": "ext-1", "sourceHandle": "next"}]
			}`,
			users: map[int64]*models.User{},
			valid: false,
		},
		{
			name: "user node references deleted user",
			data: `{
				"nodes": [
					{"id": "entry-1", "type": "entry", "data": {}},
					{"id": "u-1", "type": "user", "data": {"entity_id": 42}}
				],
				"edges": [{"id": "e1", "source": "entry-1", "target": "u-1", "sourceHandle": "next"}]
			}`,
			users: map[int64]*models.User{},
			valid: false,
		},
		{
			name: "user node resolves",
			data: `{
				"nodes": [
					{"id": "entry-1", "type": "entry", "data": {}},
					{"id": "u-1", "type": "user", "data": {"entity_id": 42}}
				],
				"edges": [{"id": "e1", "source": "entry-1", "target": "u-1", "sourceHandle": "next"}]
			}`,
			users: map[int64]*models.User{42: {ID: 42, Extension: "102", Enabled: true}},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustParse(t, tt.data)
			result := validatorWithUsers(tt.users).Validate(context.Background(), g, "entry-1")
			if result.Valid != tt.valid {
				t.Errorf("Validate() valid = %v, want %v (issues: %+v)", result.Valid, tt.valid, result.Issues)
			}
		})
	}
}
