package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func TestNumberCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	flow := createFlow(t, env, extensionFlowData)

	// Create, linked to the flow.
	rec := env.adminDo(t, http.MethodPost, "/api/v1/numbers", numberRequest{
		Number: "+15550100",
		Name:   "Main line",
		FlowID: &flow.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var created numberResponse
	decodeData(t, rec, &created)
	if created.FlowID == nil || *created.FlowID != flow.ID {
		t.Errorf("flow_id = %v, want %d", created.FlowID, flow.ID)
	}
	if !created.Enabled {
		t.Error("new number should be enabled by default")
	}

	// Update: detach the flow and disable.
	disabled := false
	rec = env.adminDo(t, http.MethodPut, fmt.Sprintf("/api/v1/numbers/%d", created.ID), numberRequest{
		Number:  "+15550100",
		Name:    "Main line (paused)",
		Enabled: &disabled,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var updated numberResponse
	decodeData(t, rec, &updated)
	if updated.FlowID != nil {
		t.Errorf("flow_id = %v, want nil", updated.FlowID)
	}
	if updated.Enabled {
		t.Error("number should be disabled")
	}

	// Delete.
	rec = env.adminDo(t, http.MethodDelete, fmt.Sprintf("/api/v1/numbers/%d", created.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", rec.Code)
	}
}

func TestCreateNumberValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	unknownFlow := int64(999)
	tests := []struct {
		name string
		req  numberRequest
	}{
		{"missing number", numberRequest{Name: "X"}},
		{"not e164", numberRequest{Number: "5550100", Name: "X"}},
		{"letters", numberRequest{Number: "+1555CALLNOW", Name: "X"}},
		{"unknown flow", numberRequest{Number: "+15550100", Name: "X", FlowID: &unknownFlow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.adminDo(t, http.MethodPost, "/api/v1/numbers", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateDuplicateNumber(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	req := numberRequest{Number: "+15550100", Name: "Main"}
	if rec := env.adminDo(t, http.MethodPost, "/api/v1/numbers", req); rec.Code != http.StatusCreated {
		t.Fatalf("first create: status = %d, want 201", rec.Code)
	}
	if rec := env.adminDo(t, http.MethodPost, "/api/v1/numbers", req); rec.Code != http.StatusConflict {
		t.Errorf("second create: status = %d, want 409", rec.Code)
	}
}

func TestListNumbersPagination(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	for i := 0; i < 3; i++ {
		rec := env.adminDo(t, http.MethodPost, "/api/v1/numbers", numberRequest{
			Number: fmt.Sprintf("+1555010%d", i),
			Name:   fmt.Sprintf("Line %d", i),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: status = %d, want 201", i, rec.Code)
		}
	}

	rec := env.adminDo(t, http.MethodGet, "/api/v1/numbers?limit=2&offset=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", rec.Code)
	}

	var page struct {
		Items []json.RawMessage `json:"items"`
		Total int               `json:"total"`
	}
	decodeData(t, rec, &page)
	if page.Total != 3 {
		t.Errorf("total = %d, want 3", page.Total)
	}
	if len(page.Items) != 1 {
		t.Errorf("items = %d, want 1", len(page.Items))
	}
}
