package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/johanake/voxera/internal/database/models"
	"github.com/johanake/voxera/internal/routing"
)

// flowRequest is the JSON request body for creating/updating a call flow.
type flowRequest struct {
	Name      string          `json:"name"`
	FlowData  json.RawMessage `json:"flow_data"`
	EntryNode string          `json:"entry_node"`
}

// flowResponse is the JSON response for a single call flow.
type flowResponse struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	FlowData  json.RawMessage `json:"flow_data"`
	EntryNode string          `json:"entry_node"`
	Published bool            `json:"published"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// toFlowResponse converts a models.CallFlow to the API response.
func toFlowResponse(f *models.CallFlow) flowResponse {
	data := json.RawMessage(f.FlowData)
	if f.FlowData == "" {
		data = json.RawMessage("{}")
	}
	return flowResponse{
		ID:        f.ID,
		Name:      f.Name,
		FlowData:  data,
		EntryNode: f.EntryNode,
		Published: f.Published,
		CreatedAt: f.CreatedAt.Format(time.RFC3339),
		UpdatedAt: f.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListFlows returns call flows with pagination.
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	flows, err := s.flows.List(r.Context())
	if err != nil {
		slog.Error("list flows: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	all := make([]flowResponse, len(flows))
	for i := range flows {
		all[i] = toFlowResponse(&flows[i])
	}

	total := len(all)
	start := pg.Offset
	if start > total {
		start = total
	}
	end := start + pg.Limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  all[start:end],
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleCreateFlow saves a new call flow as a draft.
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateFlowRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	flow := &models.CallFlow{
		Name:      req.Name,
		FlowData:  string(req.FlowData),
		EntryNode: req.EntryNode,
		Published: false,
	}
	if err := s.flows.Create(r.Context(), flow); err != nil {
		slog.Error("create flow: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.flows.GetByID(r.Context(), flow.ID)
	if err != nil || created == nil {
		slog.Error("create flow: failed to re-fetch", "error", err, "flow_id", flow.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("call flow created", "flow_id", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, toFlowResponse(created))
}

// handleGetFlow returns a single call flow by ID.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.fetchFlow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toFlowResponse(flow))
}

// handleUpdateFlow updates a call flow. Saving a published flow reverts
// it to draft so the live routing graph never changes without an
// explicit re-publish.
func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.fetchFlow(w, r)
	if !ok {
		return
	}

	var req flowRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateFlowRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing.Name = req.Name
	existing.FlowData = string(req.FlowData)
	existing.EntryNode = req.EntryNode
	existing.Published = false

	if err := s.flows.Update(r.Context(), existing); err != nil {
		slog.Error("update flow: failed to update", "error", err, "flow_id", existing.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.flows.GetByID(r.Context(), existing.ID)
	if err != nil || updated == nil {
		slog.Error("update flow: failed to re-fetch", "error", err, "flow_id", existing.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("call flow updated", "flow_id", updated.ID, "name", updated.Name)
	writeJSON(w, http.StatusOK, toFlowResponse(updated))
}

// handleDeleteFlow removes a call flow. Numbers referencing it fall back
// to unroutable via the schema's ON DELETE SET NULL.
func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.fetchFlow(w, r)
	if !ok {
		return
	}

	if err := s.flows.Delete(r.Context(), existing.ID); err != nil {
		slog.Error("delete flow: failed to delete", "error", err, "flow_id", existing.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("call flow deleted", "flow_id", existing.ID, "name", existing.Name)
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateFlow runs graph validation and returns the issue list
// without changing the flow.
func (s *Server) handleValidateFlow(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.fetchFlow(w, r)
	if !ok {
		return
	}

	result, errMsg := s.validateGraph(r, flow)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePublishFlow validates the flow and marks it live. Validation
// errors block publishing; warnings do not.
func (s *Server) handlePublishFlow(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.fetchFlow(w, r)
	if !ok {
		return
	}

	result, errMsg := s.validateGraph(r, flow)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if !result.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	if err := s.flows.SetPublished(r.Context(), flow.ID, true); err != nil {
		slog.Error("publish flow: failed to update", "error", err, "flow_id", flow.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("call flow published", "flow_id", flow.ID, "name", flow.Name)
	flow.Published = true
	writeJSON(w, http.StatusOK, toFlowResponse(flow))
}

// handleUnpublishFlow reverts a flow to draft. Inbound calls to numbers
// using it are rejected until it is published again.
func (s *Server) handleUnpublishFlow(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.fetchFlow(w, r)
	if !ok {
		return
	}

	if err := s.flows.SetPublished(r.Context(), flow.ID, false); err != nil {
		slog.Error("unpublish flow: failed to update", "error", err, "flow_id", flow.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("call flow unpublished", "flow_id", flow.ID, "name", flow.Name)
	flow.Published = false
	writeJSON(w, http.StatusOK, toFlowResponse(flow))
}

// fetchFlow loads the flow addressed by the URL, writing the error
// response itself when it cannot.
func (s *Server) fetchFlow(w http.ResponseWriter, r *http.Request) (*models.CallFlow, bool) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow id")
		return nil, false
	}

	flow, err := s.flows.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("flow lookup failed", "error", err, "flow_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if flow == nil {
		writeError(w, http.StatusNotFound, "flow not found")
		return nil, false
	}
	return flow, true
}

// validateGraph parses the stored graph and runs the validator.
func (s *Server) validateGraph(r *http.Request, flow *models.CallFlow) (*routing.ValidationResult, string) {
	graph, err := routing.ParseGraph(flow.FlowData)
	if err != nil {
		return nil, "flow graph is not valid JSON"
	}
	return s.flowValidator.Validate(r.Context(), graph, flow.EntryNode), ""
}

// validateFlowRequest checks a flow create/update body. The graph must
// be parseable; structural validation happens at publish time.
func validateFlowRequest(req flowRequest) string {
	if errMsg := validateRequiredStringLen("name", req.Name, maxNameLen); errMsg != "" {
		return errMsg
	}
	if len(req.FlowData) == 0 {
		return "flow_data is required"
	}
	if len(req.FlowData) > maxFlowDataLen {
		return "flow_data exceeds maximum size"
	}
	if _, err := routing.ParseGraph(string(req.FlowData)); err != nil {
		return "flow_data must be a valid flow graph"
	}
	if req.EntryNode == "" {
		return "entry_node is required"
	}
	return ""
}
