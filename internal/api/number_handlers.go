package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/johanake/voxera/internal/database/models"
)

// numberRequest is the JSON request body for creating/updating a phone number.
type numberRequest struct {
	Number  string `json:"number"`
	Name    string `json:"name"`
	FlowID  *int64 `json:"flow_id"`
	Enabled *bool  `json:"enabled"`
}

// numberResponse is the JSON response for a single phone number.
type numberResponse struct {
	ID        int64  `json:"id"`
	Number    string `json:"number"`
	Name      string `json:"name"`
	FlowID    *int64 `json:"flow_id"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// toNumberResponse converts a models.PhoneNumber to the API response.
func toNumberResponse(n *models.PhoneNumber) numberResponse {
	return numberResponse{
		ID:        n.ID,
		Number:    n.Number,
		Name:      n.Name,
		FlowID:    n.FlowID,
		Enabled:   n.Enabled,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		UpdatedAt: n.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListNumbers returns phone numbers with pagination.
func (s *Server) handleListNumbers(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	nums, err := s.numbers.List(r.Context())
	if err != nil {
		slog.Error("list numbers: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	all := make([]numberResponse, len(nums))
	for i := range nums {
		all[i] = toNumberResponse(&nums[i])
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

// handleCreateNumber provisions a phone number.
func (s *Server) handleCreateNumber(w http.ResponseWriter, r *http.Request) {
	var req numberRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := s.validateNumberRequest(r, req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	num := &models.PhoneNumber{
		Number:  req.Number,
		Name:    req.Name,
		FlowID:  req.FlowID,
		Enabled: true,
	}
	if req.Enabled != nil {
		num.Enabled = *req.Enabled
	}

	if err := s.numbers.Create(r.Context(), num); err != nil {
		if isConstraintError(err) {
			writeError(w, http.StatusConflict, "number already provisioned")
			return
		}
		slog.Error("create number: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.numbers.GetByID(r.Context(), num.ID)
	if err != nil || created == nil {
		slog.Error("create number: failed to re-fetch", "error", err, "number_id", num.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("phone number created", "number_id", created.ID, "number", created.Number)
	writeJSON(w, http.StatusCreated, toNumberResponse(created))
}

// handleGetNumber returns a single phone number by ID.
func (s *Server) handleGetNumber(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number id")
		return
	}

	num, err := s.numbers.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get number: failed to query", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if num == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}
	writeJSON(w, http.StatusOK, toNumberResponse(num))
}

// handleUpdateNumber updates an existing phone number.
func (s *Server) handleUpdateNumber(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number id")
		return
	}

	existing, err := s.numbers.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update number: failed to query", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}

	var req numberRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := s.validateNumberRequest(r, req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing.Number = req.Number
	existing.Name = req.Name
	existing.FlowID = req.FlowID
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	if err := s.numbers.Update(r.Context(), existing); err != nil {
		if isConstraintError(err) {
			writeError(w, http.StatusConflict, "number already provisioned")
			return
		}
		slog.Error("update number: failed to update", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.numbers.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		slog.Error("update number: failed to re-fetch", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("phone number updated", "number_id", id, "number", updated.Number)
	writeJSON(w, http.StatusOK, toNumberResponse(updated))
}

// handleDeleteNumber removes a phone number by ID.
func (s *Server) handleDeleteNumber(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number id")
		return
	}

	existing, err := s.numbers.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete number: failed to query", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "number not found")
		return
	}

	if err := s.numbers.Delete(r.Context(), id); err != nil {
		slog.Error("delete number: failed to delete", "error", err, "number_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("phone number deleted", "number_id", id, "number", existing.Number)
	w.WriteHeader(http.StatusNoContent)
}

// validateNumberRequest checks a phone number create/update body,
// including that a referenced flow exists.
func (s *Server) validateNumberRequest(r *http.Request, req numberRequest) string {
	if errMsg := validateE164("number", req.Number); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("name", req.Name, maxNameLen); errMsg != "" {
		return errMsg
	}
	if req.FlowID != nil {
		flow, err := s.flows.GetByID(r.Context(), *req.FlowID)
		if err != nil {
			slog.Error("validate number: failed to query flow", "error", err, "flow_id", *req.FlowID)
			return "flow_id could not be verified"
		}
		if flow == nil {
			return "flow_id references an unknown flow"
		}
	}
	return ""
}
