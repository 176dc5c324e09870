package api

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/johanake/voxera/internal/call"
)

// activeCallResponse is the JSON shape of one live call session.
type activeCallResponse struct {
	CallID          string `json:"call_id"`
	Origin          string `json:"origin"`
	State           string `json:"state"`
	CallerExtension string `json:"caller_extension"`
	CallerName      string `json:"caller_name"`
	CalleeExtension string `json:"callee_extension"`
	CalleeName      string `json:"callee_name"`
	StartedAt       string `json:"started_at"`
	AnsweredAt      string `json:"answered_at,omitempty"`
}

func toActiveCallResponse(sess *call.Session) activeCallResponse {
	resp := activeCallResponse{
		CallID:          sess.ID,
		Origin:          string(sess.Origin),
		State:           string(sess.State),
		CallerExtension: sess.Caller.Extension,
		CallerName:      sess.Caller.Name,
		CalleeExtension: sess.Callee.Extension,
		CalleeName:      sess.Callee.Name,
		StartedAt:       sess.CreatedAt.Format(time.RFC3339),
	}
	if sess.AnsweredAt != nil {
		resp.AnsweredAt = sess.AnsweredAt.Format(time.RFC3339)
	}
	return resp
}

// handleActiveCalls lists live call sessions, oldest first.
func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.ActiveCalls()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	items := make([]activeCallResponse, len(sessions))
	for i, sess := range sessions {
		items[i] = toActiveCallResponse(sess)
	}
	writeJSON(w, http.StatusOK, items)
}

// handleHangupCall force-ends a live call from the admin panel. Both
// participants are notified through the usual teardown path.
func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "id")
	if callID == "" {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return
	}

	ended, ok := s.registry.End(callID, call.StateEnded)
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if s.notifier != nil {
		s.notifier.NotifyCallEnded(ended, "admin-hangup")
	}

	slog.Info("call ended by admin", "call_id", callID)
	writeJSON(w, http.StatusOK, toActiveCallResponse(ended))
}

// presenceResponse is the JSON shape of one connected user.
type presenceResponse struct {
	UserID    string `json:"user_id"`
	Extension string `json:"extension"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// handlePresence lists connected softphone users and their status.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	entries := s.presence.Snapshot()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Extension < entries[j].Extension
	})

	items := make([]presenceResponse, len(entries))
	for i, e := range entries {
		items[i] = presenceResponse{
			UserID:    e.UserID,
			Extension: e.Extension,
			Name:      e.Name,
			Status:    string(e.Status),
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleDashboardStats returns the headline numbers for the admin
// dashboard.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	userCount, err := s.users.Count(r.Context())
	if err != nil {
		slog.Error("dashboard stats: failed to count users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	byDirection, err := s.history.CountByDirection(r.Context())
	if err != nil {
		slog.Error("dashboard stats: failed to count calls", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":             userCount,
		"connected_clients": s.presence.Count(),
		"active_calls":      s.registry.ActiveCount(),
		"calls_peer":        byDirection["peer"],
		"calls_pstn":        byDirection["pstn"],
	})
}
