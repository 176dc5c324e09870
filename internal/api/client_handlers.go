package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/johanake/voxera/internal/api/middleware"
	"github.com/johanake/voxera/internal/database"
)

// handleClientMe returns the authenticated softphone user's profile.
func (s *Server) handleClientMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.ClientUserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		slog.Error("client me: failed to query", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || !user.Enabled {
		writeError(w, http.StatusUnauthorized, "user no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleClientMediaToken issues a carrier access token so the browser
// can receive bridged PSTN media. 503 when no carrier is configured.
func (s *Server) handleClientMediaToken(w http.ResponseWriter, r *http.Request) {
	userID := middleware.ClientUserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if s.carrier == nil || !s.carrier.Configured() {
		writeError(w, http.StatusServiceUnavailable, "carrier not configured")
		return
	}

	token, err := s.carrier.AccessToken(strconv.FormatInt(userID, 10))
	if err != nil {
		slog.Error("client token: failed to sign", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleClientHistory returns the authenticated user's own call
// history: records where their extension appears on either side.
func (s *Server) handleClientHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.ClientUserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "user no longer exists")
		return
	}

	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	recs, total, err := s.history.List(r.Context(), database.CallHistoryListFilter{
		Search: user.Extension,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		slog.Error("client history: failed to query", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]historyResponse, len(recs))
	for i := range recs {
		items[i] = toHistoryResponse(&recs[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}
