package api

import (
	"log/slog"
	"net/http"

	"github.com/johanake/voxera/internal/database"
)

// settingsResponse is the JSON response for system settings. The carrier
// auth token is write-only: the response only reports whether one is
// stored.
type settingsResponse struct {
	CompanyName       string `json:"company_name"`
	CarrierAccountSID string `json:"carrier_account_sid"`
	CarrierTokenSet   bool   `json:"carrier_token_set"`
}

// settingsRequest is the JSON request body for updating system settings.
// Nil fields are left unchanged.
type settingsRequest struct {
	CompanyName       *string `json:"company_name"`
	CarrierAccountSID *string `json:"carrier_account_sid"`
	CarrierAuthToken  *string `json:"carrier_auth_token"`
}

// handleGetSettings returns the current system settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	resp := settingsResponse{}
	var err error

	if resp.CompanyName, err = s.systemConfig.Get(r.Context(), database.ConfigKeyCompanyName); err != nil {
		slog.Error("get settings: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if resp.CarrierAccountSID, err = s.systemConfig.Get(r.Context(), database.ConfigKeyCarrierAccountSID); err != nil {
		slog.Error("get settings: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := s.systemConfig.Get(r.Context(), database.ConfigKeyCarrierAuthToken)
	if err != nil {
		slog.Error("get settings: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp.CarrierTokenSet = token != ""

	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateSettings applies the provided settings fields.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	updates := map[string]*string{
		database.ConfigKeyCompanyName:       req.CompanyName,
		database.ConfigKeyCarrierAccountSID: req.CarrierAccountSID,
		database.ConfigKeyCarrierAuthToken:  req.CarrierAuthToken,
	}
	for key, value := range updates {
		if value == nil {
			continue
		}
		if errMsg := validateStringLen(key, *value, maxNameLen); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		if err := s.systemConfig.Set(r.Context(), key, *value); err != nil {
			slog.Error("update settings: failed to store", "error", err, "key", key)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	slog.Info("system settings updated")
	s.handleGetSettings(w, r)
}
