package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/johanake/voxera/internal/api/middleware"
	"github.com/johanake/voxera/internal/database"
	"github.com/johanake/voxera/internal/database/models"
)

// userRequest is the JSON request body for creating/updating a user.
type userRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Extension string `json:"extension"`
	Role      string `json:"role"`
	Enabled   *bool  `json:"enabled"`
}

// userResponse is the JSON response for a single user.
// The password hash is never returned.
type userResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Extension string `json:"extension"`
	Role      string `json:"role"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// toUserResponse converts a models.User to the API response.
func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Email:     u.Email,
		Extension: u.Extension,
		Role:      u.Role,
		Enabled:   u.Enabled,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListUsers returns users with pagination.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	users, err := s.users.List(r.Context())
	if err != nil {
		slog.Error("list users: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	all := make([]userResponse, len(users))
	for i := range users {
		all[i] = toUserResponse(&users[i])
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

// handleCreateUser creates a new user.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateUserRequest(req, true); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		slog.Error("create user: failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Name:         req.Name,
		Email:        req.Email,
		Extension:    req.Extension,
		Role:         req.Role,
		Enabled:      true,
	}
	if user.Role == "" {
		user.Role = "user"
	}
	if req.Enabled != nil {
		user.Enabled = *req.Enabled
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		if isConstraintError(err) {
			writeError(w, http.StatusConflict, "username or extension already in use")
			return
		}
		slog.Error("create user: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Re-fetch to get timestamps populated by the database.
	created, err := s.users.GetByID(r.Context(), user.ID)
	if err != nil || created == nil {
		slog.Error("create user: failed to re-fetch", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user created", "user_id", created.ID, "username", created.Username, "extension", created.Extension)
	writeJSON(w, http.StatusCreated, toUserResponse(created))
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleUpdateUser updates an existing user.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	existing, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req userRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateUserRequest(req, false); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing.Username = req.Username
	existing.Name = req.Name
	existing.Email = req.Email
	existing.Extension = req.Extension
	if req.Role != "" {
		existing.Role = req.Role
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	// Only update the password when a new one is provided.
	if req.Password != "" {
		hash, err := database.HashPassword(req.Password)
		if err != nil {
			slog.Error("update user: failed to hash password", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		existing.PasswordHash = hash
	}

	if err := s.users.Update(r.Context(), existing); err != nil {
		if isConstraintError(err) {
			writeError(w, http.StatusConflict, "username or extension already in use")
			return
		}
		slog.Error("update user: failed to update", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.users.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		slog.Error("update user: failed to re-fetch", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user updated", "user_id", id, "username", updated.Username)
	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

// handleDeleteUser removes a user by ID. An admin cannot delete itself.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	existing, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if admin := adminFrom(r); admin != nil && admin.ID == id {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		slog.Error("delete user: failed to delete", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.sessions.DeleteByUserID(id)

	slog.Info("user deleted", "user_id", id, "username", existing.Username)
	w.WriteHeader(http.StatusNoContent)
}

// adminFrom returns the authenticated admin on the request, or nil.
func adminFrom(r *http.Request) *middleware.AdminUser {
	return middleware.AdminUserFromContext(r.Context())
}

// parseID extracts and parses the numeric ID from the URL parameter.
func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// isConstraintError reports whether a database error came from a UNIQUE
// constraint violation.
func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// validateUserRequest checks required fields for a user create/update.
// isCreate controls whether password is required.
func validateUserRequest(req userRequest, isCreate bool) string {
	if errMsg := validateUsername("username", req.Username); errMsg != "" {
		return errMsg
	}
	if isCreate || req.Password != "" {
		if errMsg := validatePassword("password", req.Password); errMsg != "" {
			return errMsg
		}
	}
	if errMsg := validateRequiredStringLen("name", req.Name, maxNameLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateEmail("email", req.Email); errMsg != "" {
		return errMsg
	}
	if errMsg := validateExtensionNumber("extension", req.Extension); errMsg != "" {
		return errMsg
	}
	if req.Role != "" {
		if errMsg := validateRole("role", req.Role); errMsg != "" {
			return errMsg
		}
	}
	return ""
}
