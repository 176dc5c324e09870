package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/johanake/voxera/internal/api/middleware"
	"github.com/johanake/voxera/internal/database"
	"github.com/johanake/voxera/internal/database/models"
)

// setupRequest creates the first admin account on an empty system.
type setupRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Extension string `json:"extension"`
}

// handleSetup creates the initial admin user. Refused once any user
// exists.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	count, err := s.users.Count(r.Context())
	if err != nil {
		slog.Error("setup: failed to count users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if count > 0 {
		writeError(w, http.StatusForbidden, "setup already completed")
		return
	}

	var req setupRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateUsername("username", req.Username); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validatePassword("password", req.Password); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("name", req.Name, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateEmail("email", req.Email); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Extension == "" {
		req.Extension = "100"
	}
	if errMsg := validateExtensionNumber("extension", req.Extension); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		slog.Error("setup: failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Name:         req.Name,
		Email:        req.Email,
		Extension:    req.Extension,
		Role:         "admin",
		Enabled:      true,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		slog.Error("setup: failed to create admin", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("initial admin created", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// loginRequest is the JSON body for both admin and client logins.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin authenticates an admin and starts a cookie session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	sess, err := s.sessions.Create(user.ID, user.Username)
	if err != nil {
		slog.Error("login: failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	middleware.SetSessionCookie(w, sess, s.cfg.TLSEnabled())

	slog.Info("admin logged in", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       toUserResponse(user),
		"csrf_token": sess.CSRFToken,
	})
}

// handleLogout ends the current admin session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := middleware.SessionIDFromContext(r.Context()); id != "" {
		s.sessions.Delete(id)
	}
	middleware.ClearSessionCookie(w, s.cfg.TLSEnabled())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleMe returns the authenticated admin.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	admin := middleware.AdminUserFromContext(r.Context())
	if admin == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), admin.ID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "user no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// clientLoginResponse carries the signaling token a softphone uses for
// both REST calls and the WebSocket handshake.
type clientLoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      userResponse `json:"user"`
}

// handleClientLogin authenticates a softphone user and issues a JWT.
func (s *Server) handleClientLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	token, expiresAt, err := s.clientTokens.Generate(user.ID, user.Extension, user.Name)
	if err != nil {
		slog.Error("client login: failed to sign token", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("client logged in", "user_id", user.ID, "extension", user.Extension)
	writeJSON(w, http.StatusOK, clientLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      toUserResponse(user),
	})
}

// authenticate verifies the username/password in the request body.
// Writes the error response itself when authentication fails. The
// failure message never distinguishes unknown users from bad passwords.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	var req loginRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return nil, false
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return nil, false
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("login: failed to query user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if user == nil || !user.Enabled {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return nil, false
	}

	match, err := database.CheckPassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		slog.Info("login failed", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return nil, false
	}
	return user, true
}
