package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/johanake/voxera/internal/api/middleware"
	"github.com/johanake/voxera/internal/call"
	"github.com/johanake/voxera/internal/config"
	"github.com/johanake/voxera/internal/database"
	"github.com/johanake/voxera/internal/database/models"
)

// testEnv wires a Server over a temporary database for handler tests.
type testEnv struct {
	server   *Server
	users    database.UserRepository
	flows    database.CallFlowRepository
	numbers  database.PhoneNumberRepository
	history  database.CallHistoryRepository
	registry *call.Registry
	presence *call.Presence
	admin    *models.User
	session  *middleware.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	presence := call.NewPresence()
	registry := call.NewRegistry(call.NewMemoryStore(), presence, logger)

	env := &testEnv{
		users:    database.NewUserRepository(db),
		flows:    database.NewCallFlowRepository(db),
		numbers:  database.NewPhoneNumberRepository(db),
		history:  database.NewCallHistoryRepository(db),
		registry: registry,
		presence: presence,
	}

	env.server = NewServer(Deps{
		Config:       &config.Config{HTTPPort: 8080, LogLevel: "info", LogFormat: "text"},
		Users:        env.users,
		Numbers:      env.numbers,
		Flows:        env.flows,
		History:      env.history,
		SystemConfig: database.NewSystemConfigRepository(db),
		Registry:     registry,
		Presence:     presence,
		Extensions:   call.NewExtensions(),
		Sessions:     middleware.NewSessionStore(),
		ClientTokens: middleware.NewClientTokens([]byte("0123456789abcdef0123456789abcdef")),
	})
	t.Cleanup(env.server.Close)

	return env
}

// seedAdmin creates an admin user plus a live session for it.
func (env *testEnv) seedAdmin(t *testing.T) {
	t.Helper()
	env.admin = env.seedUser(t, "admin", "100", "admin")

	sess, err := env.server.sessions.Create(env.admin.ID, env.admin.Username)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	env.session = sess
}

// seedUser creates an enabled user with password "hunter2hunter2".
func (env *testEnv) seedUser(t *testing.T, username, extension, role string) *models.User {
	t.Helper()

	hash, err := database.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Name:         username + " name",
		Extension:    extension,
		Role:         role,
		Enabled:      true,
	}
	if err := env.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return user
}

// adminDo issues an authenticated admin request with session cookie and
// CSRF header.
func (env *testEnv) adminDo(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	if env.session == nil {
		t.Fatal("seedAdmin must be called first")
	}

	req := jsonRequest(t, method, path, body)
	req.AddCookie(&http.Cookie{Name: "voxera_session", Value: env.session.ID})
	req.Header.Set("X-CSRF-Token", env.session.CSRFToken)

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

// do issues an unauthenticated request.
func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, jsonRequest(t, method, path, body))
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// decodeData unmarshals the envelope's data field into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v (body %s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decoding data: %v (body %s)", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var data map[string]string
	decodeData(t, rec, &data)
	if data["status"] != "ok" {
		t.Errorf("status = %q, want ok", data["status"])
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	paths := []string{"/api/v1/users", "/api/v1/numbers", "/api/v1/flows", "/api/v1/history", "/api/v1/settings"}
	for _, path := range paths {
		rec := env.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without session: status = %d, want 401", path, rec.Code)
		}
	}
}

func TestClientRoutesRequireBearer(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/client/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
