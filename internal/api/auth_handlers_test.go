package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/setup", setupRequest{
		Username:  "admin",
		Password:  "hunter2hunter2",
		Name:      "Site Admin",
		Extension: "100",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	var created userResponse
	decodeData(t, rec, &created)
	if created.Role != "admin" {
		t.Errorf("role = %q, want admin", created.Role)
	}
	if strings.Contains(rec.Body.String(), "argon2id") {
		t.Error("response leaks the password hash")
	}

	// A second setup attempt is refused.
	rec = env.do(t, http.MethodPost, "/api/v1/setup", setupRequest{
		Username: "intruder",
		Password: "hunter2hunter2",
		Name:     "Intruder",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("second setup: status = %d, want 403", rec.Code)
	}
}

func TestSetupRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/setup", setupRequest{
		Username: "admin",
		Password: "short",
		Name:     "Site Admin",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdminLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin", "100", "admin")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Username: "admin",
		Password: "hunter2hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var sessionCookie, csrfCookie bool
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case "voxera_session":
			sessionCookie = c.Value != ""
		case "voxera_csrf":
			csrfCookie = c.Value != ""
		}
	}
	if !sessionCookie || !csrfCookie {
		t.Errorf("cookies set: session=%v csrf=%v, want both", sessionCookie, csrfCookie)
	}
}

func TestAdminLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin", "100", "admin")
	env.seedUser(t, "bob", "101", "user")

	tests := []struct {
		name     string
		req      loginRequest
		wantCode int
	}{
		{"wrong password", loginRequest{Username: "admin", Password: "wrong-password"}, http.StatusUnauthorized},
		{"unknown user", loginRequest{Username: "ghost", Password: "hunter2hunter2"}, http.StatusUnauthorized},
		{"non-admin", loginRequest{Username: "bob", Password: "hunter2hunter2"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/login", tt.req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestLoginDoesNotRevealUnknownUsers(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "admin", "100", "admin")

	wrongPass := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Username: "admin", Password: "wrong-password",
	})
	unknown := env.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Username: "ghost", Password: "wrong-password",
	})
	if wrongPass.Body.String() != unknown.Body.String() {
		t.Error("wrong-password and unknown-user responses differ")
	}
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	rec := env.adminDo(t, http.MethodPost, "/api/v1/auth/logout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status = %d, want 200", rec.Code)
	}

	// The session is gone; the next request fails.
	rec = env.adminDo(t, http.MethodGet, "/api/v1/auth/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout: status = %d, want 401", rec.Code)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	rec := env.adminDo(t, http.MethodGet, "/api/v1/auth/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var me userResponse
	decodeData(t, rec, &me)
	if me.Username != "admin" {
		t.Errorf("username = %q, want admin", me.Username)
	}
}

func TestClientLoginIssuesUsableToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "101", "user")

	rec := env.do(t, http.MethodPost, "/api/v1/client/login", loginRequest{
		Username: "alice",
		Password: "hunter2hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp clientLoginResponse
	decodeData(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("no token issued")
	}
	if resp.User.ID != user.ID {
		t.Errorf("user id = %d, want %d", resp.User.ID, user.ID)
	}

	// The token works on client routes.
	req := jsonRequest(t, http.MethodGet, "/api/v1/client/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	mrec := httptest.NewRecorder()
	env.server.ServeHTTP(mrec, req)
	if mrec.Code != http.StatusOK {
		t.Fatalf("client/me: status = %d, want 200", mrec.Code)
	}

	var me userResponse
	decodeData(t, mrec, &me)
	if me.Extension != "101" {
		t.Errorf("extension = %q, want 101", me.Extension)
	}
}

func TestClientLoginDisabledUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "alice", "101", "user")
	user.Enabled = false
	if err := env.users.Update(context.Background(), user); err != nil {
		t.Fatalf("disabling user: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/client/login", loginRequest{
		Username: "alice",
		Password: "hunter2hunter2",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
