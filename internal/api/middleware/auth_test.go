package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionStoreCreateGet(t *testing.T) {
	store := NewSessionStore()

	sess, err := store.Create(1, "admin")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sess.ID == "" || sess.CSRFToken == "" {
		t.Fatal("session missing tokens")
	}

	got := store.Get(sess.ID)
	if got == nil || got.Username != "admin" {
		t.Fatalf("Get() = %+v", got)
	}

	if store.Get("nonexistent") != nil {
		t.Error("Get(nonexistent) should return nil")
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	store := NewSessionStore()
	sess, _ := store.Create(1, "admin")

	store.mu.Lock()
	store.sessions[sess.ID].ExpiresAt = time.Now().Add(-time.Minute)
	store.mu.Unlock()

	if store.Get(sess.ID) != nil {
		t.Error("expired session should not be returned")
	}
	if n := store.CleanExpired(); n != 0 {
		// Get already evicted the expired session.
		t.Errorf("CleanExpired() = %d after eviction", n)
	}
}

func TestSessionStoreDeleteByUserID(t *testing.T) {
	store := NewSessionStore()
	s1, _ := store.Create(1, "admin")
	s2, _ := store.Create(1, "admin")
	s3, _ := store.Create(2, "other")

	store.DeleteByUserID(1)

	if store.Get(s1.ID) != nil || store.Get(s2.ID) != nil {
		t.Error("user 1 sessions should be gone")
	}
	if store.Get(s3.ID) == nil {
		t.Error("user 2 session should survive")
	}
}

func TestRequireAuthNoCookie(t *testing.T) {
	store := NewSessionStore()
	handler := RequireAuth(store, false)(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/users", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthValidSession(t *testing.T) {
	store := NewSessionStore()
	sess, _ := store.Create(7, "admin")

	var gotUser *AdminUser
	handler := RequireAuth(store, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = AdminUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/users", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser == nil || gotUser.ID != 7 || gotUser.Username != "admin" {
		t.Errorf("AdminUserFromContext() = %+v", gotUser)
	}
}

func TestRequireAuthCSRF(t *testing.T) {
	store := NewSessionStore()
	sess, _ := store.Create(7, "admin")
	handler := RequireAuth(store, false)(okHandler())

	// POST without CSRF header is forbidden.
	req := httptest.NewRequest("POST", "/api/v1/users", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("POST without CSRF: status = %d, want 403", rec.Code)
	}

	// Wrong token is forbidden.
	req = httptest.NewRequest("POST", "/api/v1/users", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})
	req.Header.Set(csrfHeaderName, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("POST with wrong CSRF: status = %d, want 403", rec.Code)
	}

	// Correct token passes.
	req = httptest.NewRequest("POST", "/api/v1/users", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})
	req.Header.Set(csrfHeaderName, sess.CSRFToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("POST with CSRF: status = %d, want 200", rec.Code)
	}

	// GET needs no CSRF.
	req = httptest.NewRequest("GET", "/api/v1/users", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET: status = %d, want 200", rec.Code)
	}
}
