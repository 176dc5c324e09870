package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"name": "test"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want map", env.Data)
	}
	if data["name"] != "test" {
		t.Errorf("name = %v, want test", data["name"])
	}
	if strings.Contains(w.Body.String(), `"error"`) {
		t.Error("error field should be omitted on success")
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "invalid input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Error != "invalid input" {
		t.Errorf("error = %q, want 'invalid input'", env.Error)
	}
	if env.Data != nil {
		t.Errorf("data = %v, want nil", env.Data)
	}
}

func TestReadJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid object", `{"name":"test","value":42}`, ""},
		{"empty body", ``, "request body must not be empty"},
		{"malformed", `{bad`, "malformed json"},
		{"trailing object", `{"name":"a"}{"name":"b"}`, "request body must contain a single json object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst struct {
				Name  string `json:"name"`
				Value int    `json:"value"`
			}
			if got := readJSON(r, &dst); got != tt.wantErr {
				t.Errorf("readJSON() = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestReadJSONUnknownField(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	var dst struct {
		Name string `json:"name"`
	}
	if got := readJSON(r, &dst); !strings.HasPrefix(got, "unknown field") {
		t.Errorf("readJSON() = %q, want unknown field error", got)
	}
}

func TestReadJSONWrongType(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"value":"nope"}`))
	var dst struct {
		Value int `json:"value"`
	}
	if got := readJSON(r, &dst); got == "" {
		t.Error("readJSON() accepted a wrong-typed field")
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    string
	}{
		{"defaults", "/items", defaultLimit, 0, ""},
		{"custom", "/items?limit=50&offset=10", 50, 10, ""},
		{"clamped", "/items?limit=500", maxLimit, 0, ""},
		{"zero limit", "/items?limit=0", 0, 0, "limit must be a positive integer"},
		{"bad limit", "/items?limit=abc", 0, 0, "limit must be a positive integer"},
		{"negative offset", "/items?offset=-1", 0, 0, "offset must be a non-negative integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.query, nil)
			p, errMsg := parsePagination(r)
			if errMsg != tt.wantErr {
				t.Fatalf("error = %q, want %q", errMsg, tt.wantErr)
			}
			if tt.wantErr != "" {
				return
			}
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d",
					p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestPaginatedResponseFormat(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  []string{"a", "b"},
		Total:  10,
		Limit:  20,
		Offset: 0,
	})

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want map", env.Data)
	}
	if data["total"] != float64(10) {
		t.Errorf("total = %v, want 10", data["total"])
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Errorf("items = %v, want 2 entries", data["items"])
	}
}
