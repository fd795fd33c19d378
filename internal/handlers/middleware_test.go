package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"machine_monitor/internal/models"
	"machine_monitor/internal/service"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearer    ", "", false},
		{"bearer abc", "", false},
		{"Token abc", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		token, ok := bearerToken(tc.header)
		if token != tc.token || ok != tc.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}

// operatorRouter serves the real machine and monitor routes behind the
// operator check.
func operatorRouter(auth *mockAuth) http.Handler {
	return newTestRouter(&service.Service{
		Authorization: auth,
		Machines:      &mockMachines{machines: []models.Machine{{ID: "okuma-mb5000", Slug: "okuma-mb5000"}}},
		Monitor:       &mockMonitor{running: true},
	})
}

func TestRequireOperator_Rejects(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		parseErr error
		wantMsg  string
	}{
		{name: "no header", wantMsg: errMissingAuth},
		{name: "basic auth", header: "Basic b3A6cHc=", wantMsg: errMalformAuth},
		{name: "scheme only", header: "Bearer", wantMsg: errMalformAuth},
		{name: "blank token", header: "Bearer    ", wantMsg: errMalformAuth},
		{name: "token from another deployment", header: "Bearer foreign", parseErr: service.ErrInvalidToken, wantMsg: errBadToken},
		{name: "expired token", header: "Bearer stale", parseErr: errors.New("token is expired"), wantMsg: errBadToken},
	}

	for _, tc := range cases {
		for _, path := range []string{"/api/v1/machines", "/api/v1/monitor/status"} {
			t.Run(tc.name+" "+path, func(t *testing.T) {
				r := operatorRouter(&mockAuth{parseErr: tc.parseErr})

				w := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodGet, path, nil)
				if tc.header != "" {
					req.Header.Set("Authorization", tc.header)
				}
				r.ServeHTTP(w, req)

				if w.Code != http.StatusUnauthorized {
					t.Fatalf("status: got %d, want 401 (body=%s)", w.Code, w.Body.String())
				}
				var out struct {
					Error string `json:"error"`
				}
				_ = json.Unmarshal(w.Body.Bytes(), &out)
				if out.Error != tc.wantMsg {
					t.Fatalf("error: got %q, want %q", out.Error, tc.wantMsg)
				}
			})
		}
	}
}

func TestRequireOperator_AdmitsValidToken(t *testing.T) {
	auth := &mockAuth{parseID: 42}
	r := operatorRouter(auth)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/machines", nil)
	req.Header.Set("Authorization", "Bearer shift-lead-token")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d; body=%s", w.Code, w.Body.String())
	}
	if auth.lastParseToken != "shift-lead-token" {
		t.Fatalf("ParseToken got %q", auth.lastParseToken)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Count != 1 {
		t.Fatalf("unexpected body %s (err=%v)", w.Body.String(), err)
	}
}

func TestRequireOperator_StoresOperatorID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&service.Service{Authorization: &mockAuth{parseID: 42}}, nil, Options{})

	var seen int
	r := gin.New()
	r.POST("/api/v1/intervals/close-all", h.requireOperator, func(c *gin.Context) {
		seen = operatorID(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intervals/close-all", nil)
	req.Header.Set("Authorization", "Bearer t")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent || seen != 42 {
		t.Fatalf("status=%d operator=%d", w.Code, seen)
	}
}

func TestPublicRoutesSkipOperatorCheck(t *testing.T) {
	auth := &mockAuth{parseErr: errors.New("must not be called")}
	r := operatorRouter(auth)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health: status=%d", w.Code)
	}
	if auth.lastParseToken != "" {
		t.Fatalf("ParseToken called for a public route")
	}
}
