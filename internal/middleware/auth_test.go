package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pulseboard/pulseboard/internal/config"
)

func adminProtected(t *testing.T, secret string) http.Handler {
	t.Helper()

	prev := config.Cfg.AdminSecret
	config.Cfg.AdminSecret = secret
	t.Cleanup(func() { config.Cfg.AdminSecret = prev })

	return AdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAdminAuthNoSecretConfigured(t *testing.T) {
	h := adminProtected(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/admin", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON response, got Content-Type %q", ct)
	}
}

func TestAdminAuthMissingToken(t *testing.T) {
	h := adminProtected(t, "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/admin", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAdminAuthWrongToken(t *testing.T) {
	h := adminProtected(t, "s3cret")

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestAdminAuthValidToken(t *testing.T) {
	h := adminProtected(t, "s3cret")

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
