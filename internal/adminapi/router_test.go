package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func validBearerToken(t *testing.T, key []byte) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Subject:   "test",
	}
	return "Bearer " + signHS256(t, key, claims)
}

// TestRouter_HealthzNoAuth verifies /healthz is accessible without a JWT.
func TestRouter_HealthzNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := NewRouter(srv, testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

// TestRouter_ProtectedRoutesRequireJWT verifies that every authenticated
// route returns 401 when no Authorization header is present.
func TestRouter_ProtectedRoutesRequireJWT(t *testing.T) {
	srv, _ := newTestServer(t)
	h := NewRouter(srv, testSigningKey)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/status"},
		{http.MethodGet, "/patches"},
		{http.MethodPost, "/patches/Lock"},
		{http.MethodPost, "/sessions"},
		{http.MethodDelete, "/sessions/some-id"},
	}

	for _, rt := range routes {
		req := httptest.NewRequest(rt.method, rt.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without JWT, got %d", rt.method, rt.path, rec.Code)
		}
	}
}

// TestRouter_StatusAccessibleWithJWT verifies that a valid JWT passes the
// middleware and the route proceeds to the handler.
func TestRouter_StatusAccessibleWithJWT(t *testing.T) {
	srv, _ := newTestServer(t)
	h := NewRouter(srv, testSigningKey)

	bearer := validBearerToken(t, testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", bearer)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid JWT, got %d; body: %s", rec.Code, rec.Body)
	}
}

// TestRouter_NilSigningKeyDisablesAuth verifies the test convenience of
// passing a nil signing key to skip JWT validation entirely.
func TestRouter_NilSigningKeyDisablesAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := NewRouter(srv, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}
