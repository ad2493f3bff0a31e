package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuardCheck(t *testing.T) {
	g := NewGuard("s3cret")
	cases := map[string]error{
		"":              ErrMissingToken,
		"Bearer s3cret": nil,
		"bearer s3cret": nil,
		"Bearer wrong":  ErrInvalidToken,
		"Basic s3cret":  ErrMissingToken,
		"Bearer":        ErrMissingToken,
	}
	for header, want := range cases {
		if err := g.Check(header); !errors.Is(err, want) {
			t.Fatalf("%q: expected %v, got %v", header, want, err)
		}
	}
}

func TestDisabledGuardAllowsAll(t *testing.T) {
	g := NewGuard("  ")
	if g.Enabled() {
		t.Fatalf("blank token should disable the guard")
	}
	if err := g.Check(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	g := NewGuard("s3cret")
	handler := g.Middleware(MiddlewareConfig{Public: map[string]bool{"/metrics": true}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("public path should bypass auth, got %d", rec.Code)
	}
}
