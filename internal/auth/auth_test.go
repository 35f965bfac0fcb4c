package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuardDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	guard := NewGuard("")
	if guard.Enabled() {
		t.Fatalf("empty token must disable the guard")
	}

	called := false
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if !called || rec.Code != http.StatusNoContent {
		t.Fatalf("disabled guard must not block: called=%v code=%d", called, rec.Code)
	}
}

func TestGuardRejectsMissingAndInvalidTokens(t *testing.T) {
	t.Parallel()

	guard := NewGuard("secret")

	if err := guard.Authenticate(""); err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if err := guard.Authenticate("Basic abc"); err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken for non-bearer scheme, got %v", err)
	}
	if err := guard.Authenticate("Bearer wrong"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := guard.Authenticate("Bearer secret"); err != nil {
		t.Fatalf("expected valid token to pass, got %v", err)
	}
	if err := guard.Authenticate("bearer secret"); err != nil {
		t.Fatalf("scheme must be case-insensitive, got %v", err)
	}
}

func TestGuardMiddlewareBlocksWithoutToken(t *testing.T) {
	t.Parallel()

	guard := NewGuard("secret")
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.Header.Set("Authorization", "Bearer secret")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
}
