package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthIsUnauthenticated(t *testing.T) {
	h := &Handlers{}
	srv := New(Config{BearerTokens: []string{"secret"}}, h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on /health without a token, got %d", rec.Code)
	}
}

func TestSyncPushRequiresBearerToken(t *testing.T) {
	h := &Handlers{}
	srv := New(Config{BearerTokens: []string{"secret"}}, h)

	req := httptest.NewRequest(http.MethodPost, "/sync/push", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without Authorization header, got %d", rec.Code)
	}
}

func TestSyncPushRejectsUnconfiguredSyncService(t *testing.T) {
	h := &Handlers{}
	srv := New(Config{}, h)

	req := httptest.NewRequest(http.MethodPost, "/sync/push", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no sync service wired, got %d", rec.Code)
	}
}
