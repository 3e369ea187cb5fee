package oauthcb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestServerDeliversCode(t *testing.T) {
	t.Parallel()

	cb := NewServer("/callback", "state-1")
	srv := httptest.NewServer(cb)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/callback?code=abc&state=state-1")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code, err := cb.Await(ctx)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if code != "abc" {
		t.Fatalf("expected code abc, got %q", code)
	}
}

func TestServerRejectsStateMismatch(t *testing.T) {
	t.Parallel()

	cb := NewServer("/callback", "expected")
	rec := httptest.NewRecorder()
	cb.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=other", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := cb.Await(ctx); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
}

func TestServerReportsProviderError(t *testing.T) {
	t.Parallel()

	cb := NewServer("/cb", "s")
	rec := httptest.NewRecorder()
	cb.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb?error=access_denied&state=s", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := cb.Await(ctx); err == nil {
		t.Fatalf("expected error for denied authorization")
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	t.Parallel()

	cb := NewServer("/callback", "s")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cb.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestListenAndAwaitRejectsHTTPS(t *testing.T) {
	t.Parallel()

	_, err := ListenAndAwait(context.Background(), "https://localhost:8443/callback", "s", nil)
	if err == nil {
		t.Fatalf("expected error for https redirect")
	}
}
