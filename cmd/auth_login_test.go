package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"timebill/config"

	"golang.org/x/oauth2"
)

func TestExchangeCode(t *testing.T) {
	t.Parallel()

	var gotCode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotCode = r.Form.Get("code")
		w.Header().Set("Content-Type", "application/json")
		if gotCode == "empty" {
			fmt.Fprint(w, `{"access_token":"","token_type":"Bearer"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer server.Close()

	oauthConfig := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL, AuthStyle: oauth2.AuthStyleInParams},
	}

	token, err := exchangeCode(context.Background(), oauthConfig, "code-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCode != "code-123" {
		t.Fatalf("expected code to be sent, got %q", gotCode)
	}
	if token.AccessToken != "access-1" || token.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected token: %+v", token)
	}

	if _, err := exchangeCode(context.Background(), oauthConfig, "empty"); err == nil {
		t.Fatalf("expected error for empty access token")
	}
}

func TestVerifyFreshBooksToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/api/v1/users/me" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"response":{"id":4242}}`)
	}))
	defer server.Close()

	cfg := &config.Config{}
	cfg.FreshBooks.BaseURL = server.URL
	cfg.FreshBooks.BusinessID = "77"

	identity, err := verifyFreshBooksToken(context.Background(), cfg, "fresh-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity != "4242" {
		t.Fatalf("expected identity 4242, got %q", identity)
	}

	if _, err := verifyFreshBooksToken(context.Background(), cfg, "wrong-token"); err == nil {
		t.Fatalf("expected error for rejected token")
	}
}

func TestPrintAuthorizeURL(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	printAuthorizeURL(&out, "https://auth.example.test/authorize?state=abc")
	if !strings.Contains(out.String(), "https://auth.example.test/authorize?state=abc") {
		t.Fatalf("expected URL in output, got %q", out.String())
	}
}
