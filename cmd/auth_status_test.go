package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"timebill/config"
	"timebill/credentials"

	"golang.org/x/oauth2"
)

func TestDescribeTokenFile(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	write := func(name string, token *oauth2.Token) string {
		path := filepath.Join(dir, name)
		if err := credentials.SaveToken(path, token); err != nil {
			t.Fatalf("save token: %v", err)
		}
		return path
	}

	garbage := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(garbage, []byte("{"), 0o600); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "missing", path: filepath.Join(dir, "missing.json"), want: "missing; run `timebill auth login`"},
		{name: "unreadable", path: garbage, want: "unreadable"},
		{name: "no expiry", path: write("noexp.json", &oauth2.Token{AccessToken: "a"}), want: "valid, no expiry, no refresh token"},
		{
			name: "valid",
			path: write("valid.json", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(time.Hour)}),
			want: "valid until",
		},
		{
			name: "expired",
			path: write("expired.json", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Hour)}),
			want: "expired at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeTokenFile(tt.path, now)
			if !strings.HasPrefix(got, tt.want) {
				t.Fatalf("expected prefix %q, got %q", tt.want, got)
			}
		})
	}

	if got := describeTokenFile(filepath.Join(dir, "valid.json"), now); !strings.HasSuffix(got, "refreshable") {
		t.Fatalf("expected refreshable token, got %q", got)
	}
}

func TestPrintAuthStatus(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Timeular.APIKey = "key"
	cfg.Timeular.APISecret = "secret"
	cfg.FreshBooks.AccessToken = "static"

	var out strings.Builder
	printAuthStatus(&out, cfg, filepath.Join(t.TempDir(), "token.json"), time.Now())
	text := out.String()
	for _, want := range []string{"api key:      configured", "business id:  missing", "token:        static"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "token file:") {
		t.Fatalf("static token must not print a token file, got:\n%s", text)
	}
}
