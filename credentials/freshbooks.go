package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"timebill/config"
	"timebill/internal/syncerr"

	"golang.org/x/oauth2"
)

// ErrNotLoggedIn means no FreshBooks token file exists yet.
var ErrNotLoggedIn = errors.New("no FreshBooks token found; run `timebill auth login`")

// FreshBooksProvider loads the OAuth2 token written by `auth login` and renews
// it with the refresh_token grant. Renewed tokens are persisted back to the
// same file.
type FreshBooksProvider struct {
	OAuth      *oauth2.Config
	TokenFile  string
	HTTPClient *http.Client
}

func OAuthConfig(cfg config.FreshBooksConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
		Endpoint: oauth2.Endpoint{
			AuthURL:   strings.TrimSpace(cfg.AuthURL),
			TokenURL:  strings.TrimSpace(cfg.TokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func DefaultTokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".timebill", "freshbooks-token.json"), nil
}

// ResolveTokenPath returns explicit when set, otherwise the default path.
func ResolveTokenPath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return strings.TrimSpace(explicit), nil
	}
	return DefaultTokenPath()
}

func LoadToken(path string) (*oauth2.Token, error) {
	content, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(content, &token); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return &token, nil
}

// SaveToken writes the token with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	if token == nil {
		return errors.New("token is nil")
	}
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", parent, err)
	}
	content, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func (p FreshBooksProvider) Authenticate(context.Context) (Credentials, error) {
	token, err := LoadToken(p.TokenFile)
	if err != nil {
		return Credentials{}, syncerr.Auth(err)
	}
	return fromOAuthToken(token), nil
}

func (p FreshBooksProvider) Refresh(ctx context.Context, current Credentials) (Credentials, error) {
	if p.OAuth == nil {
		return Credentials{}, syncerr.Auth(ErrRefreshUnsupported)
	}

	refreshToken := current.RefreshToken
	if refreshToken == "" {
		stored, err := LoadToken(p.TokenFile)
		if err != nil {
			return Credentials{}, syncerr.Auth(err)
		}
		refreshToken = stored.RefreshToken
	}
	if refreshToken == "" {
		return Credentials{}, syncerr.Auth(errors.New("token file has no refresh token; run `timebill auth login`"))
	}

	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}
	token, err := p.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return Credentials{}, syncerr.Auth(fmt.Errorf("refresh freshbooks token: %w", err))
		}
		return Credentials{}, syncerr.Network(fmt.Errorf("refresh freshbooks token: %w", err))
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	if err := SaveToken(p.TokenFile, token); err != nil {
		return Credentials{}, err
	}
	return fromOAuthToken(token), nil
}

func fromOAuthToken(token *oauth2.Token) Credentials {
	return Credentials{
		Token:        token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
}
