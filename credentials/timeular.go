package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"timebill/internal/syncerr"

	"github.com/golang-jwt/jwt/v5"
)

type timeularSigner interface {
	SignIn(ctx context.Context, apiKey, apiSecret string) (string, error)
}

// TimeularProvider signs in with the developer API key pair. Refreshing means
// signing in again.
type TimeularProvider struct {
	Client    timeularSigner
	APIKey    string
	APISecret string
}

func (p TimeularProvider) Authenticate(ctx context.Context) (Credentials, error) {
	if strings.TrimSpace(p.APIKey) == "" || strings.TrimSpace(p.APISecret) == "" {
		return Credentials{}, syncerr.Auth(errors.New("TIMEULAR_API_KEY and TIMEULAR_API_SECRET are required"))
	}
	if p.Client == nil {
		return Credentials{}, errors.New("timeular client is not configured")
	}

	token, err := p.Client.SignIn(ctx, p.APIKey, p.APISecret)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: token, Expiry: tokenExpiry(token)}, nil
}

func (p TimeularProvider) Refresh(ctx context.Context, _ Credentials) (Credentials, error) {
	return p.Authenticate(ctx)
}

// tokenExpiry reads the exp claim without verifying the signature. Tokens
// that are not JWTs, or carry no exp, never expire locally.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
