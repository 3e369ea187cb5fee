// Package credentials hands out access tokens for the external services and
// re-authenticates when they expire or are rejected.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"timebill/internal/syncerr"
)

const (
	ServiceTimeular   = "timeular"
	ServiceFreshBooks = "freshbooks"
)

const expirySkew = 30 * time.Second

type Credentials struct {
	Service      string
	Token        string
	RefreshToken string
	// Expiry is zero when the token does not expire.
	Expiry time.Time
}

func (c Credentials) Valid(now time.Time) bool {
	if strings.TrimSpace(c.Token) == "" {
		return false
	}
	return c.Expiry.IsZero() || now.Add(expirySkew).Before(c.Expiry)
}

// Provider authenticates against one service.
type Provider interface {
	Authenticate(ctx context.Context) (Credentials, error)
	Refresh(ctx context.Context, current Credentials) (Credentials, error)
}

// ErrRefreshUnsupported is returned by providers that cannot renew a token.
var ErrRefreshUnsupported = errors.New("credential refresh not supported")

// Store caches credentials per service for the lifetime of one run.
type Store struct {
	mu        sync.Mutex
	providers map[string]Provider
	cache     map[string]Credentials
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		providers: make(map[string]Provider),
		cache:     make(map[string]Credentials),
		now:       time.Now,
	}
}

func (s *Store) Register(service string, provider Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[service] = provider
	delete(s.cache, service)
}

// Get returns cached credentials, authenticating when none are cached or the
// cached token expired.
func (s *Store) Get(ctx context.Context, service string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[service]; ok && cached.Valid(s.now()) {
		return cached, nil
	}

	provider, ok := s.providers[service]
	if !ok {
		return Credentials{}, syncerr.Auth(fmt.Errorf("no credentials configured for %s", service))
	}

	creds, err := provider.Authenticate(ctx)
	if err != nil {
		return Credentials{}, asAuthError(service, "authenticate", err)
	}
	if !creds.Valid(s.now()) {
		// An expired token with a refresh token can still be renewed.
		if creds.RefreshToken == "" {
			return Credentials{}, syncerr.Auth(fmt.Errorf("authenticate %s: token missing or expired", service))
		}
		creds, err = provider.Refresh(ctx, creds)
		if err != nil {
			return Credentials{}, asAuthError(service, "refresh", err)
		}
	}
	creds.Service = service
	s.cache[service] = creds
	return creds, nil
}

// Refresh forces re-authentication, typically after the service rejected the
// cached token.
func (s *Store) Refresh(ctx context.Context, service string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	provider, ok := s.providers[service]
	if !ok {
		return Credentials{}, syncerr.Auth(fmt.Errorf("no credentials configured for %s", service))
	}

	current := s.cache[service]
	delete(s.cache, service)

	creds, err := provider.Refresh(ctx, current)
	if err != nil {
		return Credentials{}, asAuthError(service, "refresh", err)
	}
	if strings.TrimSpace(creds.Token) == "" {
		return Credentials{}, syncerr.Auth(fmt.Errorf("refresh %s: empty token", service))
	}
	creds.Service = service
	s.cache[service] = creds
	return creds, nil
}

// asAuthError keeps transient failures retryable and turns everything else
// into an auth error.
func asAuthError(service, op string, err error) error {
	switch syncerr.KindOf(err) {
	case syncerr.KindAuth, syncerr.KindNetwork, syncerr.KindRateLimit:
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return syncerr.Auth(fmt.Errorf("%s %s: %w", op, service, err))
}
