// Package oauthcb receives the authorization code of an OAuth2
// authorization-code flow on a localhost redirect URL.
package oauthcb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var ErrStateMismatch = errors.New("oauth callback state mismatch")

type result struct {
	code string
	err  error
}

type Server struct {
	router  chi.Router
	state   string
	results chan result
}

// NewServer returns a handler accepting exactly one callback on callbackPath.
func NewServer(callbackPath, state string) *Server {
	if strings.TrimSpace(callbackPath) == "" {
		callbackPath = "/callback"
	}
	s := &Server{
		state:   state,
		results: make(chan result, 1),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(callbackPath, s.handleCallback)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if oauthErr := strings.TrimSpace(query.Get("error")); oauthErr != "" {
		description := strings.TrimSpace(query.Get("error_description"))
		s.deliver(result{err: fmt.Errorf("authorization denied: %s %s", oauthErr, description)})
		http.Error(w, "Authorization failed. You can close this window.", http.StatusBadRequest)
		return
	}
	if query.Get("state") != s.state {
		s.deliver(result{err: ErrStateMismatch})
		http.Error(w, "Invalid state parameter.", http.StatusBadRequest)
		return
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		s.deliver(result{err: errors.New("authorization code missing in callback")})
		http.Error(w, "Missing authorization code.", http.StatusBadRequest)
		return
	}

	s.deliver(result{code: code})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body><h3>Authorization complete. You can close this window.</h3></body></html>"))
}

func (s *Server) deliver(res result) {
	select {
	case s.results <- res:
	default:
	}
}

// Await blocks until a callback arrived or ctx is done.
func (s *Server) Await(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("wait for oauth callback: %w", ctx.Err())
	case res := <-s.results:
		return res.code, res.err
	}
}

// ListenAndAwait serves the callback on the host and path of redirectURL and
// returns the received authorization code. ready is called once the listener
// is bound.
func ListenAndAwait(ctx context.Context, redirectURL, state string, ready func()) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(redirectURL))
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid redirect url %q", redirectURL)
	}
	if parsed.Scheme != "http" {
		return "", fmt.Errorf("redirect url %q must use http on localhost", redirectURL)
	}

	listener, err := net.Listen("tcp", parsed.Host)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", parsed.Host, err)
	}

	cb := NewServer(parsed.Path, state)
	server := &http.Server{Handler: cb, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if ready != nil {
		ready()
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				cb.deliver(result{err: fmt.Errorf("serve oauth callback: %w", err)})
			}
		case <-waitCtx.Done():
		}
	}()

	return cb.Await(waitCtx)
}
