// Package freshbooks submits priced line items as FreshBooks time entries and
// finds entries a previous run already created.
package freshbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"timebill/credentials"
	"timebill/internal/syncerr"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.freshbooks.com"

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource hands out the current FreshBooks bearer token.
type TokenSource interface {
	Get(ctx context.Context, service string) (credentials.Credentials, error)
}

type ClientConfig struct {
	BaseURL    string
	BusinessID string
	AccountID  string
	UserAgent  string
	HTTPClient httpDoer
	Limiter    *rate.Limiter
	Tokens     TokenSource
	Logger     zerolog.Logger
}

type Client struct {
	baseURL    string
	businessID string
	accountID  string
	userAgent  string
	httpClient httpDoer
	limiter    *rate.Limiter
	tokens     TokenSource
	logger     zerolog.Logger

	mu       sync.Mutex
	identity string
	clients  []ClientRecord
	services []Service
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	parsedBase, err := url.Parse(baseURL)
	if err != nil || parsedBase.Scheme == "" || parsedBase.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	businessID := strings.TrimSpace(cfg.BusinessID)
	if businessID == "" {
		return nil, errors.New("business id is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}

	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    baseURL,
		businessID: businessID,
		accountID:  strings.TrimSpace(cfg.AccountID),
		userAgent:  strings.TrimSpace(cfg.UserAgent),
		httpClient: doer,
		limiter:    cfg.Limiter,
		tokens:     cfg.Tokens,
		logger:     cfg.Logger,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpointPath string, query url.Values, header http.Header, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	creds, err := c.tokens.Get(ctx, credentials.ServiceFreshBooks)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	target := c.baseURL + endpointPath
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("create request %s %s: %w", method, endpointPath, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Version", "alpha")
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return syncerr.FromTransport(method, endpointPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return syncerr.FromStatus(method, endpointPath, resp.StatusCode, resp.Header, string(responseBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return syncerr.Validation(fmt.Errorf("decode response %s %s: %w", method, endpointPath, err))
	}
	return nil
}

// Identity returns the authenticated user's identity id, resolved once per client.
func (c *Client) Identity(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.identity
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var resp struct {
		Response struct {
			ID        json.Number `json:"id"`
			FirstName string      `json:"first_name"`
			LastName  string      `json:"last_name"`
		} `json:"response"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/auth/api/v1/users/me", nil, nil, nil, &resp); err != nil {
		return "", fmt.Errorf("get identity: %w", err)
	}
	id := strings.TrimSpace(resp.Response.ID.String())
	if id == "" {
		return "", syncerr.Validation(errors.New("identity response contained no id"))
	}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
	return id, nil
}
