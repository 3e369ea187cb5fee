package timeular

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"timebill/internal/syncerr"
	"timebill/worklog"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.timeular.com/api/v4"
	timestampLayout = "2006-01-02T15:04:05.000"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ClientConfig struct {
	BaseURL    string
	UserAgent  string
	HTTPClient httpDoer
	// Limiter throttles outgoing requests. Nil disables throttling.
	Limiter *rate.Limiter
}

type Client struct {
	baseURL    string
	userAgent  string
	httpClient httpDoer
	limiter    *rate.Limiter
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

	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    baseURL,
		userAgent:  strings.TrimSpace(cfg.UserAgent),
		httpClient: doer,
		limiter:    cfg.Limiter,
	}, nil
}

// FlexibleID accepts both JSON strings and numbers.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(value))
		return nil
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
		return fmt.Errorf("invalid id value %s", trimmed)
	}
	*id = FlexibleID(trimmed)
	return nil
}

type Activity struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
}

type Tag struct {
	ID    FlexibleID `json:"id"`
	Key   string     `json:"key"`
	Label string     `json:"label"`
}

type Note struct {
	Text *string `json:"text"`
	Tags []Tag   `json:"tags"`
}

type Duration struct {
	StartedAt string `json:"startedAt"`
	StoppedAt string `json:"stoppedAt"`
}

type TimeEntry struct {
	ID       FlexibleID `json:"id"`
	Activity Activity   `json:"activity"`
	Duration Duration   `json:"duration"`
	Note     Note       `json:"note"`
}

type timeEntriesResponse struct {
	TimeEntries []TimeEntry `json:"timeEntries"`
}

type signInRequest struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

type signInResponse struct {
	Token string `json:"token"`
}

// ToWorklog converts the API shape into a source-neutral entry. Timeular
// timestamps carry no zone and are UTC.
func (e TimeEntry) ToWorklog() (worklog.TimeEntry, error) {
	id := strings.TrimSpace(string(e.ID))
	if id == "" {
		return worklog.TimeEntry{}, errors.New("time entry id is empty")
	}
	start, err := ParseTimestamp(e.Duration.StartedAt)
	if err != nil {
		return worklog.TimeEntry{}, fmt.Errorf("entry %s: %w", id, err)
	}

	var end time.Time
	if strings.TrimSpace(e.Duration.StoppedAt) != "" {
		end, err = ParseTimestamp(e.Duration.StoppedAt)
		if err != nil {
			return worklog.TimeEntry{}, fmt.Errorf("entry %s: %w", id, err)
		}
		if end.Before(start) {
			return worklog.TimeEntry{}, fmt.Errorf("entry %s: stoppedAt before startedAt", id)
		}
	}

	description := ""
	if e.Note.Text != nil {
		description = strings.TrimSpace(*e.Note.Text)
	}
	tags := make([]string, 0, len(e.Note.Tags))
	for _, tag := range e.Note.Tags {
		if label := strings.TrimSpace(tag.Label); label != "" {
			tags = append(tags, label)
		}
	}

	out := worklog.TimeEntry{
		ID:          id,
		Start:       start,
		End:         end,
		Project:     strings.TrimSpace(e.Activity.Name),
		ProjectID:   strings.TrimSpace(string(e.Activity.ID)),
		Description: description,
		Tags:        tags,
		Billable:    true,
		Source:      worklog.SourceTimeular,
	}
	if !end.IsZero() {
		out.Duration = end.Sub(start)
	}
	return out, nil
}

// SignIn exchanges the developer API key pair for a bearer token.
func (c *Client) SignIn(ctx context.Context, apiKey, apiSecret string) (string, error) {
	var resp signInResponse
	err := c.doJSON(ctx, http.MethodPost, "/developer/sign-in", "", signInRequest{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}, &resp)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(resp.Token)
	if token == "" {
		return "", syncerr.Auth(errors.New("sign-in response contained no token"))
	}
	return token, nil
}

// TimeEntries lists entries overlapping [from, to).
func (c *Client) TimeEntries(ctx context.Context, token string, from, to time.Time) ([]TimeEntry, error) {
	endpoint := fmt.Sprintf(
		"/time-entries/%s/%s",
		FormatTimestamp(from),
		FormatTimestamp(to.Add(-time.Millisecond)),
	)
	var resp timeEntriesResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.TimeEntries, nil
}

func FormatTimestamp(value time.Time) string {
	return value.UTC().Format(timestampLayout)
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	parsed, err := time.ParseInLocation(timestampLayout, value, time.UTC)
	if err == nil {
		return parsed, nil
	}
	if parsed, rfcErr := time.Parse(time.RFC3339Nano, value); rfcErr == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
}

func (c *Client) doJSON(ctx context.Context, method, endpointPath, token string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpointPath, bodyReader)
	if err != nil {
		return fmt.Errorf("create request %s %s: %w", method, endpointPath, err)
	}

	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
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
