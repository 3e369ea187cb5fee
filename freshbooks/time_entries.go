package freshbooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"timebill/internal/syncerr"
	"timebill/transform"
)

const (
	startedAtLayout = "2006-01-02T15:04:05.000Z"
	lookupPageSize  = 100
)

type timeEntryPayload struct {
	IsLogged   bool   `json:"is_logged"`
	Duration   int64  `json:"duration"`
	Note       string `json:"note"`
	StartedAt  string `json:"started_at"`
	Billable   bool   `json:"billable"`
	ClientID   string `json:"client_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	ServiceID  string `json:"service_id,omitempty"`
	IdentityID string `json:"identity_id,omitempty"`
}

type timeEntryRequest struct {
	TimeEntry timeEntryPayload `json:"time_entry"`
}

type TimeEntry struct {
	ID        json.Number `json:"id"`
	Note      string      `json:"note"`
	StartedAt string      `json:"started_at"`
	Duration  int64       `json:"duration"`
}

type timeEntryResponse struct {
	TimeEntry TimeEntry `json:"time_entry"`
}

type timeEntriesResponse struct {
	TimeEntries []TimeEntry `json:"time_entries"`
	Meta        struct {
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"meta"`
}

// Marker is appended to every submitted note so later runs can find the entry.
func Marker(token string) string {
	return "[timebill:" + strings.TrimSpace(token) + "]"
}

func noteFor(item transform.LineItem) string {
	marker := Marker(item.IdempotencyToken)
	description := strings.TrimSpace(item.Description)
	if description == "" {
		return marker
	}
	return description + " " + marker
}

// Submit creates one time entry and returns its FreshBooks id.
func (c *Client) Submit(ctx context.Context, item transform.LineItem) (string, error) {
	if strings.TrimSpace(item.IdempotencyToken) == "" {
		return "", syncerr.Validation(fmt.Errorf("entry %s has no idempotency token", item.SourceEntryID))
	}
	identity, err := c.Identity(ctx)
	if err != nil {
		return "", err
	}

	clientID, err := c.clientIDFor(ctx, item)
	if err != nil {
		return "", err
	}
	serviceID, err := c.serviceIDFor(ctx, item)
	if err != nil {
		return "", err
	}

	payload := timeEntryRequest{TimeEntry: timeEntryPayload{
		IsLogged:   true,
		Duration:   int64(item.Duration / time.Second),
		Note:       noteFor(item),
		StartedAt:  item.StartedAt.UTC().Format(startedAtLayout),
		Billable:   item.Billable,
		ClientID:   clientID,
		ProjectID:  strings.TrimSpace(item.ProjectID),
		ServiceID:  serviceID,
		IdentityID: identity,
	}}

	header := make(http.Header)
	header.Set("Idempotency-Key", item.IdempotencyToken)

	var resp timeEntryResponse
	endpoint := fmt.Sprintf("/timetracking/business/%s/time_entries", url.PathEscape(c.businessID))
	if err := c.doJSON(ctx, http.MethodPost, endpoint, nil, header, payload, &resp); err != nil {
		return "", fmt.Errorf("create time entry: %w", err)
	}
	id := strings.TrimSpace(resp.TimeEntry.ID.String())
	if id == "" {
		return "", syncerr.Validation(errors.New("create time entry: response contained no id"))
	}
	return id, nil
}

// Lookup searches the day around the item's start for an entry carrying the
// item's marker.
func (c *Client) Lookup(ctx context.Context, item transform.LineItem) (string, bool, error) {
	marker := Marker(item.IdempotencyToken)
	from := item.StartedAt.UTC().Add(-24 * time.Hour)
	to := item.StartedAt.UTC().Add(24*time.Hour + item.Duration)
	endpoint := fmt.Sprintf("/timetracking/business/%s/time_entries", url.PathEscape(c.businessID))

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("started_from", from.Format(startedAtLayout))
		query.Set("started_to", to.Format(startedAtLayout))
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(lookupPageSize))

		var resp timeEntriesResponse
		if err := c.doJSON(ctx, http.MethodGet, endpoint, query, nil, nil, &resp); err != nil {
			return "", false, fmt.Errorf("list time entries: %w", err)
		}
		for _, entry := range resp.TimeEntries {
			if strings.Contains(entry.Note, marker) {
				return entry.ID.String(), true, nil
			}
		}
		if len(resp.TimeEntries) == 0 || resp.Meta.Page >= resp.Meta.Pages {
			return "", false, nil
		}
	}
}

func (c *Client) clientIDFor(ctx context.Context, item transform.LineItem) (string, error) {
	if id := strings.TrimSpace(item.ClientID); id != "" {
		return id, nil
	}
	name := strings.TrimSpace(item.ClientName)
	if name == "" {
		name = item.Project
	}
	if strings.TrimSpace(name) == "" || c.accountID == "" {
		return "", nil
	}

	match, ok, err := c.ResolveClient(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		c.logger.Debug().Str("entry", item.SourceEntryID).Str("client", name).Msg("no freshbooks client matched")
		return "", nil
	}
	return match.ID.String(), nil
}

func (c *Client) serviceIDFor(ctx context.Context, item transform.LineItem) (string, error) {
	if id := strings.TrimSpace(item.ServiceID); id != "" {
		return id, nil
	}
	names := make([]string, 0, 1+len(item.Tags))
	if name := strings.TrimSpace(item.ServiceName); name != "" {
		names = append(names, name)
	} else {
		for _, tag := range item.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				names = append(names, tag)
			}
		}
	}

	for _, name := range names {
		match, ok, err := c.ResolveService(ctx, name)
		if err != nil {
			return "", err
		}
		if ok {
			return match.ID.String(), nil
		}
		c.logger.Debug().Str("entry", item.SourceEntryID).Str("service", name).Msg("no freshbooks service matched")
	}
	return "", nil
}
