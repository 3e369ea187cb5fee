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
)

const (
	clientMatchThreshold  = 0.4
	serviceMatchThreshold = 0.35
	clientPageSize        = 100
)

var (
	clientStopWords  = []string{"llc", "inc", "ltd", "corp", "corporation", "company", "co"}
	serviceStopWords = []string{"service", "services", "consulting", "time", "hours", "work"}
)

type ClientRecord struct {
	ID           json.Number `json:"id"`
	FirstName    string      `json:"fname"`
	LastName     string      `json:"lname"`
	Organization string      `json:"organization"`
}

// FullName joins first and last name.
func (r ClientRecord) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Label prefers the organization over the person name.
func (r ClientRecord) Label() string {
	if org := strings.TrimSpace(r.Organization); org != "" {
		return org
	}
	return r.FullName()
}

func (r ClientRecord) matchText() string {
	return strings.TrimSpace(r.FullName() + " " + r.Organization)
}

type Service struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

type clientsResponse struct {
	Response struct {
		Result struct {
			Clients []ClientRecord `json:"clients"`
			Page    int            `json:"page"`
			Pages   int            `json:"pages"`
		} `json:"result"`
	} `json:"response"`
}

type servicesResponse struct {
	Services []Service `json:"services"`
}

// ListClients pages through all clients of the account. The result is cached
// for the lifetime of the client.
func (c *Client) ListClients(ctx context.Context) ([]ClientRecord, error) {
	c.mu.Lock()
	cached := c.clients
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	if c.accountID == "" {
		return nil, errors.New("account id is required to list clients")
	}

	endpoint := fmt.Sprintf("/accounting/account/%s/users/clients", url.PathEscape(c.accountID))
	clients := make([]ClientRecord, 0)
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(clientPageSize))

		var resp clientsResponse
		if err := c.doJSON(ctx, http.MethodGet, endpoint, query, nil, nil, &resp); err != nil {
			return nil, fmt.Errorf("list clients: %w", err)
		}
		result := resp.Response.Result
		clients = append(clients, result.Clients...)
		if len(result.Clients) == 0 || result.Page >= result.Pages {
			break
		}
	}

	c.logger.Debug().Int("clients", len(clients)).Msg("loaded freshbooks clients")
	c.mu.Lock()
	c.clients = clients
	c.mu.Unlock()
	return clients, nil
}

// ResolveClient finds a client by organization or person name, falling back to
// fuzzy matching.
func (c *Client) ResolveClient(ctx context.Context, name string) (ClientRecord, bool, error) {
	clients, err := c.ListClients(ctx)
	if err != nil {
		return ClientRecord{}, false, err
	}
	best, matchType, score := matchClient(clients, name)
	if best < 0 {
		return ClientRecord{}, false, nil
	}
	if matchType == MatchFuzzy {
		c.logger.Info().Str("input", name).Str("client", clients[best].matchText()).Float64("score", score).Msg("fuzzy client match")
	}
	return clients[best], true, nil
}

func matchClient(clients []ClientRecord, name string) (int, string, float64) {
	name = strings.TrimSpace(name)
	for i, client := range clients {
		if strings.EqualFold(client.Organization, name) || strings.EqualFold(client.FullName(), name) {
			return i, MatchExact, 1
		}
	}

	candidates := make([]string, len(clients))
	for i, client := range clients {
		candidates[i] = client.matchText()
	}
	best, score, ok := bestMatch(name, candidates, clientStopWords, clientMatchThreshold)
	if !ok {
		return -1, MatchNone, 0
	}
	return best, MatchFuzzy, score
}

// ListServices returns the business's services, cached per client.
func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	c.mu.Lock()
	cached := c.services
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var resp servicesResponse
	endpoint := fmt.Sprintf("/comments/business/%s/services", url.PathEscape(c.businessID))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	services := resp.Services
	if services == nil {
		services = []Service{}
	}

	c.mu.Lock()
	c.services = services
	c.mu.Unlock()
	return services, nil
}

func (c *Client) ResolveService(ctx context.Context, name string) (Service, bool, error) {
	services, err := c.ListServices(ctx)
	if err != nil {
		return Service{}, false, err
	}
	best, matchType, score := matchService(services, name)
	if best < 0 {
		return Service{}, false, nil
	}
	if matchType == MatchFuzzy {
		c.logger.Info().Str("input", name).Str("service", services[best].Name).Float64("score", score).Msg("fuzzy service match")
	}
	return services[best], true, nil
}

func matchService(services []Service, name string) (int, string, float64) {
	name = strings.TrimSpace(name)
	for i, service := range services {
		if strings.EqualFold(strings.TrimSpace(service.Name), name) {
			return i, MatchExact, 1
		}
	}

	candidates := make([]string, len(services))
	for i, service := range services {
		candidates[i] = service.Name
	}
	best, score, ok := bestMatch(name, candidates, serviceStopWords, serviceMatchThreshold)
	if !ok {
		return -1, MatchNone, 0
	}
	return best, MatchFuzzy, score
}
