package freshbooks

import (
	"context"
	"strings"
)

// Match types reported by MatchClient and MatchService.
const (
	MatchExact      = "exact"
	MatchFuzzy      = "fuzzy"
	MatchNone       = "none"
	MatchConfigured = "configured"
)

// Mapping shows which FreshBooks record a label resolves to.
type Mapping struct {
	Input string
	ID    string
	Name  string
	Type  string
	Score float64
}

// Matched reports whether the label resolved to a record.
func (m Mapping) Matched() bool {
	return m.Type != MatchNone && m.ID != ""
}

func (c *Client) MatchClient(ctx context.Context, name string) (Mapping, error) {
	clients, err := c.ListClients(ctx)
	if err != nil {
		return Mapping{}, err
	}
	mapping := Mapping{Input: strings.TrimSpace(name), Type: MatchNone}
	best, matchType, score := matchClient(clients, name)
	if best < 0 {
		return mapping, nil
	}
	mapping.ID = clients[best].ID.String()
	mapping.Name = clients[best].Label()
	mapping.Type = matchType
	mapping.Score = score
	return mapping, nil
}

func (c *Client) MatchService(ctx context.Context, name string) (Mapping, error) {
	services, err := c.ListServices(ctx)
	if err != nil {
		return Mapping{}, err
	}
	mapping := Mapping{Input: strings.TrimSpace(name), Type: MatchNone}
	best, matchType, score := matchService(services, name)
	if best < 0 {
		return mapping, nil
	}
	mapping.ID = services[best].ID.String()
	mapping.Name = strings.TrimSpace(services[best].Name)
	mapping.Type = matchType
	mapping.Score = score
	return mapping, nil
}
