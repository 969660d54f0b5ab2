// Package slack is the Slack capability bundle: the workspace team
// object and the channels table. The bundle is gated behind the shared
// Slack app credentials; deployments without them do not list it.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
)

const defaultAPIBase = "https://slack.com/api"

const (
	ObjectTeam    = "team"
	TableChannels = "channels"
)

// Config carries the shared Slack app credentials. ClientID and
// ClientSecret are required for the bundle to be available because every
// Slack dataset uses rotating OAuth tokens.
type Config struct {
	ClientID     string
	ClientSecret string
	APIBase      string
}

func Definition(cfg Config) *registry.Integration {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = defaultAPIBase
	}
	client := &Client{BaseURL: base}

	return &registry.Integration{
		Type:        "slack",
		DisplayName: "Slack",
		Available:   cfg.ClientID != "" && cfg.ClientSecret != "",

		ProxyBaseURL: base,

		OAuth: &registry.OAuthEndpoint{
			TokenURL:     base + "/oauth.v2.access",
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},

		Objects: []registry.ObjectDefinition{{
			Key: ObjectTeam,
			Get: func(ctx context.Context, fc registry.FetchContext) (any, error) {
				return client.TeamInfo(ctx, fc.Token)
			},
			ObjectID: func(_ *store.Dataset, record any) string {
				return registry.RecordField(record, "id")
			},
		}},

		Tables: []registry.TableDefinition{{
			Key:  TableChannels,
			Name: "Channels",
			Get: func(ctx context.Context, fc registry.FetchContext) (any, error) {
				return client.ListChannels(ctx, fc.Token)
			},
			RowID: func(_ *store.Dataset, record any) string {
				return registry.RecordField(record, "id")
			},
		}},
	}
}

// Client calls the Slack Web API. Slack reports failures inside a 200
// response, so every call checks the ok member.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// TeamInfo fetches the workspace record behind the token.
func (c *Client) TeamInfo(ctx context.Context, token string) (any, error) {
	var payload struct {
		OK    bool           `json:"ok"`
		Error string         `json:"error"`
		Team  map[string]any `json:"team"`
	}
	if err := c.call(ctx, token, "team.info", nil, &payload); err != nil {
		return nil, err
	}
	if !payload.OK {
		return nil, apiError("team.info", payload.Error)
	}
	if payload.Team == nil {
		return nil, nil
	}
	return payload.Team, nil
}

// ListChannels pages through conversations.list with cursor pagination.
func (c *Client) ListChannels(ctx context.Context, token string) ([]any, error) {
	var out []any
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", "200")
		params.Set("types", "public_channel,private_channel")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var payload struct {
			OK       bool   `json:"ok"`
			Error    string `json:"error"`
			Channels []any  `json:"channels"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.call(ctx, token, "conversations.list", params, &payload); err != nil {
			return nil, err
		}
		if !payload.OK {
			return nil, apiError("conversations.list", payload.Error)
		}
		out = append(out, payload.Channels...)

		cursor = strings.TrimSpace(payload.Metadata.NextCursor)
		if cursor == "" {
			return out, nil
		}
	}
}

func (c *Client) call(ctx context.Context, token, method string, params url.Values, out any) error {
	endpoint := c.BaseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack %s: %s", method, resp.Status)
	}
	return json.Unmarshal(body, out)
}

func apiError(method, code string) error {
	if code == "" {
		code = "unknown_error"
	}
	return errors.New("slack " + method + ": " + code)
}
