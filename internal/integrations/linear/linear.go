// Package linear is the Linear capability bundle. Linear only speaks
// GraphQL, so the issues table is fetched with a paged query and the
// pass-through proxy must force a JSON content type.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
)

const defaultAPIBase = "https://api.linear.app"

const TableIssues = "issues"

type Config struct {
	APIBase string
}

func Definition(cfg Config) *registry.Integration {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = defaultAPIBase
	}
	client := &Client{BaseURL: base}

	return &registry.Integration{
		Type:        "linear",
		DisplayName: "Linear",
		Available:   true,

		ProxyBaseURL: base,
		// Linear rejects GraphQL posts without an explicit JSON content type.
		ProxyHeaders: map[string]string{"Content-Type": "application/json"},

		Tables: []registry.TableDefinition{{
			Key:  TableIssues,
			Name: "Issues",
			Get: func(ctx context.Context, fc registry.FetchContext) (any, error) {
				return client.ListIssues(ctx, fc.Token)
			},
			RowID: func(_ *store.Dataset, record any) string {
				return registry.RecordField(record, "id")
			},
		}},
	}
}

// Client posts GraphQL queries to the Linear API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

const issuesQuery = `query($cursor: String) {
  issues(first: 100, after: $cursor) {
    nodes {
      id
      identifier
      title
      priority
      createdAt
      updatedAt
      state { name }
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
}`

// ListIssues pages through the workspace's issues.
func (c *Client) ListIssues(ctx context.Context, token string) ([]any, error) {
	var out []any
	cursor := ""
	for {
		var payload struct {
			Data struct {
				Issues struct {
					Nodes    []any `json:"nodes"`
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
				} `json:"issues"`
			} `json:"data"`
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}

		vars := map[string]any{"cursor": nil}
		if cursor != "" {
			vars["cursor"] = cursor
		}
		if err := c.query(ctx, token, issuesQuery, vars, &payload); err != nil {
			return nil, err
		}
		if len(payload.Errors) > 0 {
			msg := strings.TrimSpace(payload.Errors[0].Message)
			if msg == "" {
				msg = "unknown error"
			}
			return nil, errors.New("linear graphql: " + msg)
		}

		out = append(out, payload.Data.Issues.Nodes...)
		if !payload.Data.Issues.PageInfo.HasNextPage {
			return out, nil
		}
		cursor = payload.Data.Issues.PageInfo.EndCursor
	}
}

func (c *Client) query(ctx context.Context, token, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return err
	}
	// Linear expects the raw API key as the Authorization value.
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("linear graphql: %s", resp.Status)
	}
	return json.Unmarshal(respBody, out)
}
