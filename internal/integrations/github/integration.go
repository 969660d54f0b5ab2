// Package github is the GitHub capability bundle: repository and issue
// tables, the authenticated-user profile object, signed webhooks, a rate
// limit query and an issue-creation action.
package github

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
)

const defaultOAuthTokenURL = "https://github.com/login/oauth/access_token"

// Table and object keys. The webhooks table has no fetch function; its
// rows are written by SetupWebhook and read back by the webhook handler.
const (
	TableRepos    = "repos"
	TableIssues   = "issues"
	TableWebhooks = "webhooks"
	ObjectProfile = "profile"
)

// Config carries the deployment-level GitHub settings. ClientID and
// ClientSecret back the OAuth refresh endpoint; datasets with static
// tokens work without them.
type Config struct {
	ClientID      string
	ClientSecret  string
	APIBase       string
	OAuthTokenURL string
}

// Definition builds the GitHub integration bundle.
func Definition(cfg Config) *registry.Integration {
	client := NewClient(cfg.APIBase, nil)
	tokenURL := cfg.OAuthTokenURL
	if tokenURL == "" {
		tokenURL = defaultOAuthTokenURL
	}

	return &registry.Integration{
		Type:        "github",
		DisplayName: "GitHub",
		Available:   true,

		ProxyBaseURL: client.BaseURL,

		OAuth: &registry.OAuthEndpoint{
			TokenURL:     tokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},

		Objects: []registry.ObjectDefinition{{
			Key: ObjectProfile,
			Get: func(ctx context.Context, fc registry.FetchContext) (any, error) {
				return client.GetAuthenticatedUser(ctx, fc.Token)
			},
			ObjectID: func(_ *store.Dataset, record any) string {
				return registry.RecordField(record, "id")
			},
		}},

		Tables: []registry.TableDefinition{
			{
				Key:  TableRepos,
				Name: "Repositories",
				Get: func(ctx context.Context, fc registry.FetchContext) (any, error) {
					return client.ListUserRepos(ctx, fc.Token)
				},
				RowID: func(_ *store.Dataset, record any) string {
					return registry.RecordField(record, "id")
				},
			},
			{
				Key:  TableIssues,
				Name: "Issues",
				Get: func(ctx context.Context, fc registry.FetchContext) (any, error) {
					return client.ListUserIssues(ctx, fc.Token)
				},
				RowID: func(_ *store.Dataset, record any) string {
					return registry.RecordField(record, "id")
				},
			},
			{
				Key:  TableWebhooks,
				Name: "Webhook Subscriptions",
			},
		},

		Queries: []registry.QueryDefinition{{
			Key: "rate-limit",
			Run: func(ctx context.Context, fc registry.FetchContext, _ map[string]string) (any, error) {
				return client.GetRateLimit(ctx, fc.Token)
			},
		}},

		Actions: []registry.ActionDefinition{{
			Key: "create-issue",
			Run: func(ctx context.Context, fc registry.FetchContext, payload json.RawMessage) (any, error) {
				var params struct {
					Owner string `json:"owner"`
					Repo  string `json:"repo"`
					Title string `json:"title"`
					Body  string `json:"body"`
				}
				if err := json.Unmarshal(payload, &params); err != nil {
					return nil, fmt.Errorf("decode create-issue payload: %w", err)
				}
				if params.Owner == "" || params.Repo == "" || params.Title == "" {
					return nil, errors.New("create-issue requires owner, repo and title")
				}
				return client.CreateIssue(ctx, fc.Token, params.Owner, params.Repo, map[string]any{
					"title": params.Title,
					"body":  params.Body,
				})
			},
		}},

		Webhook:      webhookHandler,
		SetupWebhook: setupWebhook(client),
	}
}

// subscription is the record stored per registered hook in the webhooks
// table. Secret is the shared HMAC key the provider signs deliveries with.
type subscription struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

func setupWebhook(client *Client) registry.SetupWebhookFunc {
	return func(ctx context.Context, env registry.Env, fc registry.FetchContext, payload json.RawMessage) error {
		var params struct {
			Owner       string `json:"owner"`
			Repo        string `json:"repo"`
			CallbackURL string `json:"callbackUrl"`
		}
		if err := json.Unmarshal(payload, &params); err != nil {
			return fmt.Errorf("decode webhook-setup payload: %w", err)
		}
		if params.Owner == "" || params.Repo == "" || strings.TrimSpace(params.CallbackURL) == "" {
			return errors.New("webhook setup requires owner, repo and callbackUrl")
		}

		secret, err := newSecret()
		if err != nil {
			return err
		}
		hook, err := client.CreateRepoHook(ctx, fc.Token, params.Owner, params.Repo, params.CallbackURL, secret)
		if err != nil {
			return fmt.Errorf("create hook on %s/%s: %w", params.Owner, params.Repo, err)
		}
		hookID := registry.IDString(hook["id"])
		if hookID == "" {
			return errors.New("github hook response has no id")
		}

		table, err := env.EnsureTable(ctx, fc.Dataset.ID, TableWebhooks, "Webhook Subscriptions")
		if err != nil {
			return err
		}
		_, err = env.UpsertRow(ctx, table.ID, hookID, subscription{
			ID:     hookID,
			Owner:  params.Owner,
			Repo:   params.Repo,
			URL:    params.CallbackURL,
			Secret: secret,
		})
		return err
	}
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
