// Package registry models integrations as capability bundles: plain
// records of optional fields, tagged by presence. A missing capability
// means "unsupported", never an error.
package registry

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/confluxhq/conflux/internal/store"
	"github.com/google/uuid"
)

// FetchContext carries everything an integration's fetch functions need
// for one call: the dataset, a resolved bearer token and an HTTP client.
type FetchContext struct {
	Dataset *store.Dataset
	Token   string
	Client  *http.Client
}

// TableDefinition declares a fetchable collection and how to derive each
// record's external identity. Get may be nil for tables that are only
// written through webhooks or setup routines. RowID may be nil; the
// engine then falls back to the record's "id" member or a content hash.
type TableDefinition struct {
	Key   string
	Name  string
	Get   func(ctx context.Context, fc FetchContext) (any, error)
	RowID func(ds *store.Dataset, record any) string
}

// ObjectDefinition declares a fetchable singleton. Get returning nil
// means the source reports no current object.
type ObjectDefinition struct {
	Key      string
	Get      func(ctx context.Context, fc FetchContext) (any, error)
	ObjectID func(ds *store.Dataset, record any) string
}

// QueryDefinition is a read-only computed query against the provider.
type QueryDefinition struct {
	Key string
	Run func(ctx context.Context, fc FetchContext, params map[string]string) (any, error)
}

// ActionDefinition invokes a provider-side operation on behalf of a
// dataset.
type ActionDefinition struct {
	Key string
	Run func(ctx context.Context, fc FetchContext, payload json.RawMessage) (any, error)
}

// OAuthEndpoint is the credential-refresh surface of a provider. Consent
// flows are out of scope; only the token endpoint the resolver needs.
type OAuthEndpoint struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// WebhookRequest is the raw inbound request handed to a webhook handler.
type WebhookRequest struct {
	Method string
	Header http.Header
	Body   []byte
}

// WebhookResponse is what the HTTP boundary relays back to the provider.
type WebhookResponse struct {
	Status int
	Body   any
}

// Env is the upsert surface handed to webhook handlers and setup
// routines so they converge on the same invariants as polling sync.
type Env interface {
	EnsureTable(ctx context.Context, datasetID uuid.UUID, key, name string) (store.Table, error)
	UpsertRow(ctx context.Context, tableID uuid.UUID, sourceID string, record any) (bool, error)
	UpsertObject(ctx context.Context, datasetID uuid.UUID, objectType string, record any, sourceID string) (bool, error)
	FindRow(ctx context.Context, datasetID uuid.UUID, tableKey, sourceID string) (store.Row, bool, error)
}

// WebhookHandler validates and applies one inbound provider delivery.
// Protocol or signature failures are reported as client-error responses,
// not Go errors; errors are reserved for internal failures.
type WebhookHandler func(ctx context.Context, env Env, ds *store.Dataset, req *WebhookRequest) (*WebhookResponse, error)

// SetupWebhookFunc registers a provider-side webhook subscription for a
// dataset and records the shared signing secret through env. payload
// carries provider-specific parameters from the caller, e.g. the target
// repository and the callback URL.
type SetupWebhookFunc func(ctx context.Context, env Env, fc FetchContext, payload json.RawMessage) error

// Integration is a named capability bundle describing how to
// authenticate with and fetch data from one external provider. Every
// capability field is independently optional.
type Integration struct {
	Type        string
	DisplayName string

	// Available is false when the bundle is gated behind a shared
	// provider secret that this deployment has not configured.
	Available bool

	ProxyBaseURL string
	ProxyHeaders map[string]string

	OAuth *OAuthEndpoint

	Objects []ObjectDefinition
	Tables  []TableDefinition
	Queries []QueryDefinition
	Actions []ActionDefinition

	Webhook      WebhookHandler
	SetupWebhook SetupWebhookFunc
}

// Capabilities reports which optional capabilities the bundle carries,
// for listing endpoints.
func (i *Integration) Capabilities() []string {
	var caps []string
	if len(i.Objects) > 0 {
		caps = append(caps, "objects")
	}
	if len(i.Tables) > 0 {
		caps = append(caps, "tables")
	}
	if len(i.Queries) > 0 {
		caps = append(caps, "queries")
	}
	if len(i.Actions) > 0 {
		caps = append(caps, "actions")
	}
	if i.Webhook != nil {
		caps = append(caps, "webhook")
	}
	if i.SetupWebhook != nil {
		caps = append(caps, "webhook-setup")
	}
	if i.OAuth != nil {
		caps = append(caps, "oauth-refresh")
	}
	if i.ProxyBaseURL != "" {
		caps = append(caps, "proxy")
	}
	return caps
}

// FindQuery returns the named computed query, if declared.
func (i *Integration) FindQuery(key string) (QueryDefinition, bool) {
	for _, q := range i.Queries {
		if q.Key == key {
			return q, true
		}
	}
	return QueryDefinition{}, false
}

// FindAction returns the named action, if declared.
func (i *Integration) FindAction(key string) (ActionDefinition, bool) {
	for _, a := range i.Actions {
		if a.Key == key {
			return a, true
		}
	}
	return ActionDefinition{}, false
}
