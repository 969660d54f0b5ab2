package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/google/uuid"
)

func TestDefinitionCapabilities(t *testing.T) {
	t.Parallel()

	i := Definition(Config{ClientID: "id", ClientSecret: "secret"})
	if i.Type != "github" || !i.Available {
		t.Fatalf("unexpected bundle identity: %+v", i)
	}

	caps := map[string]bool{}
	for _, c := range i.Capabilities() {
		caps[c] = true
	}
	for _, want := range []string{"objects", "tables", "queries", "actions", "webhook", "webhook-setup", "oauth-refresh", "proxy"} {
		if !caps[want] {
			t.Fatalf("missing capability %q in %v", want, i.Capabilities())
		}
	}

	var webhooks *registry.TableDefinition
	for idx := range i.Tables {
		if i.Tables[idx].Key == TableWebhooks {
			webhooks = &i.Tables[idx]
		}
	}
	if webhooks == nil {
		t.Fatal("webhooks table not declared")
	}
	if webhooks.Get != nil {
		t.Fatal("webhooks table must not be fetchable")
	}
}

func TestSetupWebhookRegistersAndStoresSubscription(t *testing.T) {
	t.Parallel()

	var hookReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/hooks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&hookReq)
		fmt.Fprint(w, `{"id":555,"active":true}`)
	}))
	defer srv.Close()

	i := Definition(Config{APIBase: srv.URL})
	env := newFakeEnv()
	ds := &store.Dataset{ID: uuid.New()}
	payload := json.RawMessage(`{"owner":"acme","repo":"widgets","callbackUrl":"https://conflux.example.com/api/webhooks/abc"}`)

	if err := i.SetupWebhook(context.Background(), env, registry.FetchContext{Dataset: ds, Token: "tok"}, payload); err != nil {
		t.Fatalf("SetupWebhook: %v", err)
	}

	cfg, _ := hookReq["config"].(map[string]any)
	if cfg == nil || cfg["secret"] == "" || cfg["url"] != "https://conflux.example.com/api/webhooks/abc" {
		t.Fatalf("hook config = %#v", hookReq["config"])
	}

	if env.rowWrites != 1 || env.lastTable != TableWebhooks || env.lastSource != "555" {
		t.Fatalf("expected one webhooks row for 555, got writes=%d table=%q source=%q",
			env.rowWrites, env.lastTable, env.lastSource)
	}
	sub, ok := env.lastRecord.(subscription)
	if !ok {
		t.Fatalf("stored record = %#v", env.lastRecord)
	}
	if sub.Secret == "" || sub.Secret != cfg["secret"] {
		t.Fatal("stored secret must match the secret registered with the provider")
	}
}

func TestSetupWebhookValidatesPayload(t *testing.T) {
	t.Parallel()

	i := Definition(Config{})
	env := newFakeEnv()
	ds := &store.Dataset{ID: uuid.New()}

	err := i.SetupWebhook(context.Background(), env, registry.FetchContext{Dataset: ds}, json.RawMessage(`{"owner":"acme"}`))
	if err == nil {
		t.Fatal("expected validation error for incomplete payload")
	}
	if env.rowWrites != 0 {
		t.Fatal("invalid payload must not write")
	}
}
