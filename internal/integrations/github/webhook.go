package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
)

// webhookHandler validates an inbound GitHub delivery against the stored
// subscription secret and applies the event through the upsert surface.
// Nothing is written until the signature has been verified.
func webhookHandler(ctx context.Context, env registry.Env, ds *store.Dataset, req *registry.WebhookRequest) (*registry.WebhookResponse, error) {
	if req.Method != http.MethodPost {
		return reject("only POST deliveries are accepted"), nil
	}
	if ct := req.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return reject("deliveries must be application/json"), nil
	}

	hookID := strings.TrimSpace(req.Header.Get("X-GitHub-Hook-ID"))
	if hookID == "" {
		return reject("missing X-GitHub-Hook-ID header"), nil
	}
	row, found, err := env.FindRow(ctx, ds.ID, TableWebhooks, hookID)
	if err != nil {
		return nil, err
	}
	if !found {
		return &registry.WebhookResponse{
			Status: http.StatusNotFound,
			Body:   map[string]string{"error": "unknown webhook subscription"},
		}, nil
	}
	var sub subscription
	if err := json.Unmarshal(row.Data, &sub); err != nil {
		return nil, err
	}

	if !verifySignature(sub.Secret, req.Body, req.Header.Get("X-Hub-Signature-256")) {
		return reject("signature mismatch"), nil
	}

	event := req.Header.Get("X-GitHub-Event")
	if event == "" || event == "ping" {
		return ok(false), nil
	}

	var payload map[string]any
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return reject("malformed event payload"), nil
	}

	switch event {
	case "repository", "push":
		return applyRecord(ctx, env, ds, TableRepos, "Repositories", payload["repository"])
	case "issues":
		return applyRecord(ctx, env, ds, TableIssues, "Issues", payload["issue"])
	default:
		// Unknown events are acknowledged so the provider does not retry.
		return ok(false), nil
	}
}

func applyRecord(ctx context.Context, env registry.Env, ds *store.Dataset, tableKey, tableName string, record any) (*registry.WebhookResponse, error) {
	rec, isObject := record.(map[string]any)
	if !isObject {
		return reject("event carries no usable record"), nil
	}
	sourceID := registry.RecordField(rec, "id")
	if sourceID == "" {
		return reject("event record has no id"), nil
	}
	table, err := env.EnsureTable(ctx, ds.ID, tableKey, tableName)
	if err != nil {
		return nil, err
	}
	changed, err := env.UpsertRow(ctx, table.ID, sourceID, rec)
	if err != nil {
		return nil, err
	}
	return ok(changed), nil
}

// verifySignature recomputes the HMAC-SHA256 of the raw body and compares
// it to the sha256=<hex> header in constant time.
func verifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func ok(changed bool) *registry.WebhookResponse {
	return &registry.WebhookResponse{
		Status: http.StatusOK,
		Body:   map[string]any{"ok": true, "changed": changed},
	}
}

func reject(message string) *registry.WebhookResponse {
	return &registry.WebhookResponse{
		Status: http.StatusBadRequest,
		Body:   map[string]string{"error": message},
	}
}
