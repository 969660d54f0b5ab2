package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/google/uuid"
	vaultapi "github.com/hashicorp/vault/api"
)

const defaultVaultField = "access_token"

// TokenStore persists refreshed credential blobs back onto the dataset
// record.
type TokenStore interface {
	UpdateDatasetCredentials(ctx context.Context, id uuid.UUID, credentials []byte) error
}

// Resolver produces bearer tokens for datasets. A nil Vault client
// simply makes vault-delegated datasets unresolvable.
type Resolver struct {
	Store      TokenStore
	Vault      *vaultapi.Client
	HTTPClient *http.Client
}

func NewResolver(ts TokenStore, vault *vaultapi.Client) *Resolver {
	return &Resolver{
		Store:      ts,
		Vault:      vault,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// ResolveToken returns a usable bearer token for the dataset, or an
// empty token when no usable credential exists. Callers treat the empty
// result as "skip this source", not as an error.
//
// Resolution order: vault reference, then OAuth refresh, then static
// tokens. When a refresh token is present the refresh happens
// unconditionally, without inspecting expiry; the refreshed pair is
// persisted onto the dataset before the new token is returned.
func (r *Resolver) ResolveToken(ctx context.Context, ds *store.Dataset, oauth *registry.OAuthEndpoint) (string, error) {
	if ds == nil {
		return "", nil
	}
	creds, err := Decode(ds.Credentials)
	if err != nil {
		return "", fmt.Errorf("decode credentials for dataset %s: %w", ds.ID, err)
	}

	if creds.VaultPath != "" {
		return r.vaultToken(ctx, creds)
	}

	if creds.RefreshToken != "" && oauth != nil && oauth.TokenURL != "" {
		return r.refresh(ctx, ds, creds, oauth)
	}

	if creds.AccessToken != "" {
		return creds.AccessToken, nil
	}
	return creds.Token, nil
}

func (r *Resolver) vaultToken(ctx context.Context, creds Credentials) (string, error) {
	if r.Vault == nil {
		return "", fmt.Errorf("dataset references vault path %q but no vault is configured", creds.VaultPath)
	}
	secret, err := r.Vault.Logical().ReadWithContext(ctx, creds.VaultPath)
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", creds.VaultPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault path %s has no secret", creds.VaultPath)
	}
	data := secret.Data
	// KV v2 nests the payload under "data".
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	field := creds.VaultField
	if field == "" {
		field = defaultVaultField
	}
	token, _ := data[field].(string)
	if token == "" {
		return "", fmt.Errorf("vault path %s has no %q field", creds.VaultPath, field)
	}
	return token, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Error        string `json:"error"`
}

func (r *Resolver) refresh(ctx context.Context, ds *store.Dataset, creds Credentials, oauth *registry.OAuthEndpoint) (string, error) {
	clientID := creds.ClientID
	if clientID == "" {
		clientID = oauth.ClientID
	}
	clientSecret := creds.ClientSecret
	if clientSecret == "" {
		clientSecret = oauth.ClientSecret
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	if clientID != "" {
		form.Set("client_id", clientID)
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpClient := r.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh for dataset %s: %w", ds.ID, err)
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("token refresh for dataset %s: status=%d body=%s", ds.ID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("token refresh for dataset %s: decode: %w", ds.ID, err)
	}
	if tok.Error != "" {
		return "", fmt.Errorf("token refresh for dataset %s: provider error %q", ds.ID, tok.Error)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token refresh for dataset %s: empty access token", ds.ID)
	}

	creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
	}
	if r.Store != nil {
		if err := r.Store.UpdateDatasetCredentials(ctx, ds.ID, Encode(creds)); err != nil {
			return "", fmt.Errorf("persist refreshed credentials for dataset %s: %w", ds.ID, err)
		}
		ds.Credentials = Encode(creds)
	} else {
		slog.Warn("refreshed token not persisted, no token store configured", "dataset_id", ds.ID)
	}
	return tok.AccessToken, nil
}
