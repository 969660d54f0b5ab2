// Package credentials turns a dataset's stored credential blob into a
// usable bearer token, refreshing OAuth tokens and reading
// vault-delegated tokens as needed.
package credentials

import (
	"encoding/json"
	"strings"
)

// Credentials is the opaque structured blob stored on a dataset. The
// populated fields decide the resolution strategy: a vault reference, an
// OAuth token pair, or a static token.
type Credentials struct {
	Token        string `json:"token,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`

	// VaultPath points at a secret in the deployment's token vault; the
	// vault stays the source of truth and is read on every resolve.
	VaultPath  string `json:"vaultPath,omitempty"`
	VaultField string `json:"vaultField,omitempty"`
}

// Decode parses a credential blob. Empty and JSON-null blobs decode to
// the zero value.
func Decode(raw []byte) (Credentials, error) {
	var c Credentials
	if len(raw) == 0 {
		return c, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return c, nil
	}
	err := json.Unmarshal(raw, &c)
	return c, err
}

// Encode serializes a credential blob for storage.
func Encode(c Credentials) []byte {
	b, err := json.Marshal(c)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// HasUsable reports whether any credential marker is present. Datasets
// without one are skipped by the sync engine without any fetch or write.
func (c Credentials) HasUsable() bool {
	return c.Token != "" || c.AccessToken != "" || c.VaultPath != ""
}
