package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultMetricsAddr  = "off"
	defaultSyncInterval = 10 * time.Minute
	defaultFetchTimeout = 60 * time.Second
)

// Config holds the deployment configuration for a Conflux process.
type Config struct {
	DatabaseURL  string
	HTTPAddr     string
	MetricsAddr  string
	SyncInterval time.Duration
	FetchTimeout time.Duration

	// Shared provider app credentials. Integrations that need a shared
	// secret are hidden from the registry listing when it is unset.
	GitHubClientID     string
	GitHubClientSecret string
	GitHubAPIBase      string
	SlackClientID      string
	SlackClientSecret  string
	SlackAPIBase       string
	LinearAPIBase      string

	// Token vault connection for datasets that delegate credential
	// storage to HashiCorp Vault.
	VaultAddr  string
	VaultToken string
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadOptionalDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		HTTPAddr:           getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:        getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		SyncInterval:       getenvDurationDefault("SYNC_INTERVAL", defaultSyncInterval),
		FetchTimeout:       getenvDurationDefault("FETCH_TIMEOUT", defaultFetchTimeout),
		GitHubClientID:     strings.TrimSpace(os.Getenv("GITHUB_CLIENT_ID")),
		GitHubClientSecret: strings.TrimSpace(os.Getenv("GITHUB_CLIENT_SECRET")),
		GitHubAPIBase:      getenvDefault("GITHUB_API_BASE", ""),
		SlackClientID:      strings.TrimSpace(os.Getenv("SLACK_CLIENT_ID")),
		SlackClientSecret:  strings.TrimSpace(os.Getenv("SLACK_CLIENT_SECRET")),
		SlackAPIBase:       getenvDefault("SLACK_API_BASE", ""),
		LinearAPIBase:      getenvDefault("LINEAR_API_BASE", ""),
		VaultAddr:          strings.TrimSpace(os.Getenv("VAULT_ADDR")),
		VaultToken:         strings.TrimSpace(os.Getenv("VAULT_TOKEN")),
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
