package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
	if _, err := LoadOptionalDB(); err != nil {
		t.Fatalf("LoadOptionalDB: %v", err)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/conflux")
	t.Setenv("SYNC_INTERVAL", "90s")
	t.Setenv("FETCH_TIMEOUT", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Fatalf("SyncInterval = %v, want 90s", cfg.SyncInterval)
	}
	if cfg.FetchTimeout != defaultFetchTimeout {
		t.Fatalf("FetchTimeout = %v, want default on parse failure", cfg.FetchTimeout)
	}
}
