package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLoggerJSONIncludesAppAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: "json", Level: slog.LevelInfo}, &buf, "serve")
	logger.Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if record["app"] != "conflux" {
		t.Fatalf("expected app=conflux, got %v", record["app"])
	}
	if record["command"] != "serve" {
		t.Fatalf("expected command=serve, got %v", record["command"])
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: "text", Level: slog.LevelWarn}, &buf, "")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be suppressed at warn level, got %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn to be logged")
	}
}

func TestLoadConfigFromEnvRejectsUnknownValues(t *testing.T) {
	t.Setenv(EnvFormat, "xml")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for unknown format")
	}
	t.Setenv(EnvFormat, "json")
	t.Setenv(EnvLevel, "loud")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
