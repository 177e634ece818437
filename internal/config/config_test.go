package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.HeartbeatInterval != 30*time.Second {
		t.Errorf("unexpected heartbeat interval: %s", cfg.Engine.HeartbeatInterval)
	}
	if cfg.Engine.MaxRetries != 5 {
		t.Errorf("unexpected retry budget: %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.BackoffCap != 30*time.Second {
		t.Errorf("unexpected backoff cap: %s", cfg.Engine.BackoffCap)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil engine", func(c *Config) { c.Engine = nil }},
		{"zero heartbeat", func(c *Config) { c.Engine.HeartbeatInterval = 0 }},
		{"cap below base", func(c *Config) { c.Engine.BackoffCap = c.Engine.BackoffBase - 1 }},
		{"zero retries", func(c *Config) { c.Engine.MaxRetries = 0 }},
		{"zero history cap", func(c *Config) { c.Engine.HistoryCap = 0 }},
		{"nil relay", func(c *Config) { c.Relay = nil }},
		{"port out of range", func(c *Config) { c.Relay.Port = 70000 }},
		{"empty relay host", func(c *Config) { c.Relay.Host = "" }},
		{"nil archive", func(c *Config) { c.Archive = nil }},
		{"empty archive path", func(c *Config) { c.Archive.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("ROOMSYNC_RELAY_PORT", "9999")
	t.Setenv("ROOMSYNC_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("ROOMSYNC_MAX_RETRIES", "3")
	t.Setenv("ROOMSYNC_ARCHIVE_PATH", "/tmp/rs.db")

	cfg := LoadFromEnv()
	if cfg.Relay.Port != 9999 {
		t.Errorf("port override ignored: %d", cfg.Relay.Port)
	}
	if cfg.Engine.HeartbeatInterval != 10*time.Second {
		t.Errorf("heartbeat override ignored: %s", cfg.Engine.HeartbeatInterval)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("retry override ignored: %d", cfg.Engine.MaxRetries)
	}
	if cfg.Archive.Path != "/tmp/rs.db" {
		t.Errorf("archive path override ignored: %s", cfg.Archive.Path)
	}
}

func TestLoadFromEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("ROOMSYNC_RELAY_PORT", "not-a-number")
	t.Setenv("ROOMSYNC_BACKOFF_BASE", "soon")

	cfg := LoadFromEnv()
	defaults := DefaultConfig()
	if cfg.Relay.Port != defaults.Relay.Port {
		t.Errorf("malformed port should keep default, got %d", cfg.Relay.Port)
	}
	if cfg.Engine.BackoffBase != defaults.Engine.BackoffBase {
		t.Errorf("malformed duration should keep default, got %s", cfg.Engine.BackoffBase)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `{
		"engine": {"heartbeat_interval": "15s", "history_cap": 100},
		"relay": {"port": 9090, "host": "127.0.0.1"},
		"archive": {"path": "custom.db", "timeout": "5s"}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Engine.HeartbeatInterval != 15*time.Second {
		t.Errorf("heartbeat not loaded: %s", cfg.Engine.HeartbeatInterval)
	}
	if cfg.Engine.HistoryCap != 100 {
		t.Errorf("history cap not loaded: %d", cfg.Engine.HistoryCap)
	}
	if cfg.Relay.Port != 9090 || cfg.Relay.Host != "127.0.0.1" {
		t.Errorf("relay section not loaded: %+v", cfg.Relay)
	}
	if cfg.Archive.Path != "custom.db" || cfg.Archive.Timeout != 5*time.Second {
		t.Errorf("archive section not loaded: %+v", cfg.Archive)
	}
	// Unspecified fields keep defaults.
	if cfg.Engine.MaxRetries != 5 {
		t.Errorf("unspecified field lost default: %d", cfg.Engine.MaxRetries)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{invalid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestLoadWithPrecedence_FileWins(t *testing.T) {
	t.Setenv("ROOMSYNC_RELAY_PORT", "9999")

	content := `{"relay": {"port": 9090}}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadWithPrecedence(path)
	if cfg.Relay.Port != 9090 {
		t.Errorf("file should win over env: %d", cfg.Relay.Port)
	}

	// Missing file falls back to environment.
	cfg = LoadWithPrecedence("/nonexistent.json")
	if cfg.Relay.Port != 9999 {
		t.Errorf("env fallback broken: %d", cfg.Relay.Port)
	}
}
