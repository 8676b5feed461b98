package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
version: 1
global:
  db_path: test.db
watcher:
  endpoints:
    - ${RPC_PRIMARY}
    - https://rpc.backup.example
  watch_address: "0x07c249fa3902fd243ad0fa58047bE8A3262B7104"
  webhook_url: ${WEBHOOK_URL}
alerts:
  enabled: true
  mode: both
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadInterpolatesEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("RPC_PRIMARY", "https://rpc.example")
	t.Setenv("WEBHOOK_URL", "https://hooks.example/deliver")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Watcher.Endpoints[0]; got != "https://rpc.example" {
		t.Fatalf("endpoint not interpolated, got %q", got)
	}
	if cfg.Watcher.ChunkSize != 100 {
		t.Fatalf("chunk_size default = %d, want 100", cfg.Watcher.ChunkSize)
	}
	if cfg.Watcher.CatchupCap != 10 {
		t.Fatalf("catchup_cap default = %d, want 10", cfg.Watcher.CatchupCap)
	}
	if cfg.Watcher.DedupSize != 1000 {
		t.Fatalf("dedup_size default = %d, want 1000", cfg.Watcher.DedupSize)
	}
	if got := cfg.Watcher.PollIntervalDuration(); got != 300*time.Millisecond {
		t.Fatalf("poll interval default = %s, want 300ms", got)
	}
	if got := cfg.Watcher.ReselectEveryDuration(); got != 30*time.Second {
		t.Fatalf("reselect default = %s, want 30s", got)
	}
	if got := cfg.Alerts.CooldownDuration(); got != 15*time.Minute {
		t.Fatalf("cooldown default = %s, want 15m", got)
	}
	if len(cfg.Alerts.APIBases) == 0 {
		t.Fatalf("expected default api_bases")
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	t.Setenv("RPC_PRIMARY", "https://rpc.example")
	// WEBHOOK_URL deliberately unset.
	os.Unsetenv("WEBHOOK_URL")

	if _, err := Load(writeConfig(t, validYAML)); err == nil {
		t.Fatalf("expected missing env to fail")
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no_version", func(c *Config) { c.Version = 0 }},
		{"no_endpoints", func(c *Config) { c.Watcher.Endpoints = nil }},
		{"no_watch_address", func(c *Config) { c.Watcher.WatchAddress = "" }},
		{"bad_watch_address", func(c *Config) { c.Watcher.WatchAddress = "not-an-address" }},
		{"no_webhook", func(c *Config) { c.Watcher.WebhookURL = "" }},
		{"bad_poll_interval", func(c *Config) { c.Watcher.PollInterval = "soon" }},
		{"bad_alert_mode", func(c *Config) { c.Alerts.Mode = "sideways" }},
		{"window_not_above_interval", func(c *Config) {
			c.Alerts.Window = "30s"
			c.Alerts.CheckInterval = "60s"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func baseConfig() *Config {
	cfg := &Config{
		Version: 1,
		Watcher: WatcherConfig{
			Endpoints:    []string{"https://rpc.example"},
			WatchAddress: "0x07c249fa3902fd243ad0fa58047bE8A3262B7104",
			WebhookURL:   "https://hooks.example/deliver",
		},
		Alerts: AlertConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}
