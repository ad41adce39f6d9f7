package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Engine.TickInterval.Duration != time.Second {
		t.Errorf("expected 1s tick interval, got %s", cfg.Engine.TickInterval.Duration)
	}
}

func TestLoad_TOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
log_level = "debug"

[server]
port = 9000

[engine]
tick_interval = "250ms"

[settlement]
max_retries = 5
base_backoff = "50ms"

[notify]
webhook_url = "https://example.com/hook"
events = ["pool_locked"]
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("POOLENGINE_SERVER_PORT", "9100")
	t.Setenv("POOLENGINE_NOTIFY_EVENTS", "pool_completed, pool_cancelled")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("env override should win: got %d", cfg.Server.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug from TOML, got %q", cfg.LogLevel)
	}
	if cfg.Engine.TickInterval.Duration != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.Engine.TickInterval.Duration)
	}
	if cfg.Settlement.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Settlement.MaxRetries)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[0] != "pool_completed" {
		t.Errorf("env event list should win: %v", cfg.Notify.Events)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config must validate: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"tick", func(c *Config) { c.Engine.TickInterval.Duration = 0 }},
		{"retries", func(c *Config) { c.Settlement.MaxRetries = -1 }},
		{"backoff", func(c *Config) { c.Settlement.BaseBackoff.Duration = 0 }},
		{"sweep", func(c *Config) { c.AutoEnroll.SweepInterval.Duration = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
