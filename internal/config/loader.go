package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when path is empty
// or missing), merges it on top of the built-in defaults, applies
// POOLENGINE_* environment variable overrides, and returns the final Config.
// The caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "POOLENGINE_SERVER_PORT")

	setStr(&cfg.Database.URL, "POOLENGINE_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias

	setStr(&cfg.Redis.Addr, "POOLENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLENGINE_REDIS_DB")

	setDuration(&cfg.Engine.TickInterval, "POOLENGINE_TICK_INTERVAL")

	setStr(&cfg.Settlement.OrderServiceURL, "POOLENGINE_ORDER_SERVICE_URL")
	setInt(&cfg.Settlement.MaxRetries, "POOLENGINE_SETTLEMENT_MAX_RETRIES")
	setDuration(&cfg.Settlement.BaseBackoff, "POOLENGINE_SETTLEMENT_BASE_BACKOFF")

	setDuration(&cfg.AutoEnroll.SweepInterval, "POOLENGINE_AUTO_ENROLL_SWEEP_INTERVAL")

	setStr(&cfg.Notify.WebhookURL, "POOLENGINE_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLENGINE_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "POOLENGINE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
