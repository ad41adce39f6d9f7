// Package config defines the top-level configuration for the pool engine
// and provides validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POOLENGINE_* environment
// variables.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Engine     EngineConfig     `toml:"engine"`
	Settlement SettlementConfig `toml:"settlement"`
	AutoEnroll AutoEnrollConfig `toml:"auto_enroll"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port int `toml:"port"`
}

// DatabaseConfig holds PostgreSQL connection parameters. When URL is empty
// the engine falls back to the in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds Redis connection parameters for the read-through pool
// cache. When Addr is empty the cache layer is skipped.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// EngineConfig holds lifecycle manager parameters.
type EngineConfig struct {
	TickInterval duration `toml:"tick_interval"`
}

// SettlementConfig holds settlement coordinator parameters.
type SettlementConfig struct {
	OrderServiceURL string   `toml:"order_service_url"`
	MaxRetries      int      `toml:"max_retries"`
	BaseBackoff     duration `toml:"base_backoff"`
}

// AutoEnrollConfig holds auto-enrollment matcher parameters.
type AutoEnrollConfig struct {
	SweepInterval duration `toml:"sweep_interval"`
}

// NotifyConfig holds webhook notification parameters.
type NotifyConfig struct {
	WebhookURL string   `toml:"webhook_url"`
	Events     []string `toml:"events"`
}

// Defaults returns a Config with sensible defaults for local development.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Engine: EngineConfig{
			TickInterval: duration{time.Second},
		},
		Settlement: SettlementConfig{
			MaxRetries:  3,
			BaseBackoff: duration{200 * time.Millisecond},
		},
		AutoEnroll: AutoEnrollConfig{
			SweepInterval: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"pool_locked", "pool_completed", "pool_expired", "pool_cancelled"},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for obviously bad values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Engine.TickInterval.Duration <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Settlement.MaxRetries < 0 {
		return fmt.Errorf("settlement.max_retries must not be negative")
	}
	if c.Settlement.BaseBackoff.Duration <= 0 {
		return fmt.Errorf("settlement.base_backoff must be positive")
	}
	if c.AutoEnroll.SweepInterval.Duration <= 0 {
		return fmt.Errorf("auto_enroll.sweep_interval must be positive")
	}
	return nil
}

// duration wraps time.Duration for TOML decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
