// Package config surfaces the relay's environment-driven settings.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the relay needs to start.
type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string
	// RedisAddr is the host:port of the snapshot cache and pub/sub bus.
	RedisAddr     string
	RedisPassword string
	// DatabaseURL, when set, selects the Postgres snapshot store.
	DatabaseURL string
	// BoltPath is the embedded-store fallback used when DatabaseURL is empty.
	BoltPath string
	// FlushInterval is the write-back scheduler period.
	FlushInterval time.Duration
}

// Load reads configuration from the environment with the same fallbacks the
// reference deployment uses.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8081")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BOLT_PATH", "")
	v.SetDefault("FLUSH_INTERVAL", "10s")

	cfg := Config{
		ListenAddr:    v.GetString("LISTEN_ADDR"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		BoltPath:      v.GetString("BOLT_PATH"),
		FlushInterval: v.GetDuration("FLUSH_INTERVAL"),
	}
	if cfg.FlushInterval <= 0 {
		return Config{}, fmt.Errorf("config: FLUSH_INTERVAL must be positive, got %q", v.GetString("FLUSH_INTERVAL"))
	}
	return cfg, nil
}
