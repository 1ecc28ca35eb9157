// Package config loads process configuration from an optional YAML file with
// environment-variable overrides. The listening address and the moderation
// store address are startup requirements: their absence is fatal for the
// component that needs them, never a per-request error.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings for the relay server and the moderator service.
type Config struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
	MaxConnections int           `mapstructure:"max_connections"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`

	RedisAddr   string `mapstructure:"redis_addr"`   // moderation record store
	NATSURL     string `mapstructure:"nats_url"`     // moderation audit events
	PostgresDSN string `mapstructure:"postgres_dsn"` // moderator service only
}

// Load reads the configuration file (CONFIG_FILE, default config.yaml if
// present) and applies environment overrides. Tunables get defaults;
// addresses for required external systems do not.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("worker_pool_size", 256)
	v.SetDefault("max_connections", 100000)
	v.SetDefault("read_timeout", "10s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("nats_url", "nats://localhost:4222")

	file := os.Getenv("CONFIG_FILE")
	if file == "" {
		file = "config.yaml"
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && os.Getenv("CONFIG_FILE") != "" {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		// No config file: environment and defaults only.
	}

	// Environment overrides.
	bindings := map[string]string{
		"listen_addr":      "LISTEN_ADDR",
		"worker_pool_size": "WORKER_POOL_SIZE",
		"max_connections":  "MAX_CONNECTIONS",
		"read_timeout":     "READ_TIMEOUT",
		"write_timeout":    "WRITE_TIMEOUT",
		"redis_addr":       "REDIS_ADDR",
		"nats_url":         "NATS_URL",
		"postgres_dsn":     "POSTGRES_DSN",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

// ValidateServer checks the settings the relay server cannot start without.
func (c *Config) ValidateServer() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("config: redis_addr (moderation store) is required")
	}
	return nil
}

// ValidateModerator checks the settings the moderator service cannot start
// without.
func (c *Config) ValidateModerator() error {
	if c.NATSURL == "" {
		return fmt.Errorf("config: nats_url is required")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("config: postgres_dsn is required")
	}
	return nil
}
