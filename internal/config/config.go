// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

// Package config loads layered configuration: struct defaults, then an
// optional YAML file, then STREAMSENTRY_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "STREAMSENTRY_CONFIG"

// envPrefix is stripped from every environment override.
const envPrefix = "STREAMSENTRY_"

// DefaultConfigPaths are searched in order when no override is set.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamsentry/config.yaml",
}

// Config is the whole runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	NATS     NATSConfig     `koanf:"nats"`
	Sync     SyncConfig     `koanf:"sync"`
	Stats    StatsConfig    `koanf:"stats"`
	Trust    TrustConfig    `koanf:"trust"`
	Logging  LoggingConfig  `koanf:"logging"`

	Servers []MediaServerConfig `koanf:"servers" validate:"required,min=1,dive"`
}

// ServerConfig is the HTTP API listener.
type ServerConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port" validate:"min=1,max=65535"`
	CORSOrigins  []string `koanf:"cors_origins"`
	RateLimitRPM int      `koanf:"rate_limit_rpm" validate:"min=1"`
}

// DatabaseConfig is the PostgreSQL store.
type DatabaseConfig struct {
	URL      string `koanf:"url" validate:"required"`
	MaxConns int    `koanf:"max_conns" validate:"min=1"`
}

// RedisConfig is the cache and bus.
type RedisConfig struct {
	Addr     string `koanf:"addr" validate:"required"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
}

// NATSConfig is the notification queue transport.
type NATSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
}

// SyncConfig tunes the observers.
type SyncConfig struct {
	PollInterval   time.Duration `koanf:"poll_interval" validate:"min=1s"`
	AdapterTimeout time.Duration `koanf:"adapter_timeout" validate:"min=1s"`
	PushEnabled    bool          `koanf:"push_enabled"`
}

// StatsConfig tunes the aggregator.
type StatsConfig struct {
	Enabled         bool          `koanf:"enabled"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"min=1s"`
}

// TrustConfig tunes trust-score maintenance.
type TrustConfig struct {
	RecoveryEnabled      bool `koanf:"recovery_enabled"`
	RecoveryPointsPerDay int  `koanf:"recovery_points_per_day" validate:"min=0,max=100"`
	QuietDays            int  `koanf:"quiet_days" validate:"min=1"`
}

// LoggingConfig tunes the logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MediaServerConfig is one monitored media server.
type MediaServerConfig struct {
	Name    string `koanf:"name" validate:"required"`
	Variant string `koanf:"variant" validate:"oneof=plex jellyfin emby"`
	URL     string `koanf:"url" validate:"required,url"`
	Token   string `koanf:"token" validate:"required"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8484,
			CORSOrigins:  []string{"*"},
			RateLimitRPM: 100,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		NATS: NATSConfig{
			Enabled:  true,
			URL:      "nats://127.0.0.1:4222",
			Embedded: false,
			StoreDir: "./data/nats",
		},
		Sync: SyncConfig{
			PollInterval:   60 * time.Second,
			AdapterTimeout: 10 * time.Second,
			PushEnabled:    true,
		},
		Stats: StatsConfig{
			Enabled:         true,
			RefreshInterval: 60 * time.Second,
		},
		Trust: TrustConfig{
			RecoveryEnabled:      false,
			RecoveryPointsPerDay: 1,
			QuietDays:            7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the config file, and the
// environment, in that precedence order, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Comma-separated env values for slice keys.
	if origins := k.String("server.cors_origins"); origins != "" && strings.Contains(origins, ",") {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := k.Set("server.cors_origins", parts); err != nil {
			return nil, fmt.Errorf("set cors origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("invalid configuration: nats enabled without url")
	}
	names := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("invalid configuration: duplicate server name %q", s.Name)
		}
		names[s.Name] = struct{}{}
	}
	return nil
}

// Redact returns a copy safe for logging: secrets are masked, presence is
// still visible.
func (c *Config) Redact() Config {
	out := *c
	out.Database.URL = redactSecret(c.Database.URL)
	out.Redis.Password = redactSecret(c.Redis.Password)
	out.Servers = make([]MediaServerConfig, len(c.Servers))
	for i, s := range c.Servers {
		s.Token = redactSecret(s.Token)
		out.Servers[i] = s
	}
	return out
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envAliases map the documented shorthand variables onto config paths.
var envAliases = map[string]string{
	"HOST":          "server.host",
	"PORT":          "server.port",
	"CORS_ORIGINS":  "server.cors_origins",
	"DATABASE_URL":  "database.url",
	"REDIS_ADDR":    "redis.addr",
	"NATS_URL":      "nats.url",
	"NATS_EMBEDDED": "nats.embedded",
	"POLL_INTERVAL": "sync.poll_interval",
	"LOG_LEVEL":     "logging.level",
	"LOG_FORMAT":    "logging.format",
}

// configSections are the top-level keys an env var may address directly,
// e.g. STREAMSENTRY_SYNC_PUSH_ENABLED -> sync.push_enabled.
var configSections = []string{
	"server", "database", "redis", "nats", "sync", "stats", "trust", "logging",
}

func envTransform(key string) string {
	trimmed := strings.TrimPrefix(key, envPrefix)
	if trimmed == "CONFIG" {
		return "" // handled by findConfigFile
	}
	if path, ok := envAliases[trimmed]; ok {
		return path
	}
	lower := strings.ToLower(trimmed)
	for _, section := range configSections {
		if strings.HasPrefix(lower, section+"_") {
			return section + "." + strings.TrimPrefix(lower, section+"_")
		}
	}
	return ""
}
