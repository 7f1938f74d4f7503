package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Catalog  CatalogConfig  `koanf:"catalog"`
	Refresh  RefreshConfig  `koanf:"refresh"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`

	// InternalRole, when set, owns the objects created for continuous
	// aggregates. Empty means objects are owned by the connecting user.
	InternalRole string `koanf:"internal_role"`
}

type CatalogConfig struct {
	// DefsDir holds optional YAML files declaring extra splittable
	// aggregates beyond the built-in set. A missing directory is fine.
	DefsDir string `koanf:"defs_dir"`
}

type RefreshConfig struct {
	Enabled      bool   `koanf:"enabled"`
	TickInterval string `koanf:"tick_interval"` // parsed and validated on startup
	WorkerCount  int    `koanf:"worker_count"`
}

func (c RefreshConfig) ParsedTickInterval() (time.Duration, error) {
	return time.ParseDuration(c.TickInterval)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	interval, err := c.Refresh.ParsedTickInterval()
	if err != nil {
		return fmt.Errorf("invalid refresh.tick_interval %q: %w", c.Refresh.TickInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("refresh.tick_interval must be > 0")
	}
	if c.Refresh.WorkerCount <= 0 {
		return fmt.Errorf("refresh.worker_count must be > 0")
	}

	return nil
}

// Load parses config from file + env and validates it. Environment
// variables use the TIMEBASE_ prefix with __ as the nesting separator,
// e.g. TIMEBASE_DATABASE__DSN.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.type":           "postgres",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"database.internal_role":  "",
		"catalog.defs_dir":        "./config/aggregates",
		"refresh.enabled":         true,
		"refresh.tick_interval":   "1m",
		"refresh.worker_count":    4,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TIMEBASE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TIMEBASE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
