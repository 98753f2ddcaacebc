// Package config loads the adapter configuration from a YAML file with
// environment variable overrides. All settings are explicit; nothing is read
// from global state at operation time.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full adapter configuration.
type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// RemoteConfig addresses the image database server and its credentials.
type RemoteConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Secure   bool   `mapstructure:"secure"`
	Timeout  string `mapstructure:"timeout"` // e.g. "30s"; empty uses the client default
}

// WorkspaceConfig selects the staging area driver.
type WorkspaceConfig struct {
	Driver string `mapstructure:"driver"` // fs | s3 | memory
	Root   string `mapstructure:"root"`   // fs root directory
	Bucket string `mapstructure:"bucket"` // s3 bucket
	Prefix string `mapstructure:"prefix"` // s3 key prefix
}

// MirrorConfig selects the local metadata mirror backend.
type MirrorConfig struct {
	Type string `mapstructure:"type"` // none | memory | sqlite | postgres
	Path string `mapstructure:"path"` // sqlite database file
	DSN  string `mapstructure:"dsn"`  // postgres connection string
}

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Exporter  string `mapstructure:"exporter"` // none | expvar | prometheus
	Namespace string `mapstructure:"namespace"`
}

// Load reads the configuration file at path. Environment variables prefixed
// with BIOIMAGEIT override file values (BIOIMAGEIT_REMOTE_HOST overrides
// remote.host).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BIOIMAGEIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("remote.port", 4064)
	v.SetDefault("remote.secure", true)
	v.SetDefault("workspace.driver", "fs")
	v.SetDefault("workspace.root", ".bioimageit")
	v.SetDefault("mirror.type", "none")
	v.SetDefault("metrics.exporter", "none")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the adapter cannot act on.
func (c *Config) Validate() error {
	if c.Remote.Host == "" {
		return fmt.Errorf("remote.host is required")
	}
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return fmt.Errorf("remote.port %d out of range", c.Remote.Port)
	}
	if c.Remote.Timeout != "" {
		if _, err := time.ParseDuration(c.Remote.Timeout); err != nil {
			return fmt.Errorf("remote.timeout: %w", err)
		}
	}
	switch c.Workspace.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("workspace.driver %q unknown", c.Workspace.Driver)
	}
	if c.Workspace.Driver == "s3" && c.Workspace.Bucket == "" {
		return fmt.Errorf("workspace.bucket is required for the s3 driver")
	}
	switch c.Mirror.Type {
	case "", "none", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("mirror.type %q unknown", c.Mirror.Type)
	}
	switch c.Metrics.Exporter {
	case "", "none", "expvar", "prometheus":
	default:
		return fmt.Errorf("metrics.exporter %q unknown", c.Metrics.Exporter)
	}
	return nil
}

// RemoteTimeout returns the parsed remote timeout, or zero when unset.
func (c *Config) RemoteTimeout() time.Duration {
	if c.Remote.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil {
		return 0
	}
	return d
}
