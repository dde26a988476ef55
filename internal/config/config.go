// Package config provides configuration types, defaults, and persistence for tessera.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/tracing"
)

// Config holds all application configuration.
type Config struct {
	Definitions string          `mapstructure:"definitions"` // path to the definitions/tree YAML file
	Lifecycle   LifecycleConfig `mapstructure:"lifecycle"`
	Selector    SelectorConfig  `mapstructure:"selector"`
	Tracing     tracing.Config  `mapstructure:"tracing"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Watch       WatchConfig     `mapstructure:"watch"`
	Debug       bool            `mapstructure:"debug"`
	LogFile     string          `mapstructure:"log_file"`
	LogLevel    string          `mapstructure:"log_level"` // debug, info (default), warn, error
}

// LifecycleConfig controls hook execution and mount parallelism.
type LifecycleConfig struct {
	// HookTimeout bounds every hook call. Zero means no timeout.
	HookTimeout time.Duration `mapstructure:"hook_timeout"`
	// Concurrency is how many sibling subtrees mount at once. 1 keeps
	// declared order.
	Concurrency int `mapstructure:"concurrency"`
}

// SelectorConfig controls the ref binding cache.
type SelectorConfig struct {
	// CacheTTL expires ref bindings. Zero keeps them until invalidated.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// MetricsConfig controls Prometheus collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Addr is where `tessera watch` serves /metrics.
	Addr string `mapstructure:"addr"`
}

// WatchConfig controls hot reload of the definitions file.
type WatchConfig struct {
	// Debounce coalesces bursts of file events.
	Debounce time.Duration `mapstructure:"debounce"`
}

// DefaultTracesFilePath returns ~/.config/tessera/traces/traces.jsonl, or
// an empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tessera", "traces", "traces.jsonl")
}

// Defaults returns the default configuration.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Definitions: "tessera.yaml",
		Lifecycle: LifecycleConfig{
			HookTimeout: 0,
			Concurrency: 1,
		},
		Selector: SelectorConfig{CacheTTL: 0},
		Tracing:  tc,
		Metrics:  MetricsConfig{Addr: "localhost:9464"},
		Watch:    WatchConfig{Debounce: 100 * time.Millisecond},
		LogLevel: "info",
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Lifecycle.Concurrency < 1 {
		return fmt.Errorf("lifecycle.concurrency must be at least 1, got %d", c.Lifecycle.Concurrency)
	}
	if c.Lifecycle.HookTimeout < 0 {
		return fmt.Errorf("lifecycle.hook_timeout cannot be negative, got %s", c.Lifecycle.HookTimeout)
	}
	if c.Selector.CacheTTL < 0 {
		return fmt.Errorf("selector.cache_ttl cannot be negative, got %s", c.Selector.CacheTTL)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce cannot be negative, got %s", c.Watch.Debounce)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Tessera Configuration

# Component definitions and desired tree (YAML with components: and tree:)
definitions: tessera.yaml

lifecycle:
  # Fail hooks that run longer than this (e.g. 5s). 0 disables the timeout.
  hook_timeout: 0s
  # Sibling subtrees mounted in parallel. 1 mounts in declared order.
  concurrency: 1

selector:
  # Expire cached ref bindings. 0 keeps them until the tree changes.
  cache_ttl: 0s

metrics:
  enabled: false
  # Served by "tessera watch" when enabled
  addr: localhost:9464

watch:
  # Coalesce bursts of file events before reloading definitions
  debounce: 100ms

# log_level: info
# log_file: debug.log

# Tracing (OpenTelemetry)
# tracing:
#   enabled: true
#   exporter: file          # none, file, stdout, otlp
#   file_path: ~/.config/tessera/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
