// Package config provides configuration loading for the station board.
//
// Values are layered: defaults, then an optional YAML file, then STATIONBOARD_* environment variables.
// Command-line flags are applied by the caller on top.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benjaminclauss/stationboard/registry"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the board reads.
const EnvPrefix = "STATIONBOARD_"

// Config represents the complete station board configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Stations  []string        `yaml:"stations" env:"STATIONS" envSeparator:","`
	Registry  RegistryConfig  `yaml:"registry"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

// HTTPConfig configures the request surface
type HTTPConfig struct {
	// Addr is the listen address (default: ":10000")
	Addr string `yaml:"addr" env:"HTTP_ADDR"`
	// ReadHeaderTimeout limits how long the server waits for request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	// ShutdownTimeout limits how long in-flight requests may run during shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RegistryConfig configures the vehicle rules
type RegistryConfig struct {
	// GracePeriod is how long a vehicle may stay active before a transfer is penalized
	GracePeriod time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`
	// RegisterBlock names the statuses that block re-registration (stationary, parked, none)
	RegisterBlock string `yaml:"register_block" env:"REGISTER_BLOCK"`
	// TransferBlock names the statuses that block an explicit transfer (stationary, parked, none)
	TransferBlock string `yaml:"transfer_block" env:"TRANSFER_BLOCK"`
}

// BroadcastConfig configures WebSocket subscribers
type BroadcastConfig struct {
	// Buffer is the per-subscriber frame queue length
	Buffer int `yaml:"buffer" env:"BROADCAST_BUFFER"`
	// Heartbeat is the interval between heartbeat frames (0 disables them)
	Heartbeat time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
}

// NATSConfig configures the optional NATS snapshot feed
type NATSConfig struct {
	// URL is the NATS server URL (empty = no NATS feed)
	URL string `yaml:"url" env:"NATS_URL"`
	// Subject receives every snapshot
	Subject string `yaml:"subject" env:"NATS_SUBJECT"`
}

// LogConfig configures structured logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" env:"LOG_LEVEL"`
	// Format is text or json
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns a Config with the board's production defaults
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              ":10000",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Stations: append([]string(nil), registry.DefaultStations...),
		Registry: RegistryConfig{
			GracePeriod:   registry.DefaultGracePeriod,
			RegisterBlock: string(registry.DefaultRegisterBlock),
			TransferBlock: string(registry.DefaultTransferBlock),
		},
		Broadcast: BroadcastConfig{
			Buffer: 16,
		},
		NATS: NATSConfig{
			Subject: "stations.update",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration from defaults, the YAML file at path (if any) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	slog.Debug("loaded config file", slog.String("path", path))
	return nil
}

// ApplyEnv overrides fields whose STATIONBOARD_* variable is set.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	for i, s := range c.Stations {
		c.Stations[i] = strings.TrimSpace(s)
	}
	return nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("http.read_header_timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be positive")
	}

	if len(c.Stations) == 0 {
		return fmt.Errorf("at least one station is required")
	}
	seen := make(map[string]bool, len(c.Stations))
	for _, s := range c.Stations {
		if s == "" {
			return fmt.Errorf("station names must not be empty")
		}
		if seen[s] {
			return fmt.Errorf("duplicate station %q", s)
		}
		seen[s] = true
	}

	if c.Registry.GracePeriod <= 0 {
		return fmt.Errorf("registry.grace_period must be positive")
	}
	if _, err := registry.ParseBlockPolicy(c.Registry.RegisterBlock); err != nil {
		return fmt.Errorf("registry.register_block: %w", err)
	}
	if _, err := registry.ParseBlockPolicy(c.Registry.TransferBlock); err != nil {
		return fmt.Errorf("registry.transfer_block: %w", err)
	}

	if c.Broadcast.Buffer <= 0 {
		return fmt.Errorf("broadcast.buffer must be positive")
	}
	if c.Broadcast.Heartbeat < 0 {
		return fmt.Errorf("broadcast.heartbeat must not be negative")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// RegistryOptions translates the configuration into registry options.
func (c *Config) RegistryOptions() registry.Options {
	return registry.Options{
		Stations:      append([]string(nil), c.Stations...),
		Grace:         c.Registry.GracePeriod,
		RegisterBlock: registry.BlockPolicy(c.Registry.RegisterBlock),
		TransferBlock: registry.BlockPolicy(c.Registry.TransferBlock),
	}
}

// ParseLevel resolves a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
