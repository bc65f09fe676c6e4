// ABOUTME: Configuration loading and parsing for concord-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete concord-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Registry  RegistryConfig  `yaml:"registry"`
	Collab    CollabConfig    `yaml:"collab"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RegistryConfig holds agent registry timing configuration
type RegistryConfig struct {
	HeartbeatExpiry time.Duration `yaml:"-"`
	SweepInterval   time.Duration `yaml:"-"`
	SweepGrace      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatExpiryRaw string `yaml:"heartbeat_expiry"`
	SweepIntervalRaw   string `yaml:"sweep_interval"`
	SweepGraceRaw      string `yaml:"sweep_grace"`
}

// CollabConfig holds collaboration pipeline timing configuration
type CollabConfig struct {
	SelectorTimeout time.Duration `yaml:"-"`
	RequestDeadline time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SelectorTimeoutRaw string `yaml:"selector_timeout"`
	RequestDeadlineRaw string `yaml:"request_deadline"`
}

// TelemetryConfig holds the outcome-event sink configuration
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Buffer   int    `yaml:"buffer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"registry.heartbeat_expiry", cfg.Registry.HeartbeatExpiryRaw, &cfg.Registry.HeartbeatExpiry},
		{"registry.sweep_interval", cfg.Registry.SweepIntervalRaw, &cfg.Registry.SweepInterval},
		{"registry.sweep_grace", cfg.Registry.SweepGraceRaw, &cfg.Registry.SweepGrace},
		{"collab.selector_timeout", cfg.Collab.SelectorTimeoutRaw, &cfg.Collab.SelectorTimeout},
		{"collab.request_deadline", cfg.Collab.RequestDeadlineRaw, &cfg.Collab.RequestDeadline},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
