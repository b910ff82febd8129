// Package config loads and validates the agent-bridge configuration.
//
// DESIGN: Configuration comes from one YAML file with ${VAR} and
// ${VAR:-default} expansion, then environment overrides, then Validate.
// Only the record source is required; zero timeouts fall back to adapter
// defaults.
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate()
//   - monitoring.go: Logging and telemetry settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compresr/agent-bridge/internal/adapters"
	"github.com/compresr/agent-bridge/internal/records"
	"github.com/compresr/agent-bridge/internal/secrets"
)

// Config is the root configuration.
type Config struct {
	Records    RecordsConfig    `yaml:"records"`    // Where agents/models/providers are read from
	HTTP       HTTPConfig       `yaml:"http"`       // Provider call timeouts
	Secrets    SecretsConfig    `yaml:"secrets"`    // Credential fallback sources
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging and telemetry
}

// RecordsConfig selects the record source.
type RecordsConfig struct {
	Type string `yaml:"type"` // "file" (YAML) or "sqlite"
	Path string `yaml:"path"` // File or database path
}

// HTTPConfig contains provider call settings.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`        // Non-streaming calls and probes
	StreamTimeout time.Duration `yaml:"stream_timeout"` // Whole-stream bound, 0 = none
}

// SecretsConfig lists where credentials are looked up when a provider record
// has none. The process environment always takes precedence.
type SecretsConfig struct {
	EnvFiles []string `yaml:"env_files"` // dotenv files
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets the environment redirect records and logs without
// editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENT_BRIDGE_RECORDS_PATH"); v != "" {
		c.Records.Path = v
	}
	if v := os.Getenv("AGENT_BRIDGE_LOG_LEVEL"); v != "" {
		c.Monitoring.LogLevel = v
	}
	if v := os.Getenv("AGENT_BRIDGE_TELEMETRY_LOG"); v != "" {
		c.Monitoring.TelemetryPath = v
		c.Monitoring.TelemetryEnabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Records.Type {
	case "":
		return fmt.Errorf("records.type is required")
	case records.KindFile, records.KindSQLite:
	default:
		return fmt.Errorf("invalid records.type: %q (must be %q or %q)", c.Records.Type, records.KindFile, records.KindSQLite)
	}
	if c.Records.Path == "" {
		return fmt.Errorf("records.path is required")
	}

	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("invalid http.timeout: %s", c.HTTP.Timeout)
	}
	if c.HTTP.StreamTimeout < 0 {
		return fmt.Errorf("invalid http.stream_timeout: %s", c.HTTP.StreamTimeout)
	}

	return c.Monitoring.Validate()
}

// Lookup returns the credential fallback lookup: process environment, then
// the configured dotenv files in order.
func (c *Config) Lookup() secrets.LookupFunc {
	if len(c.Secrets.EnvFiles) == 0 {
		return secrets.OSEnv
	}
	return secrets.DotenvLookup(c.Secrets.EnvFiles...)
}

// AdapterDeps builds the adapter dependencies from the HTTP and secrets sections.
func (c *Config) AdapterDeps() adapters.Deps {
	return adapters.Deps{
		Lookup:        c.Lookup(),
		Timeout:       c.HTTP.Timeout,
		StreamTimeout: c.HTTP.StreamTimeout,
	}
}
