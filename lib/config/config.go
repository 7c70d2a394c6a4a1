// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the Porthole relay.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Listen configures network addresses.
	Listen ListenConfig `yaml:"listen"`

	// Relay configures the relay core's policy constants.
	Relay RelayConfig `yaml:"relay"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Listen *ListenConfig `yaml:"listen,omitempty"`
	Relay  *RelayConfig  `yaml:"relay,omitempty"`
}

// ListenConfig configures network addresses.
type ListenConfig struct {
	// Relay is the address the WebSocket relay endpoint binds to.
	// Default: :8787
	Relay string `yaml:"relay"`

	// Metrics is the address the Prometheus metrics and health
	// endpoints bind to. Empty disables the metrics server.
	// Default: :9090
	Metrics string `yaml:"metrics"`

	// CertFile and KeyFile enable TLS on the relay endpoint when both
	// are set. TLS termination is otherwise expected to happen in
	// front of the relay.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RelayConfig configures the relay core's policy constants. The wire
// protocol fixes none of these; they bound resource use per connection
// and per stream.
type RelayConfig struct {
	// HistoryBudgetBytes is the per-stream replay history budget in
	// bytes. A reconnecting client whose last-known offset has been
	// evicted receives a replay-gap signal instead of full replay.
	// Default: 1 MiB.
	HistoryBudgetBytes int `yaml:"history_budget_bytes"`

	// AttachGracePeriod is how long a session may exist without a
	// server connection before it is reaped. Parsed with
	// time.ParseDuration. Default: 30s.
	AttachGracePeriod string `yaml:"attach_grace_period"`

	// OutboundQueueLength is the bounded per-connection outbound
	// queue, in messages. A connection whose queue overflows is
	// closed rather than allowed to stall the session. Default: 256.
	OutboundQueueLength int `yaml:"outbound_queue_length"`

	// ReadLimitBytes caps the size of a single inbound WebSocket
	// message. Default: 16 MiB (generous for terminal data).
	ReadLimitBytes int64 `yaml:"read_limit_bytes"`

	// WriteTimeout bounds a single outbound WebSocket write. Parsed
	// with time.ParseDuration. Default: 10s.
	WriteTimeout string `yaml:"write_timeout"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; the daemon can also run on
// them directly when no config file is given.
func Default() *Config {
	return &Config{
		Environment: Development,
		Listen: ListenConfig{
			Relay:   ":8787",
			Metrics: ":9090",
		},
		Relay: RelayConfig{
			HistoryBudgetBytes:  1024 * 1024,
			AttachGracePeriod:   "30s",
			OutboundQueueLength: 256,
			ReadLimitBytes:      16 * 1024 * 1024,
			WriteTimeout:        "10s",
		},
	}
}

// Load loads configuration from the PORTHOLE_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or automatic discovery — if PORTHOLE_CONFIG
// is not set, this fails. This ensures deterministic, auditable
// configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("PORTHOLE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PORTHOLE_CONFIG environment variable not set; " +
			"set it to the path of your porthole.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${VAR} and ${VAR:-default} in the path-valued fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Listen != nil {
		if overrides.Listen.Relay != "" {
			c.Listen.Relay = overrides.Listen.Relay
		}
		if overrides.Listen.Metrics != "" {
			c.Listen.Metrics = overrides.Listen.Metrics
		}
		if overrides.Listen.CertFile != "" {
			c.Listen.CertFile = overrides.Listen.CertFile
		}
		if overrides.Listen.KeyFile != "" {
			c.Listen.KeyFile = overrides.Listen.KeyFile
		}
	}

	if overrides.Relay != nil {
		if overrides.Relay.HistoryBudgetBytes != 0 {
			c.Relay.HistoryBudgetBytes = overrides.Relay.HistoryBudgetBytes
		}
		if overrides.Relay.AttachGracePeriod != "" {
			c.Relay.AttachGracePeriod = overrides.Relay.AttachGracePeriod
		}
		if overrides.Relay.OutboundQueueLength != 0 {
			c.Relay.OutboundQueueLength = overrides.Relay.OutboundQueueLength
		}
		if overrides.Relay.ReadLimitBytes != 0 {
			c.Relay.ReadLimitBytes = overrides.Relay.ReadLimitBytes
		}
		if overrides.Relay.WriteTimeout != "" {
			c.Relay.WriteTimeout = overrides.Relay.WriteTimeout
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path-valued fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Listen.CertFile = expandVars(c.Listen.CertFile, vars)
	c.Listen.KeyFile = expandVars(c.Listen.KeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// GracePeriod returns the parsed attach grace period.
func (c *Config) GracePeriod() (time.Duration, error) {
	d, err := time.ParseDuration(c.Relay.AttachGracePeriod)
	if err != nil {
		return 0, fmt.Errorf("relay.attach_grace_period: %w", err)
	}
	return d, nil
}

// WriteTimeout returns the parsed outbound write timeout.
func (c *Config) WriteTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Relay.WriteTimeout)
	if err != nil {
		return 0, fmt.Errorf("relay.write_timeout: %w", err)
	}
	return d, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Listen.Relay == "" {
		errs = append(errs, fmt.Errorf("listen.relay is required"))
	}
	if (c.Listen.CertFile == "") != (c.Listen.KeyFile == "") {
		errs = append(errs, fmt.Errorf("listen.cert_file and listen.key_file must be set together"))
	}
	if c.Relay.HistoryBudgetBytes <= 0 {
		errs = append(errs, fmt.Errorf("relay.history_budget_bytes must be positive"))
	}
	if c.Relay.OutboundQueueLength <= 0 {
		errs = append(errs, fmt.Errorf("relay.outbound_queue_length must be positive"))
	}
	if c.Relay.ReadLimitBytes <= 0 {
		errs = append(errs, fmt.Errorf("relay.read_limit_bytes must be positive"))
	}
	if _, err := c.GracePeriod(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.WriteTimeout(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
