// Package config provides YAML configuration loading and validation for the
// asterixd ingestion daemon.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for asterixd.
type Config struct {
	// CatalogPath is the path to the XML category-definition directory or
	// file consumed by internal/catalogxml at startup. Required.
	CatalogPath string `yaml:"catalog_path"`

	// Sources is the list of ingest sources (live UDP feeds and/or recorded
	// capture-file directories) the daemon should consume.
	Sources []SourceConfig `yaml:"sources"`

	// DSN is the PostgreSQL DSN used by internal/server/storage. Leave
	// empty to run without persistence (dev mode).
	DSN string `yaml:"dsn"`

	// RESTAddr is the listen address for the query REST API.
	RESTAddr string `yaml:"rest_addr"`

	// WebSocketAddr is the listen address for the live record broadcaster.
	// Defaults to RESTAddr when empty (same mux serves both).
	WebSocketAddr string `yaml:"websocket_addr,omitempty"`

	// QueuePath is the path to the local SQLite at-least-once uplink queue.
	QueuePath string `yaml:"queue_path"`

	// AuditPath is the path to the hash-chained diagnostics audit log.
	AuditPath string `yaml:"audit_path"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the /healthz HTTP server.
	// Defaults to "127.0.0.1:9000" when omitted.
	HealthAddr string `yaml:"health_addr"`
}

// SourceConfig describes a single ingest source.
type SourceConfig struct {
	// Name is a human-readable identifier for this source (e.g.
	// "rwy-25l-radar"). Required.
	Name string `yaml:"name"`

	// Type is one of "udp" (live multicast/unicast feed) or "dir"
	// (directory of recorded .ast capture files). Required.
	Type string `yaml:"type"`

	// Target is the source-specific target: a "host:port" (and, for
	// multicast, the group address doubles as host) for udp sources, or a
	// directory path for dir sources. Required.
	Target string `yaml:"target"`

	// CategoryFilter restricts this source to specific ASTERIX category
	// IDs. Empty means no restriction; filtering happens at render time,
	// not at ingest, per spec.md §4.K.
	CategoryFilter []int `yaml:"category_filter,omitempty"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSourceTypes = map[string]bool{
	"udp": true,
	"dir": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. On validation failure it
// returns one error that joins every failure found (errors.Join).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = "127.0.0.1:9000"
	}
	if cfg.WebSocketAddr == "" {
		cfg.WebSocketAddr = cfg.RESTAddr
	}
}

// validate checks that all required fields are populated and that enumerated
// fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.CatalogPath == "" {
		errs = append(errs, errors.New("catalog_path is required"))
	}
	if cfg.RESTAddr == "" {
		errs = append(errs, errors.New("rest_addr is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	for i, s := range cfg.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		}
		if !validSourceTypes[s.Type] {
			errs = append(errs, fmt.Errorf("%s: type %q must be one of: udp, dir", prefix, s.Type))
		}
		if s.Target == "" {
			errs = append(errs, fmt.Errorf("%s: target is required", prefix))
		}
	}

	return errors.Join(errs...)
}
