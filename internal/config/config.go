// Package config provides YAML configuration loading and validation for the
// atrace daemon.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the atrace daemon.
type Config struct {
	// RegionName is the name the engine publishes its control region under,
	// and the name the daemon attaches to (spec.md §4.1). Defaults to
	// "atrace_patches" when omitted.
	RegionName string `yaml:"region_name"`

	// RingCapacity is the number of entries in the event ring, minimum 16.
	// Defaults to 256 when omitted.
	RingCapacity uint32 `yaml:"ring_capacity"`

	// StartDisabled, when true, installs every patch with global tracing
	// disabled (spec.md §6's `install ... DISABLE`).
	StartDisabled bool `yaml:"start_disabled"`

	// Libraries lists which libraries to install patches for, e.g.
	// ["dos.library", "exec.library"]. Empty installs every library the
	// engine loader knows about.
	Libraries []string `yaml:"libraries"`

	// NoiseFunctionOverrides adds function names, beyond
	// engine.NoiseFunctions, that should be installed disabled by default.
	NoiseFunctionOverrides []string `yaml:"noise_function_overrides"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// AdminAddr is the listen address for the bearer-JWT-protected admin
	// HTTP API (STATUS/ENABLE/DISABLE/sessions). Defaults to
	// "127.0.0.1:7780" when omitted.
	AdminAddr string `yaml:"admin_addr"`

	// LiveWatchAddr is the listen address for the browser-facing WebSocket
	// trace stream. Defaults to "127.0.0.1:7781" when omitted.
	LiveWatchAddr string `yaml:"livewatch_addr"`

	// Forward configures the optional gRPC trace-forwarding client.
	Forward ForwardConfig `yaml:"forward"`

	// SessionDBPath is the path to the SQLite database recording TRACE RUN
	// session history. Defaults to "atrace_sessions.db" when omitted.
	SessionDBPath string `yaml:"session_db_path"`

	// AuditLogPath is the path to the hash-chained admin-action audit log.
	// Defaults to "atrace_audit.log" when omitted.
	AuditLogPath string `yaml:"audit_log_path"`

	// JWTSigningKey authenticates bearer tokens presented to the admin API.
	// Required whenever AdminAddr is set.
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// ForwardConfig configures the gRPC TraceForwarder client that mirrors
// filtered, formatted trace lines to an external collector.
type ForwardConfig struct {
	// Enabled turns the forwarder on. When false, the rest of this struct
	// is ignored.
	Enabled bool `yaml:"enabled"`

	// CollectorAddr is the gRPC endpoint of the external collector
	// (e.g. "collector.example.com:4443"). Required when Enabled.
	CollectorAddr string `yaml:"collector_addr"`

	// TLS holds the paths to the client certificate, private key, and CA
	// certificate used for mTLS. Required when Enabled.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig holds certificate and key paths for mTLS.
type TLSConfig struct {
	// CertPath is the path to the PEM-encoded client certificate. Required.
	CertPath string `yaml:"cert_path"`

	// KeyPath is the path to the PEM-encoded private key. Required.
	KeyPath string `yaml:"key_path"`

	// CAPath is the path to the PEM-encoded CA certificate used to verify
	// the peer's certificate. Required.
	CAPath string `yaml:"ca_path"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing the first validation failure encountered.
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
	if cfg.RegionName == "" {
		cfg.RegionName = "atrace_patches"
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 256
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = "127.0.0.1:7780"
	}
	if cfg.LiveWatchAddr == "" {
		cfg.LiveWatchAddr = "127.0.0.1:7781"
	}
	if cfg.SessionDBPath == "" {
		cfg.SessionDBPath = "atrace_sessions.db"
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = "atrace_audit.log"
	}
}

// validate checks that all required fields are populated and that enumerated
// fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.RingCapacity < 16 {
		errs = append(errs, fmt.Errorf("ring_capacity %d must be at least 16", cfg.RingCapacity))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.JWTSigningKey == "" {
		errs = append(errs, errors.New("jwt_signing_key is required: the admin API always requires bearer-JWT authentication"))
	}

	if cfg.Forward.Enabled {
		if cfg.Forward.CollectorAddr == "" {
			errs = append(errs, errors.New("forward.collector_addr is required when forward.enabled is true"))
		}
		if cfg.Forward.TLS.CertPath == "" {
			errs = append(errs, errors.New("forward.tls.cert_path is required when forward.enabled is true"))
		}
		if cfg.Forward.TLS.KeyPath == "" {
			errs = append(errs, errors.New("forward.tls.key_path is required when forward.enabled is true"))
		}
		if cfg.Forward.TLS.CAPath == "" {
			errs = append(errs, errors.New("forward.tls.ca_path is required when forward.enabled is true"))
		}
	}

	return errors.Join(errs...)
}
