// Package config provides configuration management for the POP3 server.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// ListenerMode defines the TLS discipline of a listener (spec §6).
type ListenerMode string

const (
	// ModeNone is cleartext POP3. The connection handler does not tell it
	// apart from ModeSTLS: when a TLS configuration is loaded, STLS is
	// offered on a ModeNone listener too.
	ModeNone ListenerMode = "none"
	// ModePop3s is implicit TLS, normally bound to port 995.
	ModePop3s ListenerMode = "implicit"
	// ModeSTLS is cleartext POP3 on accept, with STLS available to upgrade
	// the connection in place (RFC 2595).
	ModeSTLS ListenerMode = "stls"
)

// FileConfig is the top-level wrapper for the shared configuration file.
// This allows smtpd, pop3d, and msgstore to share a single config file.
type FileConfig struct {
	Server ServerConfig `toml:"server"`
	Pop3d  Config       `toml:"pop3d"`
}

// ServerConfig holds shared settings used by all mail services.
type ServerConfig struct {
	Hostname        string    `toml:"hostname"`
	Maildir         string    `toml:"maildir"`
	DomainsPath     string    `toml:"domains_path"`
	DomainsDataPath string    `toml:"domains_data_path"`
	TLS             TLSConfig `toml:"tls"`
}

// Config holds the POP3-specific server configuration.
type Config struct {
	Hostname  string           `toml:"hostname"`
	LogLevel  string           `toml:"log_level"`
	Listeners []ListenerConfig `toml:"listeners"`
	TLS       TLSConfig        `toml:"tls"`
	Timeouts  TimeoutsConfig   `toml:"timeouts"`
	Limits    LimitsConfig     `toml:"limits"`
	Metrics   MetricsConfig    `toml:"metrics"`
	Auth      AuthConfig       `toml:"auth"`
	Maildir   string           `toml:"maildir"`

	DomainsPath     string `toml:"domains_path"`
	DomainsDataPath string `toml:"domains_data_path"`

	// AllowReadOnlyMode enables the X-POP3SF-READ-ONLY extension (XPRO
	// command, CAPA advertisement, read-only mailbox locking alongside other
	// read-only holders; never alongside an exclusive holder).
	AllowReadOnlyMode bool `toml:"allow_read_only_mode"`

	// AllowPlaintextAuthWithoutTLS permits USER/PASS and AUTH PLAIN before
	// STLS or on a cleartext listener. Default false (spec §4.3, §8).
	AllowPlaintextAuthWithoutTLS bool `toml:"allow_plaintext_auth_without_tls"`

	// AuthDelayCurve is the per-remote-IP exponential backoff schedule
	// applied after authentication failures (component C5), given as
	// duration strings ("0s", "1s", "2s", ...). Empty uses the engine
	// default curve.
	AuthDelayCurve []string `toml:"auth_delay_curve"`

	// SerializeAdapterCalls is read from the config file and merged by
	// Load. Nothing outside this package reads it: adapter calls are not
	// serialized, whatever its value.
	SerializeAdapterCalls bool `toml:"serialize_adapter_calls"`
}

// ListenerConfig defines settings for a single listener.
type ListenerConfig struct {
	Address string       `toml:"address"`
	Mode    ListenerMode `toml:"mode"`
}

// TLSConfig holds TLS certificate and version settings.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
}

// TimeoutsConfig defines timeout durations.
type TimeoutsConfig struct {
	Connection string `toml:"connection"`
	Command    string `toml:"command"`
	Idle       string `toml:"idle"`
}

// LimitsConfig defines resource limits for the server.
type LimitsConfig struct {
	MaxConnections int `toml:"max_connections"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// AuthConfig selects and configures the authentication backend bridged by
// internal/mailadapter (component C3).
type AuthConfig struct {
	// Type selects the adapter implementation: "infodancer" wraps
	// github.com/infodancer/auth + github.com/infodancer/msgstore;
	// "passwdfile" uses the self-contained bcrypt passwd-file adapter.
	Type string `toml:"type"`

	CredentialBackend string            `toml:"credential_backend"`
	KeyBackend        string            `toml:"key_backend"`
	Options           map[string]string `toml:"options"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Hostname: "localhost",
		LogLevel: "info",
		Listeners: []ListenerConfig{
			{Address: ":110", Mode: ModeSTLS},
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Timeouts: TimeoutsConfig{
			Connection: "10m",
			Command:    "1m",
			Idle:       "30m",
		},
		Limits: LimitsConfig{
			MaxConnections: 100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
		Auth: AuthConfig{
			Type: "infodancer",
		},
		AllowReadOnlyMode:            false,
		AllowPlaintextAuthWithoutTLS: false,
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}

	for i, l := range c.Listeners {
		if l.Address == "" {
			return fmt.Errorf("listener %d: address is required", i)
		}
		if !isValidMode(l.Mode) {
			return fmt.Errorf("listener %d: invalid mode %q", i, l.Mode)
		}
	}

	if c.Limits.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}

	if c.Timeouts.Connection != "" {
		if _, err := time.ParseDuration(c.Timeouts.Connection); err != nil {
			return fmt.Errorf("invalid connection timeout: %w", err)
		}
	}

	if c.Timeouts.Command != "" {
		if _, err := time.ParseDuration(c.Timeouts.Command); err != nil {
			return fmt.Errorf("invalid command timeout: %w", err)
		}
	}

	if c.Timeouts.Idle != "" {
		if _, err := time.ParseDuration(c.Timeouts.Idle); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}

	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	for i, s := range c.AuthDelayCurve {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("auth_delay_curve[%d]: %w", i, err)
		}
	}

	switch c.Auth.Type {
	case "", "infodancer", "passwdfile":
	default:
		return fmt.Errorf("invalid auth type %q (valid: infodancer, passwdfile)", c.Auth.Type)
	}

	return nil
}

// ParsedAuthDelayCurve returns AuthDelayCurve parsed into durations, or nil
// if unset so the caller can substitute its own default.
func (c *Config) ParsedAuthDelayCurve() ([]time.Duration, error) {
	if len(c.AuthDelayCurve) == 0 {
		return nil, nil
	}
	out := make([]time.Duration, len(c.AuthDelayCurve))
	for i, s := range c.AuthDelayCurve {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("auth_delay_curve[%d]: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum TLS version.
// Returns tls.VersionTLS12 if not configured or invalid.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// ConnectionTimeout returns the connection timeout as a time.Duration.
// Returns 10 minutes if not configured or invalid.
func (c *TimeoutsConfig) ConnectionTimeout() time.Duration {
	if c.Connection == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.Connection)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// CommandTimeout returns the command timeout as a time.Duration.
// Returns 1 minute if not configured or invalid.
func (c *TimeoutsConfig) CommandTimeout() time.Duration {
	if c.Command == "" {
		return 1 * time.Minute
	}
	d, err := time.ParseDuration(c.Command)
	if err != nil {
		return 1 * time.Minute
	}
	return d
}

// IdleTimeout returns the idle timeout as a time.Duration.
// Returns 30 minutes if not configured or invalid.
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	if c.Idle == "" {
		return 30 * time.Minute
	}
	d, err := time.ParseDuration(c.Idle)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

func isValidMode(m ListenerMode) bool {
	switch m {
	case ModeNone, ModePop3s, ModeSTLS:
		return true
	default:
		return false
	}
}
