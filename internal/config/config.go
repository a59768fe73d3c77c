// Package config loads sshkeeper settings from YAML with SSHKEEPER_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/acolita/sshkeeper/internal/security"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SSHKEEPER_LOG_LEVEL.
const EnvPrefix = "SSHKEEPER"

// Defaults applied by DefaultConfig and Validate.
const (
	DefaultReconnectAttempts   = 5
	DefaultBackoffFactor       = 2.0
	DefaultInitialDelay        = time.Second
	DefaultMaxDelay            = 60 * time.Second
	DefaultReconnectTimeout    = 30 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultHealthCheckCommand  = "echo ping"
	DefaultMaxAuthFailures     = 3
	DefaultAuthLockoutDuration = 5 * time.Minute
)

// State drivers.
const (
	StateDriverFile   = "file"
	StateDriverSQLite = "sqlite"
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/sshkeeper/config.yaml or
// ~/.config/sshkeeper/config.yaml.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sshkeeper", "config.yaml")
}

// Config represents the top-level configuration.
//
// Leaf fields use split_words rather than envconfig tags: a tag would also
// match the unprefixed variable (PATH, TIMEOUT).
type Config struct {
	Servers     []ServerConfig    `yaml:"servers" ignored:"true"`
	Reconnect   ReconnectConfig   `yaml:"reconnect" envconfig:"RECONNECT"`
	HealthCheck HealthCheckConfig `yaml:"health_check" envconfig:"HEALTH_CHECK"`
	State       StateConfig       `yaml:"state" envconfig:"STATE"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOG"`
	Security    SecurityConfig    `yaml:"security" envconfig:"SECURITY"`
}

// ServerConfig is a named connection profile.
type ServerConfig struct {
	Name           string           `yaml:"name"`
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port,omitempty"`
	User           string           `yaml:"user"`
	Auth           AuthConfig       `yaml:"auth"`
	ConnectTimeout time.Duration    `yaml:"connect_timeout,omitempty"`
	Reconnect      *ServerReconnect `yaml:"reconnect,omitempty"`
}

// AuthConfig defines authentication settings. Secrets are never stored in
// the file; they come from the named environment variables or the keyring.
type AuthConfig struct {
	Type          string `yaml:"type"`                     // "key", "password" or "agent"
	Path          string `yaml:"path,omitempty"`           // private key file
	PassphraseEnv string `yaml:"passphrase_env,omitempty"` // env var holding the key passphrase
	PasswordEnv   string `yaml:"password_env,omitempty"`   // env var holding the SSH password
}

// ServerReconnect overrides the global reconnection settings for one profile.
type ServerReconnect struct {
	MaxAttempts   int           `yaml:"max_attempts,omitempty"`
	BackoffFactor float64       `yaml:"backoff_factor,omitempty"`
	InitialDelay  time.Duration `yaml:"initial_delay,omitempty"`
	MaxDelay      time.Duration `yaml:"max_delay,omitempty"`
}

// ReconnectConfig holds the default reconnection policy.
type ReconnectConfig struct {
	Attempts      int           `yaml:"attempts"`
	BackoffFactor float64       `yaml:"backoff_factor" split_words:"true"`
	InitialDelay  time.Duration `yaml:"initial_delay" split_words:"true"`
	MaxDelay      time.Duration `yaml:"max_delay" split_words:"true"`
	Timeout       time.Duration `yaml:"timeout"`
}

// HealthCheckConfig controls the periodic liveness probe.
type HealthCheckConfig struct {
	Interval time.Duration `yaml:"interval"`
	Command  string        `yaml:"command"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StateConfig selects where connection snapshots are kept.
type StateConfig struct {
	Driver string `yaml:"driver"` // "file" or "sqlite"
	Path   string `yaml:"path"`   // empty means the driver default
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // redact secrets in log attributes
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	UseKeyring          bool          `yaml:"use_keyring" split_words:"true"`
	CommandBlocklist    []string      `yaml:"command_blocklist" split_words:"true"`
	CommandAllowlist    []string      `yaml:"command_allowlist" split_words:"true"`
	MaxAuthFailures     int           `yaml:"max_auth_failures" split_words:"true"`
	AuthLockoutDuration time.Duration `yaml:"auth_lockout_duration" split_words:"true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Reconnect: ReconnectConfig{
			Attempts:      DefaultReconnectAttempts,
			BackoffFactor: DefaultBackoffFactor,
			InitialDelay:  DefaultInitialDelay,
			MaxDelay:      DefaultMaxDelay,
			Timeout:       DefaultReconnectTimeout,
		},
		HealthCheck: HealthCheckConfig{
			Interval: DefaultHealthCheckInterval,
			Command:  DefaultHealthCheckCommand,
			Timeout:  DefaultHealthCheckTimeout,
		},
		State: StateConfig{Driver: StateDriverFile},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Security: SecurityConfig{
			CommandBlocklist:    security.DefaultBlocklist(),
			MaxAuthFailures:     DefaultMaxAuthFailures,
			AuthLockoutDuration: DefaultAuthLockoutDuration,
		},
	}
}

// Load reads the YAML file at path, then applies SSHKEEPER_* environment
// overrides. A missing file yields the defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg, err := loadFileOnly(path, fsys...)
	if err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	return cfg, nil
}

// loadFileOnly is Load without environment overrides, for rewriting the file.
func loadFileOnly(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate normalises unset or out-of-range values to their defaults and
// rejects settings that cannot work.
func (c *Config) Validate() error {
	if c.Reconnect.Attempts <= 0 {
		c.Reconnect.Attempts = DefaultReconnectAttempts
	}
	if c.Reconnect.BackoffFactor <= 0 {
		c.Reconnect.BackoffFactor = DefaultBackoffFactor
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect.InitialDelay = DefaultInitialDelay
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Reconnect.Timeout <= 0 {
		c.Reconnect.Timeout = DefaultReconnectTimeout
	}
	if c.HealthCheck.Interval <= 0 {
		c.HealthCheck.Interval = DefaultHealthCheckInterval
	}
	if c.HealthCheck.Timeout <= 0 {
		c.HealthCheck.Timeout = DefaultHealthCheckTimeout
	}
	if strings.TrimSpace(c.HealthCheck.Command) == "" {
		c.HealthCheck.Command = DefaultHealthCheckCommand
	}
	if c.Security.MaxAuthFailures <= 0 {
		c.Security.MaxAuthFailures = DefaultMaxAuthFailures
	}
	if c.Security.AuthLockoutDuration <= 0 {
		c.Security.AuthLockoutDuration = DefaultAuthLockoutDuration
	}

	c.State.Driver = strings.ToLower(c.State.Driver)
	switch c.State.Driver {
	case "":
		c.State.Driver = StateDriverFile
	case StateDriverFile, StateDriverSQLite:
	default:
		return fmt.Errorf("unknown state driver %q", c.State.Driver)
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server %s has no name", s.Host)
		}
		if seen[s.Name] {
			return fmt.Errorf("server %q defined twice", s.Name)
		}
		seen[s.Name] = true
		switch s.Auth.Type {
		case "", string(connection.AuthKey), string(connection.AuthPassword), string(connection.AuthAgent):
		default:
			return fmt.Errorf("server %q: unknown auth type %q", s.Name, s.Auth.Type)
		}
	}
	return nil
}

// ReconnectAttempts implements ports.ReconnectSettings.
func (c *Config) ReconnectAttempts() int { return c.Reconnect.Attempts }

// ReconnectBackoffFactor implements ports.ReconnectSettings.
func (c *Config) ReconnectBackoffFactor() float64 { return c.Reconnect.BackoffFactor }

// ReconnectInitialDelay implements ports.ReconnectSettings.
func (c *Config) ReconnectInitialDelay() time.Duration { return c.Reconnect.InitialDelay }

// ReconnectMaxDelay implements ports.ReconnectSettings.
func (c *Config) ReconnectMaxDelay() time.Duration { return c.Reconnect.MaxDelay }

var _ ports.ReconnectSettings = (*Config)(nil)

// Server returns the profile called name.
func (c *Config) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// ConnectionConfig builds the connection.Config for profile name. Secrets
// are left empty for a SecretResolver to fill in.
func (c *Config) ConnectionConfig(name string) (connection.Config, error) {
	s, ok := c.Server(name)
	if !ok {
		return connection.Config{}, fmt.Errorf("unknown server %q", name)
	}
	return s.ConnectionConfig(), nil
}

// ConnectionConfig converts the profile without resolving secrets. An empty
// auth type means key auth when a key path is set, agent otherwise.
func (s ServerConfig) ConnectionConfig() connection.Config {
	method := connection.AuthMethod(s.Auth.Type)
	if method == "" {
		method = connection.AuthAgent
		if s.Auth.Path != "" {
			method = connection.AuthKey
		}
	}
	cfg := connection.Config{
		Name:           s.Name,
		Host:           s.Host,
		Port:           s.Port,
		Username:       s.User,
		AuthMethod:     method,
		KeyPath:        s.Auth.Path,
		ConnectTimeout: s.ConnectTimeout,
	}
	if r := s.Reconnect; r != nil {
		cfg.MaxReconnectAttempts = r.MaxAttempts
		cfg.ReconnectBackoffFactor = r.BackoffFactor
		cfg.ReconnectInitialDelay = r.InitialDelay
		cfg.ReconnectMaxDelay = r.MaxDelay
	}
	return cfg
}

// AddServer adds a server to the configuration.
// Returns an error if a server with the same name already exists.
func (c *Config) AddServer(server ServerConfig) error {
	if _, exists := c.Server(server.Name); exists {
		return fmt.Errorf("server %q already exists", server.Name)
	}
	c.Servers = append(c.Servers, server)
	return nil
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
