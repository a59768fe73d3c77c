package connection

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/acolita/sshkeeper/internal/recovery"
)

// AuthMethod selects how the session authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
	AuthAgent    AuthMethod = "agent"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 30 * time.Second
)

// Config describes one remote endpoint. It is treated as immutable once a
// Connection has been created from it.
type Config struct {
	Name       string
	Host       string
	Port       int
	Username   string
	AuthMethod AuthMethod

	Password      string
	KeyPath       string
	KeyPassphrase string

	ConnectTimeout time.Duration

	// Per-connection reconnection overrides. Zero means "not set".
	MaxReconnectAttempts   int
	ReconnectBackoffFactor float64
	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
}

// WithDefaults fills unset port and timeout.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// Validate checks the config before any network activity. Failures are
// returned as a ConfigurationError.
func (c Config) Validate(now time.Time) error {
	if msg := c.problem(); msg != "" {
		return recovery.NewConfigurationError("", msg, now)
	}
	return nil
}

func (c Config) problem() string {
	if c.Host == "" {
		return "host is required"
	}
	if c.Username == "" {
		return "username is required"
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Sprintf("port %d is out of range (1-65535)", c.Port)
	}
	switch c.AuthMethod {
	case AuthPassword:
		if c.Password == "" {
			return "password authentication requires a password"
		}
	case AuthKey:
		if c.KeyPath == "" {
			return "key authentication requires a key path"
		}
	case AuthAgent:
	case "":
		return "auth method is required"
	default:
		return fmt.Sprintf("unknown auth method %q", c.AuthMethod)
	}
	return ""
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redacted returns a copy without secret material.
func (c Config) Redacted() Config {
	c.Password = ""
	c.KeyPassphrase = ""
	return c
}

// Label is the name if set, otherwise user@host:port.
func (c Config) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Username + "@" + c.Address()
}
