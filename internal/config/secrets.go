package config

import (
	"fmt"
	"log/slog"

	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
)

// Keyring is the subset of security.KeyringStore used for secret lookup.
type Keyring interface {
	IsEnabled() bool
	GetServerPassword(host, user string) ([]byte, error)
	GetSSHPassphrase(keyPath string) ([]byte, error)
}

// SecretResolver fills in passwords and key passphrases that are never
// written to disk. Profile env vars win over the keyring; secrets already
// present on the config are kept.
type SecretResolver struct {
	current func() *Config
	env     ports.FileSystem
	keyring Keyring
}

// NewSecretResolver creates a resolver. current returns the live config so
// hot reloads are honoured; keyring may be nil.
func NewSecretResolver(current func() *Config, env ports.FileSystem, keyring Keyring) *SecretResolver {
	return &SecretResolver{current: current, env: env, keyring: keyring}
}

// Resolve returns cfg with its secrets filled in. A missing secret is not an
// error here; connection validation reports it.
func (r *SecretResolver) Resolve(cfg connection.Config) (connection.Config, error) {
	var auth AuthConfig
	if cur := r.current(); cur != nil && cfg.Name != "" {
		if s, ok := cur.Server(cfg.Name); ok {
			auth = s.Auth
		}
	}

	switch cfg.AuthMethod {
	case connection.AuthPassword:
		if cfg.Password != "" {
			break
		}
		if auth.PasswordEnv != "" {
			cfg.Password = r.env.Getenv(auth.PasswordEnv)
		}
		if cfg.Password == "" && r.useKeyring() {
			secret, err := r.keyring.GetServerPassword(cfg.Host, cfg.Username)
			if err != nil {
				return cfg, fmt.Errorf("keyring password for %s@%s: %w", cfg.Username, cfg.Host, err)
			}
			cfg.Password = string(secret)
		}
	case connection.AuthKey:
		if cfg.KeyPassphrase != "" {
			break
		}
		if auth.PassphraseEnv != "" {
			cfg.KeyPassphrase = r.env.Getenv(auth.PassphraseEnv)
		}
		if cfg.KeyPassphrase == "" && r.useKeyring() {
			secret, err := r.keyring.GetSSHPassphrase(cfg.KeyPath)
			if err != nil {
				return cfg, fmt.Errorf("keyring passphrase for %s: %w", cfg.KeyPath, err)
			}
			cfg.KeyPassphrase = string(secret)
		}
	}

	if cfg.AuthMethod == connection.AuthPassword && cfg.Password == "" {
		slog.Debug("no password resolved",
			slog.String("host", cfg.Host),
			slog.String("user", cfg.Username),
		)
	}
	return cfg, nil
}

func (r *SecretResolver) useKeyring() bool {
	if r.keyring == nil || !r.keyring.IsEnabled() {
		return false
	}
	cur := r.current()
	return cur != nil && cur.Security.UseKeyring
}
