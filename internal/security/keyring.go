// Package security holds credential storage and command policy for sshkeeper.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "sshkeeper"

const (
	keyServerFmt        = "server:%s@%s"
	keySSHPassphraseFmt = "ssh-passphrase:%s"
	probeKey            = "__sshkeeper_probe__"
)

// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

// KeyringStore keeps SSH passwords and key passphrases in the OS keyring
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
}

// NewKeyringStore probes the keyring and returns a store that is disabled
// when the probe fails.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true}

	if err := keyring.Set(KeyringService, probeKey, "probe"); err != nil {
		slog.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probeKey)

	slog.Debug("keyring storage enabled")
	return ks
}

// IsEnabled returns true if the keyring is available and enabled.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled allows enabling/disabling keyring usage.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	ks.enabled = enabled
	ks.mu.Unlock()
}

// StoreServerPassword stores the SSH password for user@host.
func (ks *KeyringStore) StoreServerPassword(host, user string, password []byte) error {
	return ks.set(fmt.Sprintf(keyServerFmt, user, host), password)
}

// GetServerPassword returns the SSH password for user@host, or nil when none
// is stored.
func (ks *KeyringStore) GetServerPassword(host, user string) ([]byte, error) {
	return ks.get(fmt.Sprintf(keyServerFmt, user, host))
}

// DeleteServerPassword removes the SSH password for user@host.
func (ks *KeyringStore) DeleteServerPassword(host, user string) error {
	return ks.delete(fmt.Sprintf(keyServerFmt, user, host))
}

// StoreSSHPassphrase stores the passphrase for a private key file.
func (ks *KeyringStore) StoreSSHPassphrase(keyPath string, passphrase []byte) error {
	return ks.set(fmt.Sprintf(keySSHPassphraseFmt, keyPath), passphrase)
}

// GetSSHPassphrase returns the passphrase for a private key file, or nil
// when none is stored.
func (ks *KeyringStore) GetSSHPassphrase(keyPath string) ([]byte, error) {
	return ks.get(fmt.Sprintf(keySSHPassphraseFmt, keyPath))
}

// DeleteSSHPassphrase removes the passphrase for a private key file.
func (ks *KeyringStore) DeleteSSHPassphrase(keyPath string) error {
	return ks.delete(fmt.Sprintf(keySSHPassphraseFmt, keyPath))
}

// set base64-encodes secret so arbitrary bytes survive the keyring backends.
func (ks *KeyringStore) set(key string, secret []byte) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := keyring.Set(KeyringService, key, encoded); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (ks *KeyringStore) get(key string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, ErrKeyringUnavailable
	}
	encoded, err := keyring.Get(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return secret, nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	err := keyring.Delete(KeyringService, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
