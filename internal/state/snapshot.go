// Package state persists per-connection snapshots so connections can be
// restored after a restart.
package state

import (
	"time"

	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/recovery"
)

// SavedConfig is the persisted form of connection.Config. It has no fields
// for secret material.
type SavedConfig struct {
	Name                   string        `json:"name,omitempty"`
	Host                   string        `json:"host"`
	Port                   int           `json:"port"`
	Username               string        `json:"username"`
	AuthMethod             string        `json:"auth_method"`
	KeyPath                string        `json:"key_path,omitempty"`
	ConnectTimeout         time.Duration `json:"connect_timeout,omitempty"`
	MaxReconnectAttempts   int           `json:"max_reconnect_attempts,omitempty"`
	ReconnectBackoffFactor float64       `json:"reconnect_backoff_factor,omitempty"`
	ReconnectInitialDelay  time.Duration `json:"reconnect_initial_delay,omitempty"`
	ReconnectMaxDelay      time.Duration `json:"reconnect_max_delay,omitempty"`
}

// SaveConfig converts cfg to its persisted form, dropping secrets.
func SaveConfig(cfg connection.Config) SavedConfig {
	return SavedConfig{
		Name:                   cfg.Name,
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		Username:               cfg.Username,
		AuthMethod:             string(cfg.AuthMethod),
		KeyPath:                cfg.KeyPath,
		ConnectTimeout:         cfg.ConnectTimeout,
		MaxReconnectAttempts:   cfg.MaxReconnectAttempts,
		ReconnectBackoffFactor: cfg.ReconnectBackoffFactor,
		ReconnectInitialDelay:  cfg.ReconnectInitialDelay,
		ReconnectMaxDelay:      cfg.ReconnectMaxDelay,
	}
}

// Config rebuilds a connection.Config. Secrets must be filled in by the caller.
func (s SavedConfig) Config() connection.Config {
	return connection.Config{
		Name:                   s.Name,
		Host:                   s.Host,
		Port:                   s.Port,
		Username:               s.Username,
		AuthMethod:             connection.AuthMethod(s.AuthMethod),
		KeyPath:                s.KeyPath,
		ConnectTimeout:         s.ConnectTimeout,
		MaxReconnectAttempts:   s.MaxReconnectAttempts,
		ReconnectBackoffFactor: s.ReconnectBackoffFactor,
		ReconnectInitialDelay:  s.ReconnectInitialDelay,
		ReconnectMaxDelay:      s.ReconnectMaxDelay,
	}
}

// SavedError is the persisted form of a classified failure.
type SavedError struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Steps     []string  `json:"steps,omitempty"`
}

// SaveError converts ce to its persisted form.
func SaveError(ce *recovery.ConnectionError) *SavedError {
	if ce == nil {
		return nil
	}
	return &SavedError{
		Type:      ce.Type.String(),
		Message:   ce.Message,
		Timestamp: ce.Timestamp,
		Steps:     append([]string(nil), ce.Steps...),
	}
}

// Snapshot is the persisted state of one connection.
type Snapshot struct {
	ConnectionID      string            `json:"connection_id"`
	Status            connection.Status `json:"status"`
	Config            SavedConfig       `json:"config"`
	LastActivity      time.Time         `json:"last_activity"`
	ReconnectAttempts int               `json:"reconnect_attempts"`
	LastError         *SavedError       `json:"last_error,omitempty"`
}

// Update is a partial snapshot. Nil fields keep their stored value; a zero
// LastActivity means "now".
type Update struct {
	Status            *connection.Status
	Config            *connection.Config
	LastActivity      time.Time
	ReconnectAttempts *int
	LastError         *recovery.ConnectionError
	ClearError        bool
}

// StatusPtr returns a pointer to s, for building an Update.
func StatusPtr(s connection.Status) *connection.Status { return &s }

// IntPtr returns a pointer to n, for building an Update.
func IntPtr(n int) *int { return &n }

// apply merges u into snap.
func apply(snap Snapshot, id string, u Update, now time.Time) Snapshot {
	snap.ConnectionID = id
	if u.Status != nil {
		snap.Status = *u.Status
	}
	if u.Config != nil {
		snap.Config = SaveConfig(*u.Config)
	}
	if u.LastActivity.IsZero() {
		snap.LastActivity = now
	} else {
		snap.LastActivity = u.LastActivity
	}
	if u.ReconnectAttempts != nil {
		snap.ReconnectAttempts = *u.ReconnectAttempts
	}
	if u.ClearError {
		snap.LastError = nil
	}
	if u.LastError != nil {
		snap.LastError = SaveError(u.LastError)
	}
	return snap
}

// Store persists snapshots keyed by connection id.
type Store interface {
	// Get returns the snapshot for id and whether it exists.
	Get(id string) (Snapshot, bool, error)

	// All returns every snapshot ordered by connection id.
	All() ([]Snapshot, error)

	// Update merges u into the snapshot for id, creating it if needed, and
	// returns the result.
	Update(id string, u Update) (Snapshot, error)

	// Delete removes the snapshot for id. Unknown ids are not an error.
	Delete(id string) error

	// Clear removes every snapshot.
	Clear() error
}
