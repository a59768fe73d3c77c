// Package connection holds the per-connection state machine and delegates
// session work to a ports.Transport.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/acolita/sshkeeper/internal/recovery"
)

// Connection is one managed remote session. All methods are safe for
// concurrent use.
type Connection struct {
	id        string
	cfg       Config
	transport ports.Transport
	clock     ports.Clock

	mu            sync.RWMutex
	status        Status
	lastConnected time.Time
	lastError     *recovery.ConnectionError
	history       history
	closed        bool
}

// New creates a Disconnected connection.
func New(id string, cfg Config, transport ports.Transport, clock ports.Clock) *Connection {
	return &Connection{
		id:        id,
		cfg:       cfg,
		transport: transport,
		clock:     clock,
		status:    Disconnected,
	}
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Config returns the connection's config, secrets included.
func (c *Connection) Config() Config { return c.cfg }

// Transport returns the underlying transport.
func (c *Connection) Transport() ports.Transport { return c.transport }

// Status returns the current status.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastConnected returns when the transport last connected successfully.
func (c *Connection) LastConnected() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastConnected
}

// LastError returns the most recent classified failure, or nil.
func (c *Connection) LastError() *recovery.ConnectionError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Transitions returns the recorded status changes, oldest first.
func (c *Connection) Transitions() []Transition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.history.list()
}

// SetStatus moves the connection to status to. Setting the current status
// is a no-op. Disallowed changes return ErrInvalidTransition, and any change
// after Close returns ErrClosed.
func (c *Connection) SetStatus(to Status, reason string) error {
	c.mu.Lock()
	from := c.status
	if from == to {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClosed, c.id)
	}
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.status = to
	c.history.record(Transition{From: from, To: to, At: c.clock.Now(), Reason: reason})
	c.mu.Unlock()

	slog.Debug("connection status changed",
		slog.String("connection_id", c.id),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason),
	)
	return nil
}

// Close marks the connection as given up by its owner and moves it to
// Disconnected. Every later SetStatus to another status fails with
// ErrClosed.
func (c *Connection) Close(reason string) {
	c.mu.Lock()
	from := c.status
	c.closed = true
	if from != Disconnected {
		c.status = Disconnected
		c.history.record(Transition{From: from, To: Disconnected, At: c.clock.Now(), Reason: reason})
	}
	c.mu.Unlock()

	slog.Debug("connection closed",
		slog.String("connection_id", c.id),
		slog.String("from", from.String()),
		slog.String("reason", reason),
	)
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// SetLastError records a classified failure. A nil value clears it.
func (c *Connection) SetLastError(ce *recovery.ConnectionError) {
	c.mu.Lock()
	c.lastError = ce
	c.mu.Unlock()
}

// Connect opens the transport. Status is left to the caller.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastConnected = c.clock.Now()
	c.lastError = nil
	c.mu.Unlock()
	return nil
}

// Reconnect tears down whatever session is left and connects again.
func (c *Connection) Reconnect(ctx context.Context) error {
	if err := c.transport.Disconnect(ctx); err != nil {
		slog.Debug("disconnect before reconnect failed",
			slog.String("connection_id", c.id),
			slog.String("error", err.Error()),
		)
	}
	return c.Connect(ctx)
}

// Execute runs command through the transport.
func (c *Connection) Execute(ctx context.Context, command string) (ports.ExecResult, error) {
	return c.transport.Execute(ctx, command)
}

// Disconnect closes the transport. Status is left to the caller.
func (c *Connection) Disconnect(ctx context.Context) error {
	return c.transport.Disconnect(ctx)
}

// IsConnected asks the transport whether the session is alive.
func (c *Connection) IsConnected() bool {
	return c.transport.IsConnected()
}
