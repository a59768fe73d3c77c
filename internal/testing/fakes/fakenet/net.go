// Package fakenet provides a fake network dialer for testing.
package fakenet

import (
	"fmt"
	"net"
	"sync"
)

// Dialer is a fake network dialer. By default every Dial fails.
type Dialer struct {
	mu       sync.Mutex
	dialFunc func(network, address string) (net.Conn, error)
	calls    []DialCall
}

// DialCall records a call to Dial.
type DialCall struct {
	Network string
	Address string
}

// NewDialer creates a new fake Dialer that returns an error by default.
func NewDialer() *Dialer {
	return &Dialer{
		dialFunc: func(network, address string) (net.Conn, error) {
			return nil, fmt.Errorf("fakenet: not configured")
		},
	}
}

// Dial records the call and delegates to the configured function.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Address: address})
	fn := d.dialFunc
	d.mu.Unlock()
	return fn(network, address)
}

// Calls returns all recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// SetDialFunc replaces the function called by Dial.
func (d *Dialer) SetDialFunc(fn func(network, address string) (net.Conn, error)) {
	d.mu.Lock()
	d.dialFunc = fn
	d.mu.Unlock()
}

// SetError configures the dialer to always return the given error.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(network, address string) (net.Conn, error) {
		return nil, err
	})
}

// SetConn configures the dialer to hand out conn on every call.
func (d *Dialer) SetConn(conn net.Conn) {
	d.SetDialFunc(func(network, address string) (net.Conn, error) {
		return conn, nil
	})
}
