// Package realsshdialer provides a real implementation of the SSHDialer port.
package realsshdialer

import (
	"context"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Dialer implements ports.SSHDialer over a TCP connection.
type Dialer struct{}

// New creates a new Dialer.
func New() *Dialer {
	return &Dialer{}
}

// DialContext dials addr and runs the SSH handshake. config.Timeout bounds
// the TCP dial; ctx bounds both the dial and the handshake.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: config.Timeout}
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok && config.Timeout > 0 {
		deadline, ok = time.Now().Add(config.Timeout), true
	}
	if ok {
		_ = conn.SetDeadline(deadline)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			c.Close()
		}
		conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

var _ ports.SSHDialer = (*Dialer)(nil)
