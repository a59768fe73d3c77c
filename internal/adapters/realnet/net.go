// Package realnet provides the real implementation of the NetworkDialer port.
package realnet

import (
	"net"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Dialer implements ports.NetworkDialer using the real net.Dial function.
// It is used to reach the SSH agent socket.
type Dialer struct{}

// NewDialer creates a new Dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial establishes a network connection.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return net.Dial(network, address)
}

var _ ports.NetworkDialer = (*Dialer)(nil)
