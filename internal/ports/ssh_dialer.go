package ports

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// SSHDialer abstracts SSH connection establishment for testing.
type SSHDialer interface {
	// DialContext establishes an SSH connection to addr. Cancelling ctx
	// aborts the TCP dial and the handshake.
	DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
