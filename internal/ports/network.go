package ports

import "net"

// NetworkDialer abstracts plain network dialing. The SSH agent socket is
// reached through it.
type NetworkDialer interface {
	// Dial establishes a network connection.
	Dial(network, address string) (net.Conn, error)
}
