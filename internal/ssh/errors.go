package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// describeDialError rewrites dial and handshake failures so the wording
// carries the markers the recovery classifier keys on. The original error
// stays in the chain.
func describeDialError(addr string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("getaddrinfo ENOTFOUND %s: %w", dnsErr.Name, err)
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect ECONNREFUSED %s: %w", addr, err)
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return fmt.Errorf("no route to host %s: %w", addr, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("connect ETIMEDOUT %s: %w", addr, err)
	}

	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("authentication failed for %s: %w", addr, err)
	}

	return fmt.Errorf("ssh dial %s: %w", addr, err)
}
