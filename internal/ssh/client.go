// Package ssh implements the remote shell transport on golang.org/x/crypto/ssh.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/sshkeeper/internal/adapters/realclock"
	"github.com/acolita/sshkeeper/internal/adapters/realsshdialer"
	"github.com/acolita/sshkeeper/internal/ports"
)

const (
	defaultKeepaliveInterval = 30 * time.Second
	defaultTimeout           = 30 * time.Second
)

// AuthFunc produces auth methods for one handshake. release is called when
// the handshake is over.
type AuthFunc func() (methods []ssh.AuthMethod, release func(), err error)

// Client is a single SSH connection used as a ports.Transport.
type Client struct {
	dialMu sync.Mutex

	mu         sync.Mutex
	conn       *ssh.Client
	stop       chan struct{}
	closeCause error
	closeFns   []func(error)

	host            string
	port            int
	user            string
	timeout         time.Duration
	hostKeyCallback ssh.HostKeyCallback
	auth            AuthFunc

	keepaliveInterval time.Duration

	clock  ports.Clock
	dialer ports.SSHDialer
	logger *slog.Logger
}

// ClientOptions configures SSH client behavior. Either AuthMethods or Auth
// must be set.
type ClientOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	Auth              AuthFunc
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Dialer            ports.SSHDialer
	Logger            *slog.Logger
}

// NewClient creates a new, unconnected SSH client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if opts.Auth == nil {
		if len(opts.AuthMethods) == 0 {
			return nil, fmt.Errorf("at least one auth method is required")
		}
		methods := opts.AuthMethods
		opts.Auth = func() ([]ssh.AuthMethod, func(), error) {
			return methods, func() {}, nil
		}
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = realsshdialer.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		host:              opts.Host,
		port:              opts.Port,
		user:              opts.User,
		timeout:           opts.Timeout,
		hostKeyCallback:   opts.HostKeyCallback,
		auth:              opts.Auth,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             opts.Clock,
		dialer:            opts.Dialer,
		logger:            opts.Logger,
	}, nil
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Connect dials and authenticates. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	methods, release, err := c.auth()
	if err != nil {
		return err
	}
	defer release()

	addr := c.Addr()
	config := &ssh.ClientConfig{
		User:            c.user,
		Auth:            methods,
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.timeout,
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", addr, config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return describeDialError(addr, err)
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stop = stop
	c.closeCause = nil
	c.mu.Unlock()

	go c.keepalive(conn, stop)
	go c.watch(conn)

	c.logger.Debug("ssh connected", "host", addr, "user", c.user)
	return nil
}

// keepalive probes the server every interval. A failed or unanswered probe
// closes the connection; watch then reports it.
func (c *Client) keepalive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		errc := make(chan error, 1)
		go func() {
			_, _, err := conn.SendRequest("keepalive@openssh.com", true, nil)
			errc <- err
		}()

		var err error
		select {
		case <-stop:
			return
		case err = <-errc:
		case <-c.clock.After(c.keepaliveInterval):
			err = fmt.Errorf("keepalive timeout after %s", c.keepaliveInterval)
		}
		if err == nil {
			continue
		}

		c.logger.Warn("ssh keepalive failed", "host", c.Addr(), "error", err)
		c.mu.Lock()
		if c.conn == conn {
			c.closeCause = err
		}
		c.mu.Unlock()
		conn.Close()
		return
	}
}

// watch waits for conn to end. Closes not initiated by Disconnect are
// reported to the OnClose hooks.
func (c *Client) watch(conn *ssh.Client) {
	waitErr := conn.Wait()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	cause := c.closeCause
	c.closeCause = nil
	fns := make([]func(error), len(c.closeFns))
	copy(fns, c.closeFns)
	c.mu.Unlock()

	if cause == nil {
		cause = waitErr
	}
	if cause == nil {
		cause = errors.New("closed by remote host")
	}
	err := fmt.Errorf("ssh connection to %s lost: %w", c.Addr(), cause)
	c.logger.Warn("ssh connection closed unexpectedly", "host", c.Addr(), "error", err)

	for _, fn := range fns {
		fn(err)
	}
}

// OnClose registers fn for unexpected connection loss.
func (c *Client) OnClose(fn func(err error)) {
	c.mu.Lock()
	c.closeFns = append(c.closeFns, fn)
	c.mu.Unlock()
}

// Execute runs command in a fresh session. A non-zero exit status is
// reported in the result, not as an error.
func (c *Client) Execute(ctx context.Context, command string) (ports.ExecResult, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ports.ExecResult{}, fmt.Errorf("not connected")
	}

	session, err := conn.NewSession()
	if err != nil {
		return ports.ExecResult{}, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Close()
		return ports.ExecResult{}, ctx.Err()
	}

	result := ports.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

// Disconnect closes the connection. Hooks registered with OnClose are not
// called.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected reports whether a connection is held.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// RemoteAddr returns the remote address if connected.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.RemoteAddr()
	}
	return nil
}

var (
	_ ports.Transport     = (*Client)(nil)
	_ ports.CloseNotifier = (*Client)(nil)
)
