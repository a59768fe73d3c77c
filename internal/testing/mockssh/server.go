// Package mockssh provides an in-process SSH server for testing. It supports
// password auth, exec requests and keepalive global requests.
package mockssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ExecHandler produces the outcome of an exec request.
type ExecHandler func(command string) (stdout, stderr string, exitCode int)

// Server is a mock SSH server for testing.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	shell    string
	handler  ExecHandler
	hostKey  ssh.PublicKey

	mu    sync.RWMutex
	users map[string]string // username -> password

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the mock SSH server.
type Option func(*Server)

// WithShell sets the shell used for exec requests when no handler is set.
func WithShell(shell string) Option {
	return func(s *Server) {
		s.shell = shell
	}
}

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithExecHandler answers exec requests with fn instead of a shell.
func WithExecHandler(fn ExecHandler) Option {
	return func(s *Server) {
		s.handler = fn
	}
}

// New creates and starts a mock SSH server on a random loopback port.
func New(opts ...Option) (*Server, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	s := &Server{
		shell:   "/bin/sh",
		hostKey: signer.PublicKey(),
		users: map[string]string{
			"test": "test",
		},
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = s.runShell
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.RLock()
			expected, ok := s.users[c.User()]
			s.mu.RUnlock()

			if ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", "addr", s.addr)
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey
}

// SetPassword changes or adds a user's password.
func (s *Server) SetPassword(username, password string) {
	s.mu.Lock()
	s.users[username] = password
	s.mu.Unlock()
}

// DropConnections closes every accepted connection without stopping the
// listener, as a network failure would.
func (s *Server) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// ConnectionCount returns the number of open client connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// Close shuts the server down and drops all connections.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", "error", err)
				continue
			}
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, netConn)
		s.connsMu.Unlock()
		netConn.Close()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", "error", err)
		return
	}
	defer sshConn.Close()

	go handleGlobalRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleSession(channel, requests)
	}
}

func handleGlobalRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.WantReply {
			req.Reply(req.Type == "keepalive@openssh.com", nil)
		}
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		stdout, stderr, code := s.handler(payload.Command)
		channel.Write([]byte(stdout))
		channel.Stderr().Write([]byte(stderr))
		sendExitStatus(channel, code)
		return
	}
}

func (s *Server) runShell(command string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(s.shell, "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = 127
			stderr.WriteString(err.Error())
		}
	}
	return stdout.String(), stderr.String(), code
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
	channel.Close()
}
