package ssh

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
)

// AuthConfig holds authentication configuration for one connection.
type AuthConfig struct {
	Method        connection.AuthMethod
	Password      string
	KeyPath       string
	KeyPassphrase string

	// FS resolves ~ and SSH_AUTH_SOCK and reads key files.
	FS ports.FileSystem

	// AgentDialer reaches the agent socket.
	AgentDialer ports.NetworkDialer
}

// BuildAuthMethods returns the SSH auth methods for cfg. The returned release
// func must be called once the handshake is over; it closes the agent socket
// when one was opened.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	switch cfg.Method {
	case connection.AuthPassword:
		return []ssh.AuthMethod{
			PasswordAuth(cfg.Password),
			KeyboardInteractiveAuth(cfg.Password),
		}, noop, nil

	case connection.AuthKey:
		method, err := privateKeyAuth(cfg.FS, cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, noop, err
		}
		return []ssh.AuthMethod{method}, noop, nil

	case connection.AuthAgent:
		conn, err := dialAgent(cfg.FS, cfg.AgentDialer)
		if err != nil {
			return nil, noop, err
		}
		client := agent.NewClient(conn)
		release := func() { conn.Close() }
		return []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)}, release, nil
	}

	return nil, noop, fmt.Errorf("unsupported auth method %q", cfg.Method)
}

func dialAgent(fs ports.FileSystem, dialer ports.NetworkDialer) (net.Conn, error) {
	socket := fs.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("ssh agent unavailable: SSH_AUTH_SOCK not set")
	}

	conn, err := dialer.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("ssh agent unavailable: %w", err)
	}
	return conn, nil
}

// privateKeyAuth loads a private key. Parse failures are reported as an
// invalid key so they are not retried.
func privateKeyAuth(fs ports.FileSystem, keyPath, passphrase string) (ssh.AuthMethod, error) {
	path := expandPath(fs, keyPath)
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("invalid key path %s: %w", path, err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid private key %s: %w", path, err)
	}

	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback verifies host keys against known_hosts when the file
// exists and accepts any key otherwise.
func BuildHostKeyCallback(fs ports.FileSystem, knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := expandPath(fs, knownHostsPath)

	if _, err := fs.Stat(expanded); err != nil {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// expandPath expands ~ to the home directory.
func expandPath(fs ports.FileSystem, path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := fs.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth answers every prompt with password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
