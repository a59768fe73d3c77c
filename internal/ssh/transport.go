package ssh

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/sshkeeper/internal/adapters/realclock"
	"github.com/acolita/sshkeeper/internal/adapters/realfs"
	"github.com/acolita/sshkeeper/internal/adapters/realnet"
	"github.com/acolita/sshkeeper/internal/adapters/realsshdialer"
	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
)

// Deps are the collaborators shared by every transport a factory builds.
// Zero values fall back to the real adapters.
type Deps struct {
	Clock             ports.Clock
	Dialer            ports.SSHDialer
	AgentDialer       ports.NetworkDialer
	FS                ports.FileSystem
	KnownHostsPath    string
	KeepaliveInterval time.Duration
	Logger            *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = realclock.New()
	}
	if d.Dialer == nil {
		d.Dialer = realsshdialer.New()
	}
	if d.AgentDialer == nil {
		d.AgentDialer = realnet.NewDialer()
	}
	if d.FS == nil {
		d.FS = realfs.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// NewTransport builds an unconnected client for cfg. Key files and the agent
// are consulted on every Connect, so a rotated key is picked up on reconnect.
func NewTransport(cfg connection.Config, deps Deps) (*Client, error) {
	deps = deps.withDefaults()
	cfg = cfg.WithDefaults()

	hostKeys, err := BuildHostKeyCallback(deps.FS, deps.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("host key verification: %w", err)
	}

	auth := AuthConfig{
		Method:        cfg.AuthMethod,
		Password:      cfg.Password,
		KeyPath:       cfg.KeyPath,
		KeyPassphrase: cfg.KeyPassphrase,
		FS:            deps.FS,
		AgentDialer:   deps.AgentDialer,
	}

	return NewClient(ClientOptions{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.Username,
		Auth:              func() ([]ssh.AuthMethod, func(), error) { return BuildAuthMethods(auth) },
		HostKeyCallback:   hostKeys,
		Timeout:           cfg.ConnectTimeout,
		KeepaliveInterval: deps.KeepaliveInterval,
		Clock:             deps.Clock,
		Dialer:            deps.Dialer,
		Logger:            deps.Logger,
	})
}

// NewTransportFactory returns a constructor suitable for the connection
// manager.
func NewTransportFactory(deps Deps) func(connection.Config) (ports.Transport, error) {
	deps = deps.withDefaults()
	return func(cfg connection.Config) (ports.Transport, error) {
		return NewTransport(cfg, deps)
	}
}
