// Package mcp exposes the connection manager as MCP tools over stdio.
package mcp

import (
	"log/slog"
	"sync"

	"github.com/acolita/sshkeeper/internal/adapters/realclock"
	"github.com/acolita/sshkeeper/internal/adapters/realfs"
	"github.com/acolita/sshkeeper/internal/config"
	"github.com/acolita/sshkeeper/internal/manager"
	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/acolita/sshkeeper/internal/security"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "0.3.0"

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer      *server.MCPServer
	manager        *manager.Manager
	clock          ports.Clock
	fs             ports.FileSystem
	dialogProvider ports.DialogProvider
	configPath     string

	mu              sync.RWMutex
	config          *config.Config
	commandFilter   *security.CommandFilter
	authRateLimiter *security.AuthRateLimiter
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used for config writes and env lookups.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) { s.fs = fs }
}

// WithClock sets the clock used by the auth rate limiter.
func WithClock(c ports.Clock) ServerOption {
	return func(s *Server) { s.clock = c }
}

// WithDialogProvider sets the provider for interactive server forms.
func WithDialogProvider(dp ports.DialogProvider) ServerOption {
	return func(s *Server) { s.dialogProvider = dp }
}

// WithConfigPath sets the config file ssh_config_add writes to.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) { s.configPath = path }
}

// WithMCPServer uses an existing MCP server, so a Notifier can be built on
// it before the manager exists.
func WithMCPServer(ms *server.MCPServer) ServerOption {
	return func(s *Server) { s.mcpServer = ms }
}

// NewMCPServer creates the underlying MCP server with logging enabled.
func NewMCPServer() *server.MCPServer {
	return server.NewMCPServer(
		"sshkeeper",
		Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
}

// NewServer creates an MCP server driving mgr.
func NewServer(cfg *config.Config, mgr *manager.Manager, opts ...ServerOption) *Server {
	s := &Server{
		manager: mgr,
		clock:   realclock.New(),
		fs:      realfs.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mcpServer == nil {
		s.mcpServer = NewMCPServer()
	}

	s.applyConfig(cfg)
	s.registerTools()
	return s
}

// Run serves MCP on stdio until the client disconnects.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a reloaded configuration. The command filter, the
// auth limits and the reconnection defaults take effect immediately; loops
// already running keep the settings they started with.
func (s *Server) UpdateConfig(cfg *config.Config) {
	slog.Debug("applying config update")
	s.applyConfig(cfg)
	slog.Info("configuration hot-reloaded")
}

func (s *Server) applyConfig(cfg *config.Config) {
	filter, err := security.NewCommandFilter(cfg.Security.CommandBlocklist, cfg.Security.CommandAllowlist)
	if err != nil {
		slog.Warn("invalid command filter, keeping previous",
			slog.String("error", err.Error()),
		)
	}
	limiter := security.NewAuthRateLimiter(s.clock, cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration)

	s.mu.Lock()
	s.config = cfg
	if err == nil {
		s.commandFilter = filter
	}
	s.authRateLimiter = limiter
	s.mu.Unlock()

	s.manager.Engine().SetSettings(cfg)
}

// Config returns the live configuration, including profiles added through
// ssh_config_add.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Server) filter() *security.CommandFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commandFilter
}

func (s *Server) limiter() *security.AuthRateLimiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authRateLimiter
}
