package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/acolita/sshkeeper/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerConfigTools() {
	s.mcpServer.AddTool(sshServersTool(), s.handleSSHServers)
	s.mcpServer.AddTool(sshConfigAddTool(), s.handleSSHConfigAdd)
}

func sshServersTool() mcp.Tool {
	return mcp.NewTool("ssh_servers",
		mcp.WithDescription("List the server profiles defined in the config file"),
	)
}

func sshConfigAddTool() mcp.Tool {
	return mcp.NewTool("ssh_config_add",
		mcp.WithDescription(`Add an SSH server profile interactively.

Opens a TUI form on the user's terminal to confirm and optionally edit
server details before saving. The LLM provides known fields as parameters;
the user sees a pre-filled form and can adjust values or cancel.

Key paths and secret environment variable names stay under user control
via direct terminal interaction.

Requires a config file path (-config flag at startup).`),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Short name for the server (e.g., 'production', 'db1')"),
		),
		mcp.WithString("host",
			mcp.Required(),
			mcp.Description("SSH hostname or IP address"),
		),
		mcp.WithNumber("port",
			mcp.Description("SSH port (default: 22)"),
		),
		mcp.WithString("user",
			mcp.Required(),
			mcp.Description("SSH username"),
		),
		mcp.WithString("auth_type",
			mcp.Description("Authentication type: 'key' (default), 'password' or 'agent'"),
		),
		mcp.WithString("key_path",
			mcp.Description("Path to SSH private key (optional, user can set in form)"),
		),
	)
}

type serverInfo struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	AuthType string `json:"auth_type"`
	KeyPath  string `json:"key_path,omitempty"`
}

func (s *Server) handleSSHServers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.Config()
	servers := make([]serverInfo, 0, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		cc := srv.ConnectionConfig().WithDefaults()
		servers = append(servers, serverInfo{
			Name:     srv.Name,
			Host:     cc.Host,
			Port:     cc.Port,
			User:     cc.Username,
			AuthType: string(cc.AuthMethod),
			KeyPath:  cc.KeyPath,
		})
	}
	return jsonResult(map[string]any{"servers": servers})
}

func (s *Server) handleSSHConfigAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.configPath == "" {
		return mcp.NewToolResultError(
			"No config file path set. Start the server with -config to enable config management.",
		), nil
	}
	if s.dialogProvider == nil {
		return mcp.NewToolResultError("interactive forms are not available in this session"), nil
	}

	name := mcp.ParseString(req, "name", "")
	host := mcp.ParseString(req, "host", "")
	user := mcp.ParseString(req, "user", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if host == "" {
		return mcp.NewToolResultError("host is required"), nil
	}
	if user == "" {
		return mcp.NewToolResultError("user is required"), nil
	}

	if _, exists := s.Config().Server(name); exists {
		return mcp.NewToolResultError(fmt.Sprintf("server %q already exists in config", name)), nil
	}

	prefill := config.ServerConfig{
		Name: name,
		Host: host,
		Port: mcp.ParseInt(req, "port", 22),
		User: user,
		Auth: config.AuthConfig{
			Type: mcp.ParseString(req, "auth_type", "key"),
			Path: mcp.ParseString(req, "key_path", ""),
		},
	}

	slog.Info("showing server config form", slog.String("server_name", name))

	server, err := config.AddServerInteractive(s.dialogProvider, prefill, s.configPath, s.fs)
	if errors.Is(err, config.ErrFormCancelled) {
		slog.Info("server configuration cancelled by user", slog.String("server_name", name))
		return jsonResult(map[string]any{
			"status":  "cancelled",
			"message": "User cancelled the configuration",
		})
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// The watcher reloads the file too; this makes the profile usable at once.
	s.mu.Lock()
	next := *s.config
	next.Servers = append(slices.Clone(s.config.Servers), server)
	s.config = &next
	s.mu.Unlock()

	slog.Info("server configuration saved",
		slog.String("server_name", server.Name),
		slog.String("host", server.Host),
		slog.String("config_path", s.configPath),
	)

	return jsonResult(map[string]any{
		"status":      "saved",
		"server_name": server.Name,
		"host":        server.Host,
		"port":        server.Port,
		"user":        server.User,
		"auth_type":   server.Auth.Type,
		"key_path":    server.Auth.Path,
		"config_path": s.configPath,
		"message":     "Server added. Connect with ssh_connect server=" + server.Name,
	})
}
