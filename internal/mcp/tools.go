package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/manager"
	"github.com/acolita/sshkeeper/internal/recovery"
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(sshConnectTool(), s.handleSSHConnect)
	s.mcpServer.AddTool(sshDisconnectTool(), s.handleSSHDisconnect)
	s.mcpServer.AddTool(sshReconnectTool(), s.handleSSHReconnect)
	s.mcpServer.AddTool(sshListTool(), s.handleSSHList)
	s.mcpServer.AddTool(sshStatusTool(), s.handleSSHStatus)
	s.mcpServer.AddTool(sshExecTool(), s.handleSSHExec)
	s.registerConfigTools()
}

// Tool definitions

func sshConnectTool() mcp.Tool {
	return mcp.NewTool("ssh_connect",
		mcp.WithDescription(`Open a managed SSH connection.

Either name a configured server profile with "server", or give host/user
and an auth method. Secrets are never passed as parameters: passwords and
key passphrases come from the named environment variables or the OS keyring.

The connection is health-checked periodically and reconnected automatically.`),
		mcp.WithString("server",
			mcp.Description("Name of a server profile from the config file"),
		),
		mcp.WithString("host",
			mcp.Description("SSH hostname or IP address (when no profile is used)"),
		),
		mcp.WithNumber("port",
			mcp.Description("SSH port (default: 22)"),
		),
		mcp.WithString("user",
			mcp.Description("SSH username (when no profile is used)"),
		),
		mcp.WithString("auth_type",
			mcp.Description("'key', 'password' or 'agent' (default: key when key_path is set, agent otherwise)"),
		),
		mcp.WithString("key_path",
			mcp.Description("Path to the private key for key auth"),
		),
		mcp.WithString("password_env",
			mcp.Description("Environment variable holding the SSH password"),
		),
		mcp.WithString("passphrase_env",
			mcp.Description("Environment variable holding the key passphrase"),
		),
	)
}

func sshDisconnectTool() mcp.Tool {
	return mcp.NewTool("ssh_disconnect",
		mcp.WithDescription("Close a managed connection and stop reconnecting it"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
	)
}

func sshReconnectTool() mcp.Tool {
	return mcp.NewTool("ssh_reconnect",
		mcp.WithDescription("Re-establish a connection with exponential backoff and wait for the outcome"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Give up after this many milliseconds (default: the configured reconnect timeout)"),
		),
	)
}

func sshListTool() mcp.Tool {
	return mcp.NewTool("ssh_list",
		mcp.WithDescription("List managed connections with their status"),
	)
}

func sshStatusTool() mcp.Tool {
	return mcp.NewTool("ssh_status",
		mcp.WithDescription("Show status, last error with troubleshooting steps, health check counters and recent state transitions"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
	)
}

func sshExecTool() mcp.Tool {
	return mcp.NewTool("ssh_exec",
		mcp.WithDescription("Run a non-interactive command on a managed connection"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Command timeout in milliseconds (default: 30000)"),
		),
	)
}

// Tool handlers

func (s *Server) handleSSHConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.connectConfig(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limiter := s.limiter()
	if locked, remaining := limiter.IsLocked(cfg.Host, cfg.Username); locked {
		return mcp.NewToolResultError(fmt.Sprintf(
			"too many failed authentication attempts for %s@%s; retry in %s",
			cfg.Username, cfg.Host, remaining.Round(time.Second),
		)), nil
	}

	slog.Info("opening connection",
		slog.String("host", cfg.Host),
		slog.String("user", cfg.Username),
		slog.String("auth_method", string(cfg.AuthMethod)),
	)

	conn, err := s.manager.Connect(ctx, cfg)
	if err != nil {
		if ce, ok := recovery.AsConnectionError(err); ok && isCredentialFailure(ce.Type) {
			limiter.RecordFailure(cfg.Host, cfg.Username)
		}
		return errorResult(err), nil
	}
	limiter.RecordSuccess(cfg.Host, cfg.Username)

	return jsonResult(summarize(conn, false))
}

// connectConfig builds the connection config from a profile or from
// explicit parameters.
func (s *Server) connectConfig(req mcp.CallToolRequest) (connection.Config, error) {
	if name := mcp.ParseString(req, "server", ""); name != "" {
		return s.Config().ConnectionConfig(name)
	}

	host := mcp.ParseString(req, "host", "")
	user := mcp.ParseString(req, "user", "")
	if host == "" {
		return connection.Config{}, errors.New("host is required when no server profile is given")
	}
	if user == "" {
		return connection.Config{}, errors.New("user is required when no server profile is given")
	}

	keyPath := mcp.ParseString(req, "key_path", "")
	method := connection.AuthMethod(mcp.ParseString(req, "auth_type", ""))
	if method == "" {
		method = connection.AuthAgent
		if keyPath != "" {
			method = connection.AuthKey
		}
	}

	cfg := connection.Config{
		Host:       host,
		Port:       mcp.ParseInt(req, "port", connection.DefaultPort),
		Username:   user,
		AuthMethod: method,
		KeyPath:    keyPath,
	}
	if env := mcp.ParseString(req, "password_env", ""); env != "" {
		cfg.Password = s.fs.Getenv(env)
	}
	if env := mcp.ParseString(req, "passphrase_env", ""); env != "" {
		cfg.KeyPassphrase = s.fs.Getenv(env)
	}
	return cfg, nil
}

func isCredentialFailure(t recovery.ErrorType) bool {
	switch t {
	case recovery.AuthenticationFailed, recovery.PermissionDenied, recovery.KeyRejected, recovery.PasswordRejected:
		return true
	}
	return false
}

func (s *Server) handleSSHDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "connection_id", "")
	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}

	if err := s.manager.Disconnect(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Connection closed"), nil
}

func (s *Server) handleSSHReconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "connection_id", "")
	timeoutMs := mcp.ParseInt(req, "timeout_ms", 0)
	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}

	slog.Info("reconnect requested",
		slog.String("connection_id", id),
		slog.Int("timeout_ms", timeoutMs),
	)

	timeout := s.Config().Reconnect.Timeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if err := s.manager.ReconnectWithTimeout(ctx, id, timeout); err != nil {
		return errorResult(err), nil
	}

	conn, ok := s.manager.Connection(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%v: %s", manager.ErrConnectionNotFound, id)), nil
	}
	return jsonResult(summarize(conn, s.manager.Engine().IsReconnecting(id)))
}

func (s *Server) handleSSHList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns := s.manager.ActiveConnections()
	list := make([]connectionSummary, 0, len(conns))
	for _, conn := range conns {
		list = append(list, summarize(conn, s.manager.Engine().IsReconnecting(conn.ID())))
	}
	return jsonResult(map[string]any{
		"connections": list,
		"count":       len(list),
	})
}

func (s *Server) handleSSHStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "connection_id", "")
	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}

	conn, ok := s.manager.Connection(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%v: %s", manager.ErrConnectionNotFound, id)), nil
	}

	status := connectionStatus{
		connectionSummary: summarize(conn, s.manager.Engine().IsReconnecting(id)),
	}
	if ce := conn.LastError(); ce != nil {
		status.LastError = &errorInfo{
			Type:            ce.Type.String(),
			Message:         ce.Message,
			Timestamp:       ce.Timestamp,
			Troubleshooting: ce.Steps,
		}
	}
	if hm, ok := s.manager.HealthMetrics(id); ok {
		status.Health = &healthInfo{
			Successes: hm.Successes,
			Failures:  hm.Failures,
			LastCheck: hm.LastCheck,
			LastError: hm.LastError,
		}
	}
	for _, tr := range conn.Transitions() {
		status.Transitions = append(status.Transitions, transitionInfo{
			From:   tr.From.String(),
			To:     tr.To.String(),
			At:     tr.At,
			Reason: tr.Reason,
		})
	}
	return jsonResult(status)
}

func (s *Server) handleSSHExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "connection_id", "")
	command := mcp.ParseString(req, "command", "")
	timeoutMs := mcp.ParseInt(req, "timeout_ms", defaultExecTimeoutMs)

	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	if command == "" {
		return mcp.NewToolResultError(errCommandRequired), nil
	}
	if timeoutMs <= 0 {
		timeoutMs = defaultExecTimeoutMs
	}

	conn, ok := s.manager.Connection(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%v: %s", manager.ErrConnectionNotFound, id)), nil
	}

	if err := s.filter().Check(command); err != nil {
		slog.Warn("command rejected",
			slog.String("connection_id", id),
			slog.String("command", command),
		)
		return mcp.NewToolResultError(err.Error()), nil
	}

	slog.Info("executing command",
		slog.String("connection_id", id),
		slog.String("command", command),
	)

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	res, err := conn.Execute(execCtx, command)
	if err != nil {
		if execCtx.Err() != nil {
			return mcp.NewToolResultError(fmt.Sprintf("command did not finish within %dms", timeoutMs)), nil
		}
		return errorResult(s.manager.HandleExecError(ctx, conn, err)), nil
	}

	return jsonResult(map[string]any{
		"connection_id": id,
		"exit_code":     res.ExitCode,
		"stdout":        res.Stdout,
		"stderr":        res.Stderr,
	})
}

type connectionSummary struct {
	ConnectionID  string     `json:"connection_id"`
	Name          string     `json:"name,omitempty"`
	Address       string     `json:"address"`
	User          string     `json:"user"`
	AuthMethod    string     `json:"auth_method"`
	Status        string     `json:"status"`
	Reconnecting  bool       `json:"reconnecting,omitempty"`
	LastConnected *time.Time `json:"last_connected,omitempty"`
}

type errorInfo struct {
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
	Troubleshooting []string  `json:"troubleshooting,omitempty"`
}

type healthInfo struct {
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

type transitionInfo struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

type connectionStatus struct {
	connectionSummary
	LastError   *errorInfo       `json:"last_error,omitempty"`
	Health      *healthInfo      `json:"health,omitempty"`
	Transitions []transitionInfo `json:"transitions,omitempty"`
}

func summarize(conn *connection.Connection, reconnecting bool) connectionSummary {
	cfg := conn.Config()
	out := connectionSummary{
		ConnectionID: conn.ID(),
		Name:         cfg.Name,
		Address:      cfg.Address(),
		User:         cfg.Username,
		AuthMethod:   string(cfg.AuthMethod),
		Status:       conn.Status().String(),
		Reconnecting: reconnecting,
	}
	if t := conn.LastConnected(); !t.IsZero() {
		out.LastConnected = &t
	}
	return out
}

// errorResult renders a classified failure with its troubleshooting steps;
// other errors are returned as plain text.
func errorResult(err error) *mcp.CallToolResult {
	ce, ok := recovery.AsConnectionError(err)
	if !ok {
		return mcp.NewToolResultError(err.Error())
	}
	data, mErr := json.MarshalIndent(map[string]any{
		"error":           ce.Message,
		"error_type":      ce.Type.String(),
		"retryable":       ce.Retryable(),
		"troubleshooting": ce.Steps,
	}, "", "  ")
	if mErr != nil {
		return mcp.NewToolResultError(ce.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
