package mcp

import (
	"context"

	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/mark3labs/mcp-go/mcp"
)

// Broadcaster sends a notification to every connected MCP client.
// *server.MCPServer implements it.
type Broadcaster interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// Notifier delivers reconnection notifications as MCP log messages
// (notifications/message). It never collects a response.
type Notifier struct {
	target Broadcaster
}

// NewNotifier creates a Notifier sending through target.
func NewNotifier(target Broadcaster) *Notifier {
	return &Notifier{target: target}
}

// Notify implements ports.Notifier.
func (n *Notifier) Notify(ctx context.Context, note ports.Notification) (string, error) {
	data := map[string]any{
		"connection_id": note.ConnectionID,
		"message":       note.Message,
	}
	if len(note.Details) > 0 {
		data["troubleshooting"] = note.Details
	}
	if len(note.Actions) > 0 {
		data["actions"] = note.Actions
	}

	n.target.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  loggingLevel(note.Level),
		"logger": "sshkeeper",
		"data":   data,
	})
	return "", nil
}

func loggingLevel(l string) mcp.LoggingLevel {
	switch l {
	case ports.LevelError:
		return mcp.LoggingLevelError
	case ports.LevelWarning:
		return mcp.LoggingLevelWarning
	default:
		return mcp.LoggingLevelInfo
	}
}

var _ ports.Notifier = (*Notifier)(nil)
