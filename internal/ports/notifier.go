package ports

import "context"

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification actions understood by the reconnection engine.
const (
	ActionShowDetails = "Show Details"
	ActionRetry       = "Retry"
	ActionCancel      = "Cancel"
)

// Notification is a structured request to tell the user something.
type Notification struct {
	Level        string
	ConnectionID string
	Message      string
	Details      []string // troubleshooting steps, if any
	Actions      []string // labels the user may pick from
}

// Notifier is the user-facing notification sink.
type Notifier interface {
	// Notify presents n and returns the action the user picked, or "" when
	// the sink does not collect responses. It may block until the user answers.
	Notify(ctx context.Context, n Notification) (string, error)
}
