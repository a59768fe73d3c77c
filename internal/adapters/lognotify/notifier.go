// Package lognotify implements ports.Notifier by writing notifications to
// the structured log.
package lognotify

import (
	"context"
	"log/slog"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Notifier logs each notification. It never collects a response.
type Notifier struct {
	logger *slog.Logger
}

// New returns a Notifier writing to logger, or slog.Default() when nil.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

// Notify implements ports.Notifier.
func (n *Notifier) Notify(ctx context.Context, note ports.Notification) (string, error) {
	attrs := []any{
		slog.String("connection_id", note.ConnectionID),
	}
	if len(note.Details) > 0 {
		attrs = append(attrs, slog.Any("steps", note.Details))
	}
	if len(note.Actions) > 0 {
		attrs = append(attrs, slog.Any("actions", note.Actions))
	}

	n.logger.Log(ctx, level(note.Level), note.Message, attrs...)
	return "", nil
}

func level(l string) slog.Level {
	switch l {
	case ports.LevelError:
		return slog.LevelError
	case ports.LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

var _ ports.Notifier = (*Notifier)(nil)
