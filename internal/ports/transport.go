package ports

import "context"

// ExecResult is the outcome of a remote command. A non-zero ExitCode is not
// a transport failure.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Transport is a single remote shell session. The lifecycle engine only
// ever calls these four operations; the wire protocol lives behind them.
type Transport interface {
	// Connect establishes the session. It returns the raw failure on error.
	Connect(ctx context.Context) error

	// Execute runs command on the remote side.
	Execute(ctx context.Context, command string) (ExecResult, error)

	// Disconnect tears the session down. Errors are informational only;
	// the session is considered gone afterwards.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the session is believed to be alive.
	IsConnected() bool
}

// CloseNotifier is implemented by transports that can report an unexpected
// session close (keepalive failure, remote hangup).
type CloseNotifier interface {
	// OnClose registers fn to be called once per unexpected close.
	OnClose(fn func(err error))
}
