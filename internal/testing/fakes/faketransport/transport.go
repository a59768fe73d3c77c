// Package faketransport provides a scriptable ports.Transport for testing.
package faketransport

import (
	"context"
	"sync"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Transport is a fake transport. Connect failures can be queued per call or
// set permanently; every call is counted.
type Transport struct {
	mu sync.Mutex

	connected    bool
	connectQueue []error
	connectErr   error
	connectHook  func(ctx context.Context) error

	execResult ports.ExecResult
	execErr    error
	commands   []string

	disconnectErr error

	connectCalls    int
	disconnectCalls int

	closeFns []func(error)
}

// New creates a fake transport whose calls all succeed.
func New() *Transport {
	return &Transport{}
}

// SetConnectError makes every Connect fail with err (nil restores success).
func (t *Transport) SetConnectError(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
	return t
}

// QueueConnectErrors makes the next len(errs) Connect calls return errs in
// order; a nil entry is a successful call. After the queue drains the
// SetConnectError value applies.
func (t *Transport) QueueConnectErrors(errs ...error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectQueue = append(t.connectQueue, errs...)
	return t
}

// SetConnectHook runs fn inside Connect before the scripted result. A non-nil
// return from fn replaces the scripted result.
func (t *Transport) SetConnectHook(fn func(ctx context.Context) error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectHook = fn
	return t
}

// SetExecuteResult sets what Execute returns.
func (t *Transport) SetExecuteResult(res ports.ExecResult, err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.execResult = res
	t.execErr = err
	return t
}

// SetDisconnectError sets an error for Disconnect. The session is still
// considered closed.
func (t *Transport) SetDisconnectError(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectErr = err
	return t
}

// Connect implements ports.Transport.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.connectCalls++
	hook := t.connectHook
	var err error
	if len(t.connectQueue) > 0 {
		err = t.connectQueue[0]
		t.connectQueue = t.connectQueue[1:]
	} else {
		err = t.connectErr
	}
	t.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			err = herr
		}
	}

	t.mu.Lock()
	t.connected = err == nil
	t.mu.Unlock()
	return err
}

// Execute implements ports.Transport.
func (t *Transport) Execute(ctx context.Context, command string) (ports.ExecResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands = append(t.commands, command)
	return t.execResult, t.execErr
}

// Disconnect implements ports.Transport.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectCalls++
	t.connected = false
	return t.disconnectErr
}

// IsConnected implements ports.Transport.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// OnClose implements ports.CloseNotifier.
func (t *Transport) OnClose(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeFns = append(t.closeFns, fn)
}

// --- Test inspection methods ---

// SimulateClose marks the session dead and fires the OnClose hooks.
func (t *Transport) SimulateClose(err error) {
	t.mu.Lock()
	t.connected = false
	fns := make([]func(error), len(t.closeFns))
	copy(fns, t.closeFns)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

// ConnectCalls returns how many times Connect was called.
func (t *Transport) ConnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

// DisconnectCalls returns how many times Disconnect was called.
func (t *Transport) DisconnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnectCalls
}

// Commands returns the commands passed to Execute.
func (t *Transport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// Ensure Transport implements the ports.
var (
	_ ports.Transport     = (*Transport)(nil)
	_ ports.CloseNotifier = (*Transport)(nil)
)
