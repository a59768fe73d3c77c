// Package reconnect restores lost connections with jittered exponential
// backoff and reports terminal failures.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/sshkeeper/internal/adapters/lognotify"
	"github.com/acolita/sshkeeper/internal/adapters/realclock"
	"github.com/acolita/sshkeeper/internal/adapters/realrand"
	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/acolita/sshkeeper/internal/recovery"
	"github.com/acolita/sshkeeper/internal/state"
)

// ReconnectedFunc observes a successful reconnection.
type ReconnectedFunc func(conn *connection.Connection)

// Disposable undoes a registration.
type Disposable interface {
	Dispose()
}

// loop is the bookkeeping for one running reconnection. after runs once
// the id has been released, so a Retry answer can start a new loop.
type loop struct {
	delay *Delay
	after []func()
}

type registration struct {
	engine *Engine
	id     string
	fn     ReconnectedFunc
	once   sync.Once
}

// Dispose removes this registration only. Calling it again does nothing.
func (r *registration) Dispose() {
	r.once.Do(func() { r.engine.removeCallback(r) })
}

// Engine runs reconnection loops. At most one loop runs per connection id.
type Engine struct {
	store    state.Store
	notifier ports.Notifier
	clock    ports.Clock
	random   ports.Random

	mu        sync.Mutex
	settings  ports.ReconnectSettings
	active    map[string]*loop
	callbacks map[string][]*registration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for backoff waits and timestamps.
func WithClock(c ports.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRandom sets the source of backoff jitter.
func WithRandom(r ports.Random) Option {
	return func(e *Engine) { e.random = r }
}

// WithNotifier sets the notification sink.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithSettings sets the source of reconnection defaults.
func WithSettings(s ports.ReconnectSettings) Option {
	return func(e *Engine) { e.settings = s }
}

// NewEngine creates an engine persisting to store.
func NewEngine(store state.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		active:    make(map[string]*loop),
		callbacks: make(map[string][]*registration),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = realclock.New()
	}
	if e.random == nil {
		e.random = realrand.New()
	}
	if e.notifier == nil {
		e.notifier = lognotify.New(nil)
	}
	return e
}

// SetSettings swaps the settings source. Running loops keep the values they
// resolved when they started.
func (e *Engine) SetSettings(s ports.ReconnectSettings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
}

// Settings are the resolved reconnection parameters for one loop.
type Settings struct {
	MaxAttempts   int
	BackoffFactor float64
	InitialDelay  time.Duration
	MaxDelay      time.Duration
}

// ResolveSettings applies per-connection overrides, then the engine's
// settings source, then the package defaults.
func (e *Engine) ResolveSettings(cfg connection.Config) Settings {
	e.mu.Lock()
	src := e.settings
	e.mu.Unlock()

	s := Settings{
		MaxAttempts:   DefaultMaxAttempts,
		BackoffFactor: DefaultBackoffFactor,
		InitialDelay:  DefaultInitialDelay,
		MaxDelay:      DefaultMaxDelay,
	}
	if src != nil {
		if v := src.ReconnectAttempts(); v > 0 {
			s.MaxAttempts = v
		}
		if v := src.ReconnectBackoffFactor(); v > 0 {
			s.BackoffFactor = v
		}
		if v := src.ReconnectInitialDelay(); v > 0 {
			s.InitialDelay = v
		}
		if v := src.ReconnectMaxDelay(); v > 0 {
			s.MaxDelay = v
		}
	}
	if cfg.MaxReconnectAttempts > 0 {
		s.MaxAttempts = cfg.MaxReconnectAttempts
	}
	if cfg.ReconnectBackoffFactor > 0 {
		s.BackoffFactor = cfg.ReconnectBackoffFactor
	}
	if cfg.ReconnectInitialDelay > 0 {
		s.InitialDelay = cfg.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		s.MaxDelay = cfg.ReconnectMaxDelay
	}
	return s
}

// IsReconnecting reports whether a loop is running for id.
func (e *Engine) IsReconnecting(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[id]
	return ok
}

// CancelReconnection cancels the running loop for id. It reports whether a
// loop was running.
func (e *Engine) CancelReconnection(id string) bool {
	e.mu.Lock()
	l, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	l.delay.Cancel()
	return true
}

// OnReconnected registers fn to run after each successful reconnection of id.
func (e *Engine) OnReconnected(id string, fn ReconnectedFunc) Disposable {
	r := &registration{engine: e, id: id, fn: fn}
	e.mu.Lock()
	e.callbacks[id] = append(e.callbacks[id], r)
	e.mu.Unlock()
	return r
}

func (e *Engine) removeCallback(r *registration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.callbacks[r.id]
	for i, existing := range regs {
		if existing == r {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(e.callbacks, r.id)
	} else {
		e.callbacks[r.id] = regs
	}
}

// AttemptReconnection runs the retry loop for conn. If a loop is already
// running for the same id it returns nil immediately.
//
// It returns nil on success, ErrReconnectCancelled when cancelled, ctx.Err()
// when ctx ends, or the *recovery.ConnectionError that stopped the loop.
func (e *Engine) AttemptReconnection(ctx context.Context, conn *connection.Connection) error {
	err := e.attempt(ctx, conn)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if serr := conn.SetStatus(connection.Disconnected, "reconnection aborted"); serr != nil {
			slog.Debug("could not mark aborted connection",
				slog.String("connection_id", conn.ID()),
				slog.String("error", serr.Error()),
			)
		}
	}
	return err
}

// attempt is AttemptReconnection without the status change on ctx end.
func (e *Engine) attempt(ctx context.Context, conn *connection.Connection) error {
	id := conn.ID()
	l := &loop{delay: NewDelay(e.clock)}

	e.mu.Lock()
	if _, running := e.active[id]; running {
		e.mu.Unlock()
		slog.Debug("reconnection already in progress", slog.String("connection_id", id))
		return nil
	}
	e.active[id] = l
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.active[id] == l {
			delete(e.active, id)
		}
		e.mu.Unlock()
		for _, fn := range l.after {
			fn()
		}
	}()

	return e.run(ctx, conn, l)
}

func (e *Engine) run(ctx context.Context, conn *connection.Connection, l *loop) error {
	id := conn.ID()
	cfg := conn.Config()

	if err := conn.SetStatus(connection.Reconnecting, "reconnection started"); err != nil {
		if errors.Is(err, connection.ErrClosed) {
			slog.Debug("connection closed before reconnection started", slog.String("connection_id", id))
			return ErrReconnectCancelled
		}
		return fmt.Errorf("start reconnection: %w", err)
	}

	s := e.ResolveSettings(cfg)
	prior := 0
	if snap, ok, err := e.store.Get(id); err != nil {
		slog.Warn("failed to read connection state",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	} else if ok {
		prior = snap.ReconnectAttempts
	}

	slog.Info("starting reconnection",
		slog.String("connection_id", id),
		slog.String("host", cfg.Address()),
		slog.Int("max_attempts", s.MaxAttempts),
		slog.Int("prior_attempts", prior),
	)

	e.notify(ctx, ports.Notification{
		Level:        ports.LevelWarning,
		ConnectionID: id,
		Message:      fmt.Sprintf("Connection to %s lost. Reconnecting...", cfg.Label()),
		Actions:      []string{ports.ActionCancel},
	}, func(action string) {
		if action == ports.ActionCancel {
			l.delay.Cancel()
		}
	})

	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.delay.Cancelled() {
			return e.cancelled(conn)
		}

		slog.Debug("reconnection attempt",
			slog.String("connection_id", id),
			slog.Int("attempt", attempt),
		)

		err := conn.Reconnect(ctx)
		if err == nil {
			if l.delay.Cancelled() || conn.Closed() {
				return e.abandon(ctx, conn)
			}
			return e.succeeded(ctx, conn, attempt)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if conn.Closed() {
			return e.cancelled(conn)
		}

		ce := recovery.Classify(err, id, e.clock.Now())
		conn.SetLastError(ce)

		slog.Warn("reconnection attempt failed",
			slog.String("connection_id", id),
			slog.Int("attempt", attempt),
			slog.String("error_type", ce.Type.String()),
			slog.String("error", ce.Message),
		)

		if !ce.Retryable() || attempt == s.MaxAttempts {
			if !e.failed(ctx, conn, ce, attempt, l) {
				return ErrReconnectCancelled
			}
			return ce
		}

		e.persist(id, state.Update{ReconnectAttempts: state.IntPtr(attempt)})

		wait := CalculateBackoffDelay(attempt, s.InitialDelay, s.BackoffFactor, s.MaxDelay, jitterFraction(e.random))
		slog.Debug("waiting before next attempt",
			slog.String("connection_id", id),
			slog.Int("attempt", attempt),
			slog.Duration("delay", wait),
		)
		if err := l.delay.Wait(ctx, wait); err != nil && !errors.Is(err, ErrReconnectCancelled) {
			return err
		}
	}

	// MaxAttempts is always positive, so the loop returns before this.
	return e.cancelled(conn)
}

func (e *Engine) succeeded(ctx context.Context, conn *connection.Connection, attempt int) error {
	id := conn.ID()
	if err := conn.SetStatus(connection.Connected, fmt.Sprintf("reconnected after %d attempt(s)", attempt)); err != nil {
		if errors.Is(err, connection.ErrClosed) {
			return e.abandon(ctx, conn)
		}
		slog.Warn("unexpected status after reconnection",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	}
	if !e.commit(conn, state.Update{
		Status:            state.StatusPtr(connection.Connected),
		ReconnectAttempts: state.IntPtr(0),
		ClearError:        true,
	}) {
		return e.abandon(ctx, conn)
	}

	slog.Info("reconnected",
		slog.String("connection_id", id),
		slog.Int("attempt", attempt),
	)

	e.notify(ctx, ports.Notification{
		Level:        ports.LevelInfo,
		ConnectionID: id,
		Message:      fmt.Sprintf("Reconnected to %s.", conn.Config().Label()),
	}, nil)

	e.mu.Lock()
	regs := make([]*registration, len(e.callbacks[id]))
	copy(regs, e.callbacks[id])
	e.mu.Unlock()

	for _, r := range regs {
		r.fn(conn)
	}
	return nil
}

// failed records a terminal failure. It reports false when the connection
// was closed meanwhile, in which case nothing is announced.
func (e *Engine) failed(ctx context.Context, conn *connection.Connection, ce *recovery.ConnectionError, attempt int, l *loop) bool {
	id := conn.ID()
	if err := conn.SetStatus(connection.Error, ce.Message); err != nil {
		slog.Warn("unexpected status after failed reconnection",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	}
	if !e.commit(conn, state.Update{
		Status:            state.StatusPtr(connection.Error),
		LastError:         ce,
		ReconnectAttempts: state.IntPtr(attempt),
	}) {
		return false
	}

	slog.Error("reconnection failed",
		slog.String("connection_id", id),
		slog.Int("attempt", attempt),
		slog.String("error_type", ce.Type.String()),
		slog.String("error", ce.Message),
	)

	msg := fmt.Sprintf("Failed to reconnect to %s after %d attempt(s): %s", conn.Config().Label(), attempt, ce.Message)
	l.after = append(l.after, func() { e.notifyFailure(ctx, conn, ce, msg, nil) })
	return true
}

// abandon drops a session that came up after the loop was cancelled or the
// connection was closed.
func (e *Engine) abandon(ctx context.Context, conn *connection.Connection) error {
	if err := conn.Disconnect(context.WithoutCancel(ctx)); err != nil {
		slog.Debug("disconnect of abandoned session failed",
			slog.String("connection_id", conn.ID()),
			slog.String("error", err.Error()),
		)
	}
	return e.cancelled(conn)
}

func (e *Engine) cancelled(conn *connection.Connection) error {
	if err := conn.SetStatus(connection.Disconnected, "reconnection cancelled"); err != nil {
		slog.Debug("could not mark cancelled connection",
			slog.String("connection_id", conn.ID()),
			slog.String("error", err.Error()),
		)
	}
	slog.Info("reconnection cancelled", slog.String("connection_id", conn.ID()))
	return ErrReconnectCancelled
}

// AttemptReconnectionWithTimeout bounds AttemptReconnection by timeout on the
// engine clock. A non-positive timeout uses DefaultTimeout. On expiry the
// loop is stopped, the connection is marked Error and a *TimeoutError is
// returned.
func (e *Engine) AttemptReconnectionWithTimeout(ctx context.Context, conn *connection.Connection, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := e.clock.After(timeout)
	done := make(chan error, 1)
	go func() { done <- e.attempt(loopCtx, conn) }()

	var err error
	select {
	case err = <-done:
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			_ = conn.SetStatus(connection.Disconnected, "reconnection aborted")
		}
		return err
	case <-timer:
	}

	cancel()
	e.CancelReconnection(conn.ID())
	if err = <-done; err == nil {
		return nil
	}
	if conn.Closed() {
		return ErrReconnectCancelled
	}

	id := conn.ID()
	ce := recovery.Classify(fmt.Errorf("reconnection timeout after %s", timeout), id, e.clock.Now())
	conn.SetLastError(ce)
	if serr := conn.SetStatus(connection.Error, ce.Message); serr != nil {
		slog.Debug("could not mark timed out connection",
			slog.String("connection_id", id),
			slog.String("error", serr.Error()),
		)
	}
	if !e.commit(conn, state.Update{
		Status:    state.StatusPtr(connection.Error),
		LastError: ce,
	}) {
		return ErrReconnectCancelled
	}

	slog.Error("reconnection timed out",
		slog.String("connection_id", id),
		slog.Duration("timeout", timeout),
	)
	e.notifyFailure(ctx, conn, ce, fmt.Sprintf("Reconnection to %s timed out after %s.", conn.Config().Label(), timeout), nil)

	return &TimeoutError{ConnectionID: id, Timeout: timeout, Classified: ce}
}

// HandleSSHError classifies err, marks conn Error, persists and notifies.
// It returns the classification.
func (e *Engine) HandleSSHError(ctx context.Context, err error, conn *connection.Connection) *recovery.ConnectionError {
	return e.handleError(ctx, err, conn, nil)
}

// HandleConnectFailure is HandleSSHError for a connection whose first
// connect failed. settled runs once the failure notification is resolved:
// with true when a Retry answer brought conn up, false otherwise.
func (e *Engine) HandleConnectFailure(ctx context.Context, err error, conn *connection.Connection, settled func(reconnected bool)) *recovery.ConnectionError {
	return e.handleError(ctx, err, conn, settled)
}

func (e *Engine) handleError(ctx context.Context, err error, conn *connection.Connection, settled func(bool)) *recovery.ConnectionError {
	id := conn.ID()
	if err == nil {
		err = errors.New("unknown failure")
	}
	ce := recovery.Classify(err, id, e.clock.Now())
	conn.SetLastError(ce)

	if serr := conn.SetStatus(connection.Error, ce.Message); serr != nil {
		slog.Debug("could not mark failed connection",
			slog.String("connection_id", id),
			slog.String("error", serr.Error()),
		)
	}
	cfg := conn.Config()
	if !e.commit(conn, state.Update{
		Status:    state.StatusPtr(connection.Error),
		Config:    &cfg,
		LastError: ce,
	}) {
		if settled != nil {
			settled(false)
		}
		return ce
	}

	slog.Error("ssh error",
		slog.String("connection_id", id),
		slog.String("host", cfg.Address()),
		slog.String("error_type", ce.Type.String()),
		slog.String("error", ce.Message),
	)

	e.notifyFailure(ctx, conn, ce, fmt.Sprintf("Connection to %s failed: %s", cfg.Label(), ce.Message), settled)
	return ce
}

// notifyFailure sends an error notification whose Retry action starts a
// new reconnection loop. settled, if set, runs once the answer has been
// handled.
func (e *Engine) notifyFailure(ctx context.Context, conn *connection.Connection, ce *recovery.ConnectionError, message string, settled func(bool)) {
	e.notify(ctx, ports.Notification{
		Level:        ports.LevelError,
		ConnectionID: conn.ID(),
		Message:      message,
		Details:      ce.Steps,
		Actions:      []string{ports.ActionShowDetails, ports.ActionRetry},
	}, func(action string) {
		reconnected := false
		if action == ports.ActionRetry {
			slog.Info("retry requested", slog.String("connection_id", conn.ID()))
			err := e.AttemptReconnection(context.WithoutCancel(ctx), conn)
			if err != nil {
				slog.Debug("retry did not reconnect",
					slog.String("connection_id", conn.ID()),
					slog.String("error", err.Error()),
				)
			}
			reconnected = err == nil && conn.Status() == connection.Connected
		}
		if settled != nil {
			settled(reconnected)
		}
	})
}

// notify delivers n without blocking the caller. onAction, if set, receives
// the user's choice, or "" when there was none or delivery failed.
func (e *Engine) notify(ctx context.Context, n ports.Notification, onAction func(string)) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		action, err := e.notifier.Notify(ctx, n)
		if err != nil {
			slog.Debug("notification failed",
				slog.String("connection_id", n.ConnectionID),
				slog.String("error", err.Error()),
			)
			action = ""
		}
		if onAction != nil {
			onAction(action)
		}
	}()
}

// commit persists u for conn, then re-checks whether conn was closed. If it
// was, a non-Disconnected status is written back to Disconnected so the
// owner's close is always the last word, and commit reports false.
func (e *Engine) commit(conn *connection.Connection, u state.Update) bool {
	e.persist(conn.ID(), u)
	if !conn.Closed() {
		return true
	}
	if u.Status != nil && *u.Status != connection.Disconnected {
		e.persist(conn.ID(), state.Update{Status: state.StatusPtr(connection.Disconnected)})
	}
	return false
}

func (e *Engine) persist(id string, u state.Update) {
	if _, err := e.store.Update(id, u); err != nil {
		slog.Warn("failed to persist connection state",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	}
}
