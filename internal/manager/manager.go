// Package manager owns the set of live connections. It opens them, watches
// them with a periodic health check and hands lost ones to the reconnection
// engine.
package manager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acolita/sshkeeper/internal/adapters/realclock"
	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/acolita/sshkeeper/internal/reconnect"
	"github.com/acolita/sshkeeper/internal/recovery"
	"github.com/acolita/sshkeeper/internal/state"
)

// Health check defaults.
const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultHealthCheckCommand  = "echo ping"
)

const idPrefix = "conn-"

// ErrConnectionNotFound is returned for ids outside the live set.
var ErrConnectionNotFound = errors.New("connection not found")

// TransportFactory builds an unconnected transport for cfg.
type TransportFactory func(cfg connection.Config) (ports.Transport, error)

// SecretResolver fills in secret material for a config loaded from the
// state store, which never holds secrets.
type SecretResolver func(cfg connection.Config) (connection.Config, error)

// HealthMetrics counts health check outcomes for one connection.
type HealthMetrics struct {
	Successes int
	Failures  int
	LastCheck time.Time
	LastError string
}

// Options configures a Manager. Store and Transports are required.
type Options struct {
	Store      state.Store
	Transports TransportFactory
	Engine     *reconnect.Engine
	Clock      ports.Clock
	Secrets    SecretResolver

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	HealthCheckCommand  string
}

// Manager tracks live connections and keeps them healthy.
type Manager struct {
	store      state.Store
	engine     *reconnect.Engine
	transports TransportFactory
	clock      ports.Clock
	secrets    SecretResolver

	checkCommand string
	checkTimeout time.Duration

	mu       sync.RWMutex
	live     map[string]*connection.Connection
	metrics  map[string]*HealthMetrics
	nextID   int
	disposed bool

	ticker      ports.Ticker
	stop        chan struct{}
	done        chan struct{}
	disposeOnce sync.Once
}

// New creates a Manager and starts its health check loop.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Transports == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Engine == nil {
		opts.Engine = reconnect.NewEngine(opts.Store, reconnect.WithClock(opts.Clock))
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if opts.HealthCheckTimeout <= 0 {
		opts.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if opts.HealthCheckCommand == "" {
		opts.HealthCheckCommand = DefaultHealthCheckCommand
	}

	m := &Manager{
		store:        opts.Store,
		engine:       opts.Engine,
		transports:   opts.Transports,
		clock:        opts.Clock,
		secrets:      opts.Secrets,
		checkCommand: opts.HealthCheckCommand,
		checkTimeout: opts.HealthCheckTimeout,
		live:         make(map[string]*connection.Connection),
		metrics:      make(map[string]*HealthMetrics),
		nextID:       1,
		ticker:       opts.Clock.NewTicker(opts.HealthCheckInterval),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go m.healthLoop()
	return m, nil
}

// Engine returns the reconnection engine used by the manager.
func (m *Manager) Engine() *reconnect.Engine {
	return m.engine
}

// Connect resolves secrets, validates cfg, opens a new connection and adds
// it to the live set.
// A validation failure returns a configuration *recovery.ConnectionError
// before any transport is built; a connect failure returns the classified
// error and the connection is not kept.
func (m *Manager) Connect(ctx context.Context, cfg connection.Config) (*connection.Connection, error) {
	if m.secrets != nil {
		resolved, err := m.secrets(cfg)
		if err != nil {
			return nil, recovery.NewConfigurationError("", fmt.Sprintf("cannot resolve secrets: %v", err), m.clock.Now())
		}
		cfg = resolved
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(m.clock.Now()); err != nil {
		return nil, err
	}
	return m.open(ctx, m.newID(), cfg)
}

func (m *Manager) open(ctx context.Context, id string, cfg connection.Config) (*connection.Connection, error) {
	transport, err := m.transports(cfg)
	if err != nil {
		ce := recovery.NewConfigurationError(id, fmt.Sprintf("cannot build transport: %v", err), m.clock.Now())
		m.persist(id, state.Update{Status: state.StatusPtr(connection.Error), Config: &cfg, LastError: ce})
		return nil, ce
	}

	conn := connection.New(id, cfg, transport, m.clock)
	if cn, ok := transport.(ports.CloseNotifier); ok {
		cn.OnClose(func(err error) { m.handleClose(conn, err) })
	}

	if err := conn.SetStatus(connection.Connecting, "connect requested"); err != nil {
		return nil, err
	}

	slog.Info("connecting",
		slog.String("connection_id", id),
		slog.String("host", cfg.Address()),
		slog.String("user", cfg.Username),
	)

	if err := conn.Connect(ctx); err != nil {
		return nil, m.engine.HandleConnectFailure(ctx, err, conn, func(reconnected bool) {
			if reconnected {
				m.adopt(conn)
			}
		})
	}

	if err := conn.SetStatus(connection.Connected, "connected"); err != nil {
		slog.Warn("unexpected status after connect",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	m.live[id] = conn
	m.mu.Unlock()

	m.persist(id, state.Update{
		Status:            state.StatusPtr(connection.Connected),
		Config:            &cfg,
		ReconnectAttempts: state.IntPtr(0),
		ClearError:        true,
	})

	slog.Info("connected",
		slog.String("connection_id", id),
		slog.String("host", cfg.Address()),
	)
	return conn, nil
}

// adopt moves a connection whose first connect failed, and which a Retry
// brought up, into the live set.
func (m *Manager) adopt(conn *connection.Connection) {
	id := conn.ID()
	m.mu.Lock()
	disposed := m.disposed
	if !disposed {
		m.live[id] = conn
	}
	m.mu.Unlock()

	if disposed {
		if err := conn.Disconnect(context.Background()); err != nil {
			slog.Debug("transport disconnect failed",
				slog.String("connection_id", id),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	slog.Info("connection recovered by retry", slog.String("connection_id", id))
}

// handleClose reacts to a transport reporting an unexpected close.
func (m *Manager) handleClose(conn *connection.Connection, err error) {
	id := conn.ID()
	m.mu.RLock()
	_, live := m.live[id]
	m.mu.RUnlock()
	if !live || conn.Status() != connection.Connected || m.engine.IsReconnecting(id) {
		return
	}

	slog.Warn("session closed unexpectedly",
		slog.String("connection_id", id),
		slog.String("error", err.Error()),
	)
	m.startReconnection(conn)
}

// Disconnect closes the connection with id and removes it from the live set.
// The connection is closed for good: a reconnection in flight ends with
// ErrReconnectCancelled and drops any session it manages to open.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	conn, ok := m.live[id]
	if ok {
		delete(m.live, id)
		delete(m.metrics, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}

	conn.Close("disconnect requested")
	m.engine.CancelReconnection(id)

	if err := conn.Disconnect(ctx); err != nil {
		slog.Debug("transport disconnect failed",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	}
	m.persist(id, state.Update{Status: state.StatusPtr(connection.Disconnected)})

	slog.Info("disconnected", slog.String("connection_id", id))
	return nil
}

// Reconnect runs a reconnection loop for id and waits for it.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	conn, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.engine.AttemptReconnection(ctx, conn)
}

// ReconnectWithTimeout is Reconnect bounded by timeout.
func (m *Manager) ReconnectWithTimeout(ctx context.Context, id string, timeout time.Duration) error {
	conn, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.engine.AttemptReconnectionWithTimeout(ctx, conn, timeout)
}

// HandleExecError classifies a failed command on conn and records the
// error. A retryable failure on a live connection starts a background
// reconnection.
func (m *Manager) HandleExecError(ctx context.Context, conn *connection.Connection, err error) *recovery.ConnectionError {
	ce := m.engine.HandleSSHError(ctx, err, conn)
	if !ce.Retryable() || conn.Closed() {
		return ce
	}
	if cur, ok := m.Connection(conn.ID()); !ok || cur != conn {
		return ce
	}
	m.startReconnection(conn)
	return ce
}

// DisconnectAll disconnects every live connection. Failures are logged.
func (m *Manager) DisconnectAll(ctx context.Context) {
	for _, conn := range m.ActiveConnections() {
		if err := m.Disconnect(ctx, conn.ID()); err != nil {
			slog.Warn("disconnect failed",
				slog.String("connection_id", conn.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ActiveConnections returns the live set ordered by id.
func (m *Manager) ActiveConnections() []*connection.Connection {
	m.mu.RLock()
	conns := make([]*connection.Connection, 0, len(m.live))
	for _, conn := range m.live {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	slices.SortFunc(conns, func(a, b *connection.Connection) int {
		return compareIDs(a.ID(), b.ID())
	})
	return conns
}

// Connection returns the live connection with id.
func (m *Manager) Connection(id string) (*connection.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.live[id]
	return conn, ok
}

// HealthMetrics returns health check counters for id.
func (m *Manager) HealthMetrics(id string) (HealthMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hm, ok := m.metrics[id]
	if !ok {
		return HealthMetrics{}, false
	}
	return *hm, true
}

func (m *Manager) lookup(id string) (*connection.Connection, error) {
	conn, ok := m.Connection(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	return conn, nil
}

// RestoreConnections reopens every persisted connection whose last known
// status is connected, keeping its id. Failures are recorded in the store
// and do not stop the others.
func (m *Manager) RestoreConnections(ctx context.Context) (int, error) {
	snaps, err := m.store.All()
	if err != nil {
		return 0, fmt.Errorf("load connection state: %w", err)
	}

	for _, snap := range snaps {
		m.reserveID(snap.ConnectionID)
	}

	restored := 0
	for _, snap := range snaps {
		if snap.Status != connection.Connected {
			continue
		}
		id := snap.ConnectionID
		if _, ok := m.Connection(id); ok {
			continue
		}

		if err := m.restore(ctx, id, snap.Config.Config()); err != nil {
			slog.Warn("failed to restore connection",
				slog.String("connection_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}

	slog.Info("connections restored", slog.Int("count", restored))
	return restored, nil
}

func (m *Manager) restore(ctx context.Context, id string, cfg connection.Config) error {
	var err error
	if m.secrets != nil {
		if cfg, err = m.secrets(cfg); err != nil {
			ce := recovery.NewConfigurationError(id, fmt.Sprintf("cannot resolve secrets: %v", err), m.clock.Now())
			m.persist(id, state.Update{Status: state.StatusPtr(connection.Error), LastError: ce})
			return ce
		}
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(m.clock.Now()); err != nil {
		msg := err.Error()
		if invalid, ok := recovery.AsConnectionError(err); ok {
			msg = invalid.Message
		}
		ce := recovery.NewConfigurationError(id, msg, m.clock.Now())
		m.persist(id, state.Update{Status: state.StatusPtr(connection.Error), LastError: ce})
		return ce
	}

	_, err = m.open(ctx, id, cfg)
	return err
}

func (m *Manager) newID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nextID
	m.nextID++
	return idPrefix + strconv.Itoa(n)
}

// reserveID moves the counter past a persisted id.
func (m *Manager) reserveID(id string) {
	n, ok := idNumber(id)
	if !ok {
		return
	}
	m.mu.Lock()
	if n >= m.nextID {
		m.nextID = n + 1
	}
	m.mu.Unlock()
}

func idNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func compareIDs(a, b string) int {
	na, aok := idNumber(a)
	nb, bok := idNumber(b)
	if aok && bok {
		return cmp.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

func (m *Manager) healthLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case <-m.ticker.C():
			m.checkHealth(context.Background())
		}
	}
}

// checkHealth probes every connected connection that is not already being
// reconnected.
func (m *Manager) checkHealth(ctx context.Context) {
	var wg sync.WaitGroup
	for _, conn := range m.ActiveConnections() {
		if conn.Status() != connection.Connected || m.engine.IsReconnecting(conn.ID()) {
			continue
		}
		wg.Add(1)
		go func(conn *connection.Connection) {
			defer wg.Done()
			m.checkOne(ctx, conn)
		}(conn)
	}
	wg.Wait()
}

func (m *Manager) checkOne(ctx context.Context, conn *connection.Connection) {
	id := conn.ID()
	cctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	res, err := conn.Execute(cctx, m.checkCommand)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("health check exited with status %d", res.ExitCode)
	}
	m.record(id, err)

	if err == nil {
		return
	}

	slog.Warn("health check failed",
		slog.String("connection_id", id),
		slog.String("error", err.Error()),
	)
	if conn.Closed() {
		return
	}
	if serr := conn.SetStatus(connection.Disconnected, "health check failed: "+err.Error()); serr != nil {
		slog.Debug("could not mark unhealthy connection",
			slog.String("connection_id", id),
			slog.String("error", serr.Error()),
		)
		return
	}
	m.persist(id, state.Update{Status: state.StatusPtr(connection.Disconnected)})
	m.startReconnection(conn)
}

func (m *Manager) record(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, live := m.live[id]; !live {
		return
	}
	hm, ok := m.metrics[id]
	if !ok {
		hm = &HealthMetrics{}
		m.metrics[id] = hm
	}
	hm.LastCheck = m.clock.Now()
	if err != nil {
		hm.Failures++
		hm.LastError = err.Error()
	} else {
		hm.Successes++
		hm.LastError = ""
	}
}

func (m *Manager) startReconnection(conn *connection.Connection) {
	go func() {
		err := m.engine.AttemptReconnection(context.Background(), conn)
		if err != nil && !errors.Is(err, reconnect.ErrReconnectCancelled) {
			slog.Warn("background reconnection ended without a connection",
				slog.String("connection_id", conn.ID()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Dispose stops the health check loop and closes every transport. Persisted
// state is left as is so RestoreConnections can resume on the next start.
// Running reconnection loops are not interrupted.
func (m *Manager) Dispose(ctx context.Context) {
	m.disposeOnce.Do(func() {
		m.ticker.Stop()
		close(m.stop)
		<-m.done

		m.mu.Lock()
		conns := make([]*connection.Connection, 0, len(m.live))
		for _, conn := range m.live {
			conns = append(conns, conn)
		}
		m.live = make(map[string]*connection.Connection)
		m.disposed = true
		m.mu.Unlock()

		for _, conn := range conns {
			if err := conn.Disconnect(ctx); err != nil {
				slog.Debug("transport disconnect failed",
					slog.String("connection_id", conn.ID()),
					slog.String("error", err.Error()),
				)
			}
		}
		slog.Info("connection manager disposed", slog.Int("closed", len(conns)))
	})
}

func (m *Manager) persist(id string, u state.Update) {
	if _, err := m.store.Update(id, u); err != nil {
		slog.Warn("failed to persist connection state",
			slog.String("connection_id", id),
			slog.String("error", err.Error()),
		)
	}
}
