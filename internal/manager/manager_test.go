package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acolita/sshkeeper/internal/connection"
	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/acolita/sshkeeper/internal/reconnect"
	"github.com/acolita/sshkeeper/internal/recovery"
	"github.com/acolita/sshkeeper/internal/state"
	"github.com/acolita/sshkeeper/internal/testing/fakes/fakeclock"
	"github.com/acolita/sshkeeper/internal/testing/fakes/fakefs"
	"github.com/acolita/sshkeeper/internal/testing/fakes/fakenotifier"
	"github.com/acolita/sshkeeper/internal/testing/fakes/fakerand"
	"github.com/acolita/sshkeeper/internal/testing/fakes/faketransport"
)

var (
	testNow     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	errTimedOut = errors.New("connect ETIMEDOUT 10.0.0.1:22")
)

type harness struct {
	mgr      *Manager
	clock    *fakeclock.Clock
	store    *state.FileStore
	notifier *fakenotifier.Notifier

	mu         sync.Mutex
	transports []*faketransport.Transport
	script     func(cfg connection.Config, tr *faketransport.Transport)
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:    fakeclock.New(testNow),
		notifier: fakenotifier.New(),
	}
	h.store = state.NewFileStore(
		state.WithFileSystem(fakefs.New()),
		state.WithPath("/state/connections.json"),
		state.WithClock(h.clock),
	)
	engine := reconnect.NewEngine(h.store,
		reconnect.WithClock(h.clock),
		reconnect.WithRandom(fakerand.NewZero()),
		reconnect.WithNotifier(h.notifier),
	)

	o := Options{
		Store:      h.store,
		Engine:     engine,
		Clock:      h.clock,
		Transports: h.newTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	mgr, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { mgr.Dispose(context.Background()) })
	h.mgr = mgr
	return h
}

func (h *harness) newTransport(cfg connection.Config) (ports.Transport, error) {
	tr := faketransport.New()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.script != nil {
		h.script(cfg, tr)
	}
	h.transports = append(h.transports, tr)
	return tr, nil
}

func (h *harness) transport(t *testing.T, i int) *faketransport.Transport {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.transports) {
		t.Fatalf("transport %d not built (have %d)", i, len(h.transports))
	}
	return h.transports[i]
}

func (h *harness) built() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

func validConfig() connection.Config {
	return connection.Config{
		Host:       "10.0.0.1",
		Username:   "deploy",
		AuthMethod: connection.AuthPassword,
		Password:   "hunter2",
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_RequiresStoreAndTransports(t *testing.T) {
	if _, err := New(Options{Transports: func(connection.Config) (ports.Transport, error) { return nil, nil }}); err == nil {
		t.Error("New without store succeeded")
	}
	if _, err := New(Options{Store: state.NewFileStore(state.WithFileSystem(fakefs.New()))}); err == nil {
		t.Error("New without transport factory succeeded")
	}
}

func TestConnect_Success(t *testing.T) {
	h := newHarness(t)

	conn, err := h.mgr.Connect(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	if conn.ID() != "conn-1" {
		t.Errorf("ID = %q, want conn-1", conn.ID())
	}
	if conn.Status() != connection.Connected {
		t.Errorf("Status = %v, want connected", conn.Status())
	}
	if conn.Config().Port != 22 {
		t.Errorf("Port = %d, want default 22", conn.Config().Port)
	}

	if got := h.mgr.ActiveConnections(); len(got) != 1 || got[0] != conn {
		t.Errorf("ActiveConnections() = %v", got)
	}
	if got, ok := h.mgr.Connection("conn-1"); !ok || got != conn {
		t.Error("Connection(conn-1) not found")
	}

	snap, ok, _ := h.store.Get("conn-1")
	if !ok {
		t.Fatal("no snapshot persisted")
	}
	if snap.Status != connection.Connected || snap.ReconnectAttempts != 0 || snap.Config.Host != "10.0.0.1" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.LastActivity.Equal(testNow) {
		t.Errorf("LastActivity = %v", snap.LastActivity)
	}
}

func TestConnect_InvalidConfigBuildsNoTransport(t *testing.T) {
	h := newHarness(t)

	cfg := validConfig()
	cfg.Password = ""
	_, err := h.mgr.Connect(context.Background(), cfg)

	ce, ok := recovery.AsConnectionError(err)
	if !ok || ce.Type != recovery.ConfigurationError {
		t.Fatalf("Connect() = %v, want configuration error", err)
	}
	if h.built() != 0 {
		t.Errorf("%d transports built for an invalid config", h.built())
	}
	if all, _ := h.store.All(); len(all) != 0 {
		t.Errorf("snapshots persisted: %+v", all)
	}
}

func TestConnect_FailureIsClassifiedAndNotKept(t *testing.T) {
	h := newHarness(t)
	h.script = func(_ connection.Config, tr *faketransport.Transport) { tr.SetConnectError(errTimedOut) }

	conn, err := h.mgr.Connect(context.Background(), validConfig())
	if conn != nil {
		t.Error("Connect() returned a connection on failure")
	}
	ce, ok := recovery.AsConnectionError(err)
	if !ok || ce.Type != recovery.NetworkTimeout {
		t.Fatalf("Connect() = %v, want network_timeout", err)
	}
	if ce.ConnectionID != "conn-1" {
		t.Errorf("ConnectionID = %q", ce.ConnectionID)
	}
	if len(h.mgr.ActiveConnections()) != 0 {
		t.Error("failed connection added to the live set")
	}
	if h.transport(t, 0).ConnectCalls() != 1 {
		t.Errorf("ConnectCalls = %d, want exactly 1", h.transport(t, 0).ConnectCalls())
	}

	snap, _, _ := h.store.Get("conn-1")
	if snap.Status != connection.Error || snap.LastError == nil || snap.LastError.Type != "network_timeout" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, first connect must not count", snap.ReconnectAttempts)
	}

	n, ok := h.notifier.WaitFor(func(n ports.Notification) bool { return n.Level == ports.LevelError }, 2*time.Second)
	if !ok {
		t.Fatal("no error notification")
	}
	if len(n.Details) != 4 {
		t.Errorf("Details = %v, want 4 steps", n.Details)
	}

	if err := h.mgr.Reconnect(context.Background(), "conn-1"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Reconnect(failed id) = %v, want ErrConnectionNotFound", err)
	}
}

func TestConnect_RetryAdoptsConnection(t *testing.T) {
	h := newHarness(t)
	h.script = func(_ connection.Config, tr *faketransport.Transport) { tr.QueueConnectErrors(errTimedOut) }

	var once sync.Once
	h.notifier.SetResponder(func(n ports.Notification) string {
		action := ""
		if n.Level == ports.LevelError {
			once.Do(func() { action = ports.ActionRetry })
		}
		return action
	})

	if _, err := h.mgr.Connect(context.Background(), validConfig()); err == nil {
		t.Fatal("first Connect() succeeded")
	}

	eventually(t, "retry to adopt the connection", func() bool {
		_, ok := h.mgr.Connection("conn-1")
		return ok
	})
	conn, _ := h.mgr.Connection("conn-1")
	if conn.Status() != connection.Connected {
		t.Errorf("Status = %v, want connected", conn.Status())
	}
}

func TestHandleExecError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}
	tr := h.transport(t, 0)

	ce := h.mgr.HandleExecError(ctx, conn, errors.New("permission denied"))
	if ce.Retryable() {
		t.Fatalf("Type = %v, want a non-retryable error", ce.Type)
	}
	if conn.Status() != connection.Error || h.mgr.Engine().IsReconnecting(conn.ID()) {
		t.Errorf("Status = %v, non-retryable failure must not reconnect", conn.Status())
	}

	ce = h.mgr.HandleExecError(ctx, conn, errors.New("write: broken pipe"))
	if !ce.Retryable() {
		t.Fatalf("Type = %v, want a retryable error", ce.Type)
	}
	eventually(t, "reconnection after exec failure", func() bool {
		return tr.ConnectCalls() == 2 && !h.mgr.Engine().IsReconnecting(conn.ID())
	})
	if conn.Status() != connection.Connected {
		t.Errorf("Status = %v, want connected", conn.Status())
	}
	snap, _, _ := h.store.Get(conn.ID())
	if snap.Status != connection.Connected || snap.LastError != nil {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHandleExecError_DisconnectedConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.Disconnect(ctx, conn.ID()); err != nil {
		t.Fatal(err)
	}

	h.mgr.HandleExecError(ctx, conn, errors.New("write: broken pipe"))

	if h.transport(t, 0).ConnectCalls() != 1 {
		t.Error("reconnection started for a disconnected connection")
	}
	if conn.Status() != connection.Disconnected {
		t.Errorf("Status = %v, want disconnected", conn.Status())
	}
	snap, _, _ := h.store.Get(conn.ID())
	if snap.Status != connection.Disconnected {
		t.Errorf("persisted status = %v, want disconnected", snap.Status)
	}
}

func TestActiveConnections_OrderedByID(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 11; i++ {
		if _, err := h.mgr.Connect(context.Background(), validConfig()); err != nil {
			t.Fatal(err)
		}
	}

	conns := h.mgr.ActiveConnections()
	for i, c := range conns {
		if want := fmt.Sprintf("conn-%d", i+1); c.ID() != want {
			t.Errorf("ActiveConnections()[%d] = %s, want %s", i, c.ID(), want)
		}
	}
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.mgr.Disconnect(ctx, "conn-9"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Disconnect(unknown) = %v, want ErrConnectionNotFound", err)
	}

	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}
	h.transport(t, 0).SetDisconnectError(errors.New("already closed"))

	if err := h.mgr.Disconnect(ctx, conn.ID()); err != nil {
		t.Fatalf("Disconnect() = %v", err)
	}
	if conn.Status() != connection.Disconnected {
		t.Errorf("Status = %v, want disconnected", conn.Status())
	}
	if _, ok := h.mgr.Connection(conn.ID()); ok {
		t.Error("connection still live after Disconnect")
	}
	if h.transport(t, 0).DisconnectCalls() != 1 {
		t.Errorf("DisconnectCalls = %d", h.transport(t, 0).DisconnectCalls())
	}
	snap, _, _ := h.store.Get(conn.ID())
	if snap.Status != connection.Disconnected {
		t.Errorf("persisted status = %v", snap.Status)
	}
}

func TestDisconnect_DuringReconnectDial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}
	tr := h.transport(t, 0)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	tr.SetConnectHook(func(context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- h.mgr.Reconnect(ctx, conn.ID()) }()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never dialed")
	}

	if err := h.mgr.Disconnect(ctx, conn.ID()); err != nil {
		t.Fatalf("Disconnect() = %v", err)
	}
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, reconnect.ErrReconnectCancelled) {
			t.Errorf("Reconnect() = %v, want ErrReconnectCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reconnect did not return")
	}

	if tr.IsConnected() {
		t.Error("transport left open after Disconnect")
	}
	if conn.Status() != connection.Disconnected {
		t.Errorf("Status = %v, want disconnected", conn.Status())
	}
	snap, _, _ := h.store.Get(conn.ID())
	if snap.Status != connection.Disconnected {
		t.Errorf("persisted status = %v, want disconnected", snap.Status)
	}
	if _, ok := h.mgr.Connection(conn.ID()); ok {
		t.Error("connection live again after Disconnect")
	}
}

func TestDisconnect_StopsPendingReconnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}
	tr := h.transport(t, 0)
	tr.SetExecuteResult(ports.ExecResult{}, errors.New("EOF"))
	tr.SetConnectError(errTimedOut)

	h.mgr.checkHealth(ctx)
	if !h.clock.BlockUntilWaiters(1, 2*time.Second) {
		t.Fatal("reconnection never reached its backoff wait")
	}

	if err := h.mgr.Disconnect(ctx, conn.ID()); err != nil {
		t.Fatalf("Disconnect() = %v", err)
	}
	eventually(t, "loop to stop", func() bool { return !h.mgr.Engine().IsReconnecting(conn.ID()) })

	tr.SetConnectError(nil)
	h.clock.Advance(time.Hour)

	if tr.ConnectCalls() != 2 {
		t.Errorf("ConnectCalls = %d, want initial + one attempt", tr.ConnectCalls())
	}
	if tr.IsConnected() {
		t.Error("transport open after Disconnect")
	}
	if conn.Status() != connection.Disconnected {
		t.Errorf("Status = %v, want disconnected", conn.Status())
	}
	snap, _, _ := h.store.Get(conn.ID())
	if snap.Status != connection.Disconnected {
		t.Errorf("persisted status = %v, want disconnected", snap.Status)
	}
}

func TestConnect_RepeatedFailuresLeaveNothingBehind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.script = func(_ connection.Config, tr *faketransport.Transport) { tr.SetConnectError(errTimedOut) }

	for i := 0; i < 3; i++ {
		if _, err := h.mgr.Connect(ctx, validConfig()); err == nil {
			t.Fatalf("Connect() %d succeeded", i)
		}
	}
	for i := 0; i < 3; i++ {
		h.notifier.WaitFor(func(n ports.Notification) bool {
			return n.ConnectionID == fmt.Sprintf("conn-%d", i+1) && n.Level == ports.LevelError
		}, 2*time.Second)
	}

	if n := len(h.mgr.ActiveConnections()); n != 0 {
		t.Errorf("%d connections live after failed connects", n)
	}
	for _, id := range []string{"conn-1", "conn-2", "conn-3"} {
		if _, ok := h.mgr.Connection(id); ok {
			t.Errorf("Connection(%s) found", id)
		}
		if err := h.mgr.Disconnect(ctx, id); !errors.Is(err, ErrConnectionNotFound) {
			t.Errorf("Disconnect(%s) = %v, want ErrConnectionNotFound", id, err)
		}
	}
}

func TestConnect_RetryAfterDisposeDropsSession(t *testing.T) {
	h := newHarness(t)
	h.script = func(_ connection.Config, tr *faketransport.Transport) { tr.QueueConnectErrors(errTimedOut) }

	disposed := make(chan struct{})
	var once sync.Once
	h.notifier.SetResponder(func(n ports.Notification) string {
		action := ""
		if n.Level == ports.LevelError {
			once.Do(func() {
				<-disposed
				action = ports.ActionRetry
			})
		}
		return action
	})

	if _, err := h.mgr.Connect(context.Background(), validConfig()); err == nil {
		t.Fatal("first Connect() succeeded")
	}
	h.mgr.Dispose(context.Background())
	close(disposed)

	tr := h.transport(t, 0)
	// One disconnect before the retry dial, one when the retried session is dropped.
	eventually(t, "retried session to be dropped", func() bool { return tr.DisconnectCalls() == 2 })
	if tr.IsConnected() {
		t.Error("transport open after Dispose")
	}
	if _, ok := h.mgr.Connection("conn-1"); ok {
		t.Error("connection adopted after Dispose")
	}
}

func TestDisconnectAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.mgr.Connect(ctx, validConfig()); err != nil {
			t.Fatal(err)
		}
	}
	h.transport(t, 1).SetDisconnectError(errors.New("broken pipe"))

	h.mgr.DisconnectAll(ctx)

	if n := len(h.mgr.ActiveConnections()); n != 0 {
		t.Errorf("%d connections left", n)
	}
	for i := 0; i < 3; i++ {
		if h.transport(t, i).DisconnectCalls() != 1 {
			t.Errorf("transport %d not disconnected", i)
		}
	}
}

func TestReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.mgr.Reconnect(ctx, "conn-1"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Reconnect(unknown) = %v", err)
	}

	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.Reconnect(ctx, conn.ID()); err != nil {
		t.Fatalf("Reconnect() = %v", err)
	}
	if h.transport(t, 0).ConnectCalls() != 2 {
		t.Errorf("ConnectCalls = %d, want 2", h.transport(t, 0).ConnectCalls())
	}
	if conn.Status() != connection.Connected {
		t.Errorf("Status = %v", conn.Status())
	}
}

func TestReconnectWithTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}
	h.transport(t, 0).SetConnectHook(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- h.mgr.ReconnectWithTimeout(ctx, conn.ID(), 10*time.Second) }()

	if !h.clock.BlockUntilWaiters(1, 2*time.Second) {
		t.Fatal("timeout never armed")
	}
	h.clock.Advance(10 * time.Second)

	select {
	case err := <-done:
		var te *reconnect.TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("ReconnectWithTimeout() = %v, want *TimeoutError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReconnectWithTimeout did not return")
	}
	if conn.Status() != connection.Error {
		t.Errorf("Status = %v, want error", conn.Status())
	}
}

func TestCheckHealth_Success(t *testing.T) {
	h := newHarness(t)
	conn, err := h.mgr.Connect(context.Background(), validConfig())
	if err != nil {
		t.Fatal(err)
	}

	h.mgr.checkHealth(context.Background())

	if cmds := h.transport(t, 0).Commands(); len(cmds) != 1 || cmds[0] != "echo ping" {
		t.Errorf("Commands = %v", cmds)
	}
	hm, ok := h.mgr.HealthMetrics(conn.ID())
	if !ok {
		t.Fatal("no health metrics")
	}
	if hm.Successes != 1 || hm.Failures != 0 || !hm.LastCheck.Equal(testNow) {
		t.Errorf("metrics = %+v", hm)
	}
	if conn.Status() != connection.Connected {
		t.Errorf("Status = %v", conn.Status())
	}
}

func TestCheckHealth_FailureStartsOneReconnection(t *testing.T) {
	h := newHarness(t)
	conn, err := h.mgr.Connect(context.Background(), validConfig())
	if err != nil {
		t.Fatal(err)
	}
	tr := h.transport(t, 0)
	tr.SetExecuteResult(ports.ExecResult{}, errors.New("EOF"))
	tr.SetConnectError(errTimedOut)

	h.mgr.checkHealth(context.Background())

	// The loop fails its first attempt and parks on the backoff delay.
	if !h.clock.BlockUntilWaiters(1, 2*time.Second) {
		t.Fatal("reconnection never reached its backoff wait")
	}
	if !h.mgr.Engine().IsReconnecting(conn.ID()) {
		t.Fatal("no reconnection running")
	}

	h.mgr.checkHealth(context.Background())
	h.mgr.checkHealth(context.Background())

	if n := len(tr.Commands()); n != 1 {
		t.Errorf("health check ran %d times, reconnecting connections must be skipped", n)
	}
	if tr.ConnectCalls() != 2 {
		t.Errorf("ConnectCalls = %d, want initial + one attempt", tr.ConnectCalls())
	}
	hm, _ := h.mgr.HealthMetrics(conn.ID())
	if hm.Failures != 1 || hm.LastError == "" {
		t.Errorf("metrics = %+v", hm)
	}

	h.mgr.Engine().CancelReconnection(conn.ID())
	eventually(t, "loop to stop", func() bool { return !h.mgr.Engine().IsReconnecting(conn.ID()) })
}

func TestCheckHealth_NonZeroExitFails(t *testing.T) {
	h := newHarness(t)
	conn, err := h.mgr.Connect(context.Background(), validConfig())
	if err != nil {
		t.Fatal(err)
	}
	h.transport(t, 0).SetExecuteResult(ports.ExecResult{ExitCode: 127}, nil)

	h.mgr.checkHealth(context.Background())

	hm, _ := h.mgr.HealthMetrics(conn.ID())
	if hm.Failures != 1 {
		t.Errorf("metrics = %+v, want one failure", hm)
	}
	eventually(t, "reconnection to finish", func() bool {
		return conn.Status() == connection.Connected && !h.mgr.Engine().IsReconnecting(conn.ID())
	})
}

func TestHealthLoop_RunsOnTick(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.HealthCheckCommand = "true" })
	if _, err := h.mgr.Connect(context.Background(), validConfig()); err != nil {
		t.Fatal(err)
	}

	tickers := h.clock.Tickers()
	if len(tickers) != 1 {
		t.Fatalf("len(Tickers) = %d, want 1", len(tickers))
	}
	tickers[0].Tick()

	eventually(t, "health check", func() bool { return len(h.transport(t, 0).Commands()) == 1 })
	if cmd := h.transport(t, 0).Commands()[0]; cmd != "true" {
		t.Errorf("command = %q", cmd)
	}
}

func TestCloseNotification_StartsReconnection(t *testing.T) {
	h := newHarness(t)
	conn, err := h.mgr.Connect(context.Background(), validConfig())
	if err != nil {
		t.Fatal(err)
	}

	h.transport(t, 0).SimulateClose(errors.New("keepalive timeout"))

	eventually(t, "reconnection after close", func() bool {
		return h.transport(t, 0).ConnectCalls() == 2 && conn.Status() == connection.Connected
	})
	if _, ok := h.notifier.WaitFor(func(n ports.Notification) bool { return n.Level == ports.LevelInfo }, 2*time.Second); !ok {
		t.Error("no reconnected notification")
	}
}

func TestCloseNotification_IgnoredAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	conn, err := h.mgr.Connect(context.Background(), validConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.Disconnect(context.Background(), conn.ID()); err != nil {
		t.Fatal(err)
	}

	h.transport(t, 0).SimulateClose(errors.New("EOF"))
	time.Sleep(20 * time.Millisecond)

	if h.transport(t, 0).ConnectCalls() != 1 {
		t.Errorf("ConnectCalls = %d, closed connection was reconnected", h.transport(t, 0).ConnectCalls())
	}
}

func TestRestoreConnections(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Secrets = func(cfg connection.Config) (connection.Config, error) {
			if cfg.Host == "no-secret" {
				return cfg, errors.New("keyring locked")
			}
			cfg.Password = "from-keyring"
			return cfg, nil
		}
	})
	h.script = func(cfg connection.Config, tr *faketransport.Transport) {
		if cfg.Host == "down" {
			tr.SetConnectError(errors.New("connect ECONNREFUSED down:22"))
		}
	}

	seed := func(id, host string, status connection.Status) {
		cfg := connection.Config{Host: host, Port: 22, Username: "deploy", AuthMethod: connection.AuthPassword, Password: "x"}
		if _, err := h.store.Update(id, state.Update{Status: state.StatusPtr(status), Config: &cfg}); err != nil {
			t.Fatal(err)
		}
	}
	seed("conn-3", "up", connection.Connected)
	seed("conn-5", "down", connection.Connected)
	seed("conn-6", "no-secret", connection.Connected)
	seed("conn-7", "idle", connection.Disconnected)

	restored, err := h.mgr.RestoreConnections(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if restored != 1 {
		t.Errorf("restored = %d, want 1", restored)
	}

	conn, ok := h.mgr.Connection("conn-3")
	if !ok {
		t.Fatal("conn-3 not restored under its id")
	}
	if conn.Config().Password != "from-keyring" {
		t.Error("secret resolver not applied")
	}

	snap, _, _ := h.store.Get("conn-5")
	if snap.Status != connection.Error || snap.LastError == nil || snap.LastError.Type != "connection_refused" {
		t.Errorf("conn-5 snapshot = %+v", snap)
	}
	snap, _, _ = h.store.Get("conn-6")
	if snap.Status != connection.Error || snap.LastError == nil || snap.LastError.Type != "configuration_error" {
		t.Errorf("conn-6 snapshot = %+v", snap)
	}
	snap, _, _ = h.store.Get("conn-7")
	if snap.Status != connection.Disconnected {
		t.Errorf("conn-7 touched: %+v", snap)
	}

	fresh, err := h.mgr.Connect(context.Background(), validConfig())
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID() != "conn-8" {
		t.Errorf("new id = %s, want conn-8", fresh.ID())
	}
}

func TestDispose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conn, err := h.mgr.Connect(ctx, validConfig())
	if err != nil {
		t.Fatal(err)
	}

	h.mgr.Dispose(ctx)
	h.mgr.Dispose(ctx)

	if !h.clock.Tickers()[0].Stopped() {
		t.Error("health ticker not stopped")
	}
	if h.transport(t, 0).DisconnectCalls() != 1 {
		t.Errorf("DisconnectCalls = %d", h.transport(t, 0).DisconnectCalls())
	}
	if len(h.mgr.ActiveConnections()) != 0 {
		t.Error("live set not emptied")
	}

	snap, _, _ := h.store.Get(conn.ID())
	if snap.Status != connection.Connected {
		t.Errorf("persisted status = %v, Dispose must keep it for restore", snap.Status)
	}
}

func TestCompareIDs(t *testing.T) {
	if compareIDs("conn-2", "conn-10") >= 0 {
		t.Error("conn-2 should sort before conn-10")
	}
	if compareIDs("conn-10", "conn-10") != 0 {
		t.Error("equal ids")
	}
	if compareIDs("alpha", "conn-1") >= 0 {
		t.Error("non-numeric ids fall back to string order")
	}
}

func TestConnect_ResolvesSecrets(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Secrets = func(cfg connection.Config) (connection.Config, error) {
			if cfg.Host == "locked" {
				return cfg, errors.New("keyring locked")
			}
			cfg.Password = "resolved"
			return cfg, nil
		}
	})

	cfg := validConfig()
	cfg.Password = ""
	conn, err := h.mgr.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if conn.Config().Password != "resolved" {
		t.Errorf("Password = %q", conn.Config().Password)
	}

	cfg.Host = "locked"
	_, err = h.mgr.Connect(context.Background(), cfg)
	ce, ok := recovery.AsConnectionError(err)
	if !ok || ce.Type != recovery.ConfigurationError {
		t.Fatalf("Connect() = %v, want configuration error", err)
	}
	if h.built() != 1 {
		t.Errorf("transports built = %d, want 1", h.built())
	}
}
