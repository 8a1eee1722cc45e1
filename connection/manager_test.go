package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/errors"
	"github.com/c360/sessioncore/logging"
	"github.com/c360/sessioncore/message"
)

// fakeTransport records sends and lets tests script connect outcomes.
type fakeTransport struct {
	mu          sync.Mutex
	sent        []message.Envelope
	connectErrs []error // consumed in order; empty means success
	connects    int
}

func (f *fakeTransport) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) == 0 {
		return nil
	}
	err := f.connectErrs[0]
	f.connectErrs = f.connectErrs[1:]
	return err
}

func (f *fakeTransport) Send(_ context.Context, _ string, env message.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.sent))
	for i, env := range f.sent {
		ids[i] = env.ID
	}
	return ids
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func testConfig() config.ConnectionConfig {
	cfg := config.Default().Connection
	cfg.Reconnection.BaseDelay = time.Millisecond
	cfg.Reconnection.MaxDelay = 5 * time.Millisecond
	cfg.Reconnection.MaxAttempts = 3
	cfg.Reconnection.JitterFraction = 0
	cfg.Heartbeat.Interval = 20 * time.Millisecond
	cfg.Heartbeat.CheckEvery = 5 * time.Millisecond
	cfg.Heartbeat.MissesMax = 2
	cfg.OutboxCapacity = 5
	return cfg
}

func newTestManager(t *testing.T, transport Transport) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(), transport, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func env(id string) message.Envelope {
	e := message.NewEnvelope("client-1", message.TypeChatResponse,
		message.ChatResponsePayload{Content: "x"}, message.PriorityNormal)
	e.ID = id
	return e
}

func waitForState(t *testing.T, m *Manager, clientID string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := m.GetState(clientID)
		require.NoError(t, err)
		if got == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	got, _ := m.GetState(clientID)
	t.Fatalf("state never reached %s, still %s", want, got)
}

func TestRegisterAndTransitions(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})

	require.NoError(t, m.Register("client-1"))
	state, err := m.GetState("client-1")
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, state)

	require.NoError(t, m.SetState("client-1", StateConnected, "handshake"))
	info, err := m.Get("client-1")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, info.State)
	assert.False(t, info.ConnectedAt.IsZero())
	require.Len(t, info.History, 1)
	assert.Equal(t, StateConnecting, info.History[0].From)
	assert.Equal(t, StateConnected, info.History[0].To)
}

func TestIllegalTransitionLeavesRecordUnchanged(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	require.NoError(t, m.Register("client-1"))

	err := m.SetState("client-1", StateOffline, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConnectionState))

	info, err := m.Get("client-1")
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, info.State)
	assert.Empty(t, info.History)
}

func TestDuplicateRegisterRejected(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	require.NoError(t, m.Register("client-1"))
	assert.Error(t, m.Register("client-1"))
}

func TestUnknownClient(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})

	_, err := m.GetState("ghost")
	assert.True(t, errors.Is(err, errors.ErrConnectionNotFound))
	assert.Error(t, m.Heartbeat("ghost"))
	assert.Error(t, m.SetState("ghost", StateConnected, ""))
}

func TestSendWhileConnectedDeliversDirectly(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport)
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))

	require.NoError(t, m.Send(context.Background(), "client-1", env("m1")))
	assert.Equal(t, []string{"m1"}, transport.sentIDs())
}

func TestOfflineQueueFlushesInOrderExactlyOnce(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport)
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))
	require.NoError(t, m.EnterOfflineMode("client-1"))

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, m.Send(context.Background(), "client-1", env(id)))
	}
	assert.Empty(t, transport.sentIDs())

	require.NoError(t, m.SetState("client-1", StateConnected, "link restored"))
	assert.Equal(t, []string{"m1", "m2", "m3"}, transport.sentIDs())

	// A second reconnect cycle must not replay the same messages.
	require.NoError(t, m.EnterOfflineMode("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, "again"))
	assert.Equal(t, []string{"m1", "m2", "m3"}, transport.sentIDs())

	info, err := m.Get("client-1")
	require.NoError(t, err)
	assert.Equal(t, 0, info.OutboxDepth)
}

func TestOutboxDropsOldestWhenFull(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport) // capacity 5
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))
	require.NoError(t, m.EnterOfflineMode("client-1"))

	for _, id := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		require.NoError(t, m.Send(context.Background(), "client-1", env(id)))
	}

	require.NoError(t, m.SetState("client-1", StateConnected, ""))
	assert.Equal(t, []string{"m3", "m4", "m5", "m6", "m7"}, transport.sentIDs())
}

func TestReconnectSucceedsAfterTransientFailures(t *testing.T) {
	transport := &fakeTransport{connectErrs: []error{assert.AnError, assert.AnError}}
	m := newTestManager(t, transport)
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))

	require.NoError(t, m.ForceReconnection("client-1"))
	waitForState(t, m, "client-1", StateConnected)
	assert.Equal(t, 3, transport.connectCount())
}

func TestReconnectExhaustionMovesToFailed(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{assert.AnError, assert.AnError, assert.AnError, assert.AnError},
	}
	m := newTestManager(t, transport) // max 3 attempts
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))

	require.NoError(t, m.ForceReconnection("client-1"))
	waitForState(t, m, "client-1", StateFailed)
	assert.Equal(t, 3, transport.connectCount())
}

func TestDisableReconnectionStopsLoop(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{assert.AnError, assert.AnError, assert.AnError, assert.AnError},
	}
	m := newTestManager(t, transport)
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))
	require.NoError(t, m.DisableReconnection("client-1"))

	// Heartbeat timeout should move to reconnecting but start no loop.
	time.Sleep(80 * time.Millisecond)
	waitForState(t, m, "client-1", StateReconnecting)
	assert.Equal(t, 0, transport.connectCount())
}

func TestHeartbeatTimeoutTriggersReconnection(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport)
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))

	// With heartbeats flowing the connection stays up.
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Heartbeat("client-1"))
		time.Sleep(10 * time.Millisecond)
	}
	state, err := m.GetState("client-1")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)

	// Stop heartbeating; after enough misses the monitor kicks in and
	// the scripted transport reconnects immediately.
	waitForState(t, m, "client-1", StateConnected)
	time.Sleep(80 * time.Millisecond)
	assert.GreaterOrEqual(t, transport.connectCount(), 1)
}

func TestSnapshotCache(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	require.NoError(t, m.Register("client-1"))

	data := map[string]any{"cpu": 0.42}
	require.NoError(t, m.CacheData("client-1", "system_status", data))

	got, age, ok := m.GetCachedData("client-1", "system_status")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.GreaterOrEqual(t, age, time.Duration(0))

	// Snapshots are scoped per client.
	_, _, ok = m.GetCachedData("client-2", "system_status")
	assert.False(t, ok)
}

func TestFailedStateRejectsSend(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))
	require.NoError(t, m.SetState("client-1", StateReconnecting, "link lost"))
	require.NoError(t, m.SetState("client-1", StateFailed, "gave up"))

	err := m.Send(context.Background(), "client-1", env("m1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConnectionState))
}

func TestDisconnectDestroysRecord(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))
	require.NoError(t, m.SetState("client-1", StateDisconnected, "bye"))

	_, err := m.GetState("client-1")
	assert.True(t, errors.Is(err, errors.ErrConnectionNotFound))
	err = m.Send(context.Background(), "client-1", env("m1"))
	assert.True(t, errors.Is(err, errors.ErrConnectionNotFound))

	// A returning client starts over with a fresh registration.
	require.NoError(t, m.Register("client-1"))
	state, err := m.GetState("client-1")
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, state)
}

func TestReconnectExhaustionFallsBackToOffline(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{assert.AnError, assert.AnError, assert.AnError, assert.AnError},
	}
	cfg := testConfig() // max 3 attempts
	cfg.OfflineFallback = true
	m, err := NewManager(cfg, transport, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })

	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.SetState("client-1", StateConnected, ""))
	require.NoError(t, m.ForceReconnection("client-1"))
	waitForState(t, m, "client-1", StateOffline)

	// Offline mode keeps local continuation: sends queue in the outbox.
	require.NoError(t, m.Send(context.Background(), "client-1", env("m1")))
	info, err := m.Get("client-1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.OutboxDepth)
}

// reentrantHandler calls back into the manager while handling a log
// record, the way a slow or instrumented sink might.
type reentrantHandler struct {
	slog.Handler
	manager func() *Manager
}

func (h *reentrantHandler) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Message == "connection state changed" {
		_, _ = h.manager().GetState("client-1")
	}
	return h.Handler.Handle(ctx, rec)
}

func TestStateChangeAnnouncedOutsideLock(t *testing.T) {
	var m *Manager
	h := &reentrantHandler{
		Handler: slog.NewTextHandler(io.Discard, nil),
		manager: func() *Manager { return m },
	}
	logger := logging.New("ConnectionManager", "", nil, slog.New(h))

	m, err := NewManager(testConfig(), &fakeTransport{}, logger, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })

	require.NoError(t, m.Register("client-1"))

	done := make(chan struct{})
	go func() {
		_ = m.SetState("client-1", StateConnected, "handshake")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("state change blocked behind its own log sink")
	}

	state, err := m.GetState("client-1")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)
}

func TestUnregisterRemovesRecord(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	require.NoError(t, m.Register("client-1"))
	require.NoError(t, m.Unregister("client-1"))
	_, err := m.GetState("client-1")
	assert.Error(t, err)
	assert.Error(t, m.Unregister("client-1"))
}
