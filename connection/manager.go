package connection

import (
	"context"
	"sync"
	"time"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/errors"
	"github.com/c360/sessioncore/logging"
	"github.com/c360/sessioncore/message"
	"github.com/c360/sessioncore/metric"
	"github.com/c360/sessioncore/pkg/buffer"
	"github.com/c360/sessioncore/pkg/cache"
	"github.com/c360/sessioncore/pkg/retry"
)

const componentName = "ConnectionManager"

// Transport re-establishes client links and delivers outbound
// envelopes. Implementations must be safe for concurrent use.
type Transport interface {
	// Connect attempts to bring the client's link back up.
	Connect(ctx context.Context, clientID string) error

	// Send delivers an envelope to a connected client.
	Send(ctx context.Context, clientID string, env message.Envelope) error
}

// Manager tracks per-client connection state, drives automatic
// reconnection with exponential backoff, monitors heartbeats, and
// queues outbound traffic while a client is offline.
type Manager struct {
	cfg       config.ConnectionConfig
	retryCfg  retry.Config
	transport Transport
	logger    *logging.Logger
	metrics   *metric.Metrics

	mu      sync.RWMutex
	records map[string]*record

	// snapshots caches data served to clients while offline.
	snapshots cache.Cache[map[string]any]

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager creates a connection manager. transport may not be nil;
// metrics may be nil to disable instrumentation.
func NewManager(cfg config.ConnectionConfig, transport Transport, logger *logging.Logger, metrics *metric.Metrics) (*Manager, error) {
	if transport == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "NewManager", "transport is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(componentName, "", nil, nil)
	}

	snapshots, err := cache.New[map[string]any](1024,
		cache.WithCleanupInterval[map[string]any](cfg.SnapshotTTL))
	if err != nil {
		return nil, errors.Wrap(err, componentName, "NewManager", "create snapshot cache")
	}

	return &Manager{
		cfg: cfg,
		retryCfg: retry.Config{
			MaxAttempts:    cfg.Reconnection.MaxAttempts,
			BaseDelay:      cfg.Reconnection.BaseDelay,
			MaxDelay:       cfg.Reconnection.MaxDelay,
			Multiplier:     cfg.Reconnection.Multiplier,
			JitterFraction: cfg.Reconnection.JitterFraction,
		},
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		records:   make(map[string]*record),
		snapshots: snapshots,
	}, nil
}

// Start launches the heartbeat monitor. The provided context bounds all
// background work, including reconnection loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.ErrAlreadyStarted
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	m.wg.Add(1)
	go m.heartbeatMonitor()

	m.logger.Info("connection manager started",
		"heartbeat_interval", m.cfg.Heartbeat.Interval,
		"outbox_capacity", m.cfg.OutboxCapacity)
	return nil
}

// Stop cancels background work and releases resources. Safe to call
// once after Start.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return errors.ErrNotStarted
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	for _, r := range m.records {
		_ = r.outbox.Close()
	}
	m.mu.Unlock()

	_ = m.snapshots.Close()
	m.logger.Info("connection manager stopped")
	return nil
}

// Register creates a tracking record for a new client in the
// connecting state. Registering an existing client is an error.
func (m *Manager) Register(clientID string) error {
	if clientID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, componentName, "Register", "empty client id")
	}

	outbox, err := buffer.New[message.Envelope](m.cfg.OutboxCapacity,
		buffer.WithOverflowPolicy[message.Envelope](buffer.DropOldest),
		buffer.WithDropCallback[message.Envelope](func(env message.Envelope) {
			m.logger.Warn("outbox full, dropped oldest queued message",
				"client_id", env.ClientID, "message_id", env.ID)
		}))
	if err != nil {
		return errors.Wrap(err, componentName, "Register", "create outbox")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[clientID]; exists {
		return errors.WrapInvalid(errors.ErrInvalidData, componentName, "Register",
			"client "+clientID+" already registered")
	}
	m.records[clientID] = &record{
		clientID:      clientID,
		state:         StateConnecting,
		autoReconnect: true,
		outbox:        outbox,
	}
	if m.metrics != nil {
		m.metrics.ConnectionsByState.WithLabelValues(string(StateConnecting)).Inc()
	}
	m.logger.Debug("client registered", "client_id", clientID)
	return nil
}

// Unregister removes a client record entirely.
func (m *Manager) Unregister(clientID string) error {
	m.mu.Lock()
	r, ok := m.records[clientID]
	if !ok {
		m.mu.Unlock()
		return notFound("Unregister", clientID)
	}
	if r.cancelReconnect != nil {
		r.cancelReconnect()
	}
	delete(m.records, clientID)
	if m.metrics != nil {
		m.metrics.ConnectionsByState.WithLabelValues(string(r.state)).Dec()
	}
	m.mu.Unlock()

	_ = r.outbox.Close()
	m.logger.Debug("client unregistered", "client_id", clientID)
	return nil
}

// SetState moves a client to the given state, enforcing the legal
// transition table. Illegal transitions leave the record unchanged.
func (m *Manager) SetState(clientID string, to State, reason string) error {
	if !to.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, componentName, "SetState",
			"unknown state "+string(to))
	}

	m.mu.Lock()
	r, ok := m.records[clientID]
	if !ok {
		m.mu.Unlock()
		return notFound("SetState", clientID)
	}
	from, flush, err := m.transitionLocked(r, to, reason)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.announce(clientID, from, to, reason)
	if flush {
		m.flushOutbox(r)
	}
	return nil
}

// transitionLocked applies a state change. Caller holds the write lock
// and must call announce after releasing it. Returns the previous state
// and whether the outbox should be flushed. A transition into the
// terminal disconnected state destroys the record.
func (m *Manager) transitionLocked(r *record, to State, reason string) (State, bool, error) {
	from := r.state
	if !from.CanTransition(to) {
		return from, false, errors.WrapInvalid(errors.ErrConnectionState, componentName, "SetState",
			"cannot move "+r.clientID+" from "+string(from)+" to "+string(to))
	}

	r.state = to
	r.recordTransition(from, to, reason, m.cfg.HistoryLimit)

	switch to {
	case StateConnected:
		r.connectedAt = time.Now().UTC()
		r.lastHeartbeat = r.connectedAt
		r.missedHeartbeats = 0
		r.reconnectAttempts = 0
		if r.cancelReconnect != nil {
			r.cancelReconnect()
			r.cancelReconnect = nil
		}
	case StateOffline, StateFailed:
		if r.cancelReconnect != nil {
			r.cancelReconnect()
			r.cancelReconnect = nil
		}
	case StateDisconnected:
		if r.cancelReconnect != nil {
			r.cancelReconnect()
			r.cancelReconnect = nil
		}
		delete(m.records, r.clientID)
		_ = r.outbox.Close()
	}

	if m.metrics != nil {
		m.metrics.ConnectionsByState.WithLabelValues(string(from)).Dec()
		if to != StateDisconnected {
			m.metrics.ConnectionsByState.WithLabelValues(string(to)).Inc()
		}
	}

	return from, to == StateConnected && !r.outbox.IsEmpty(), nil
}

// announce logs and publishes a state change. Runs after the record
// lock is released so a slow log sink cannot stall the manager.
func (m *Manager) announce(clientID string, from, to State, reason string) {
	m.logger.Info("connection state changed",
		"client_id", clientID, "from", from, "to", to, "reason", reason)
	m.logger.PublishEvent(context.Background(), "state_change", map[string]any{
		"client_id": clientID,
		"from":      string(from),
		"to":        string(to),
		"reason":    reason,
	})
}

// GetState returns the client's current state.
func (m *Manager) GetState(clientID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[clientID]
	if !ok {
		return "", notFound("GetState", clientID)
	}
	return r.state, nil
}

// Get returns a full snapshot of the client's record.
func (m *Manager) Get(clientID string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[clientID]
	if !ok {
		return Info{}, notFound("Get", clientID)
	}
	return r.snapshot(), nil
}

// List returns snapshots of every tracked connection.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.snapshot())
	}
	return out
}

// EnableReconnection turns automatic reconnection on for a client.
func (m *Manager) EnableReconnection(clientID string) error {
	return m.setAutoReconnect(clientID, true)
}

// DisableReconnection turns automatic reconnection off. A running
// reconnection loop is cancelled.
func (m *Manager) DisableReconnection(clientID string) error {
	return m.setAutoReconnect(clientID, false)
}

func (m *Manager) setAutoReconnect(clientID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[clientID]
	if !ok {
		return notFound("setAutoReconnect", clientID)
	}
	r.autoReconnect = enabled
	if !enabled && r.cancelReconnect != nil {
		r.cancelReconnect()
		r.cancelReconnect = nil
	}
	return nil
}

// ForceReconnection moves the client to reconnecting and starts a fresh
// backoff cycle immediately, regardless of the auto-reconnect setting.
func (m *Manager) ForceReconnection(clientID string) error {
	m.mu.Lock()
	r, ok := m.records[clientID]
	if !ok {
		m.mu.Unlock()
		return notFound("ForceReconnection", clientID)
	}
	if r.cancelReconnect != nil {
		r.cancelReconnect()
		r.cancelReconnect = nil
	}
	var from State
	transitioned := false
	if r.state != StateReconnecting {
		f, _, err := m.transitionLocked(r, StateReconnecting, "forced")
		if err != nil {
			m.mu.Unlock()
			return err
		}
		from, transitioned = f, true
	}
	r.reconnectAttempts = 0
	m.startReconnectLoopLocked(r)
	m.mu.Unlock()

	if transitioned {
		m.announce(clientID, from, StateReconnecting, "forced")
	}
	return nil
}

// EnterOfflineMode moves the client to offline. Outbound traffic queues
// in the outbox until the link returns.
func (m *Manager) EnterOfflineMode(clientID string) error {
	return m.SetState(clientID, StateOffline, "offline_requested")
}

// ExitOfflineMode starts reconnection from offline mode.
func (m *Manager) ExitOfflineMode(clientID string) error {
	m.mu.Lock()
	r, ok := m.records[clientID]
	if !ok {
		m.mu.Unlock()
		return notFound("ExitOfflineMode", clientID)
	}
	from, _, err := m.transitionLocked(r, StateReconnecting, "offline_exit")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	r.reconnectAttempts = 0
	m.startReconnectLoopLocked(r)
	m.mu.Unlock()

	m.announce(clientID, from, StateReconnecting, "offline_exit")
	return nil
}

// Heartbeat records a liveness signal from the client and resets its
// missed-heartbeat count.
func (m *Manager) Heartbeat(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[clientID]
	if !ok {
		return notFound("Heartbeat", clientID)
	}
	r.lastHeartbeat = time.Now().UTC()
	r.missedHeartbeats = 0
	return nil
}

// Send delivers an envelope to the client. Connected clients get it
// immediately; clients that are offline, reconnecting, or still
// connecting have it queued in the outbox for replay. Terminal states
// reject the message.
func (m *Manager) Send(ctx context.Context, clientID string, env message.Envelope) error {
	m.mu.RLock()
	r, ok := m.records[clientID]
	if !ok {
		m.mu.RUnlock()
		return notFound("Send", clientID)
	}
	state := r.state
	outbox := r.outbox
	m.mu.RUnlock()

	switch state {
	case StateConnected:
		if err := m.transport.Send(ctx, clientID, env); err != nil {
			return errors.WrapTransient(err, componentName, "Send", "deliver to "+clientID)
		}
		return nil
	case StateOffline, StateReconnecting, StateConnecting:
		if err := outbox.Write(env); err != nil {
			return errors.WrapTransient(err, componentName, "Send", "queue for "+clientID)
		}
		m.logger.Debug("message queued for offline client",
			"client_id", clientID, "message_id", env.ID, "depth", outbox.Size())
		return nil
	default:
		return errors.WrapInvalid(errors.ErrConnectionState, componentName, "Send",
			"client "+clientID+" is "+string(state))
	}
}

// QueueMessage queues an envelope in the client's outbox without
// attempting delivery, regardless of state.
func (m *Manager) QueueMessage(clientID string, env message.Envelope) error {
	m.mu.RLock()
	r, ok := m.records[clientID]
	if !ok {
		m.mu.RUnlock()
		return notFound("QueueMessage", clientID)
	}
	outbox := r.outbox
	m.mu.RUnlock()

	if err := outbox.Write(env); err != nil {
		return errors.WrapTransient(err, componentName, "QueueMessage", "queue for "+clientID)
	}
	return nil
}

// CacheData stores a data snapshot served to the client while offline.
// Entries expire after the configured snapshot TTL.
func (m *Manager) CacheData(clientID, key string, data map[string]any) error {
	_, err := m.snapshots.Set(snapshotKey(clientID, key), data, m.cfg.SnapshotTTL)
	if err != nil {
		return errors.Wrap(err, componentName, "CacheData", "store snapshot "+key)
	}
	return nil
}

// GetCachedData retrieves a previously cached snapshot along with its
// age, so callers can mark stale data. Returns false when absent or
// expired.
func (m *Manager) GetCachedData(clientID, key string) (map[string]any, time.Duration, bool) {
	entry, ok := m.snapshots.GetEntry(snapshotKey(clientID, key))
	if !ok {
		return nil, 0, false
	}
	return entry.Value, entry.Age(), true
}

func snapshotKey(clientID, key string) string {
	return clientID + "/" + key
}

// heartbeatMonitor periodically checks connected clients for missed
// heartbeats and kicks off reconnection after the configured number of
// consecutive misses.
func (m *Manager) heartbeatMonitor() {
	defer m.wg.Done()

	interval := m.cfg.Heartbeat.CheckEvery
	if interval <= 0 {
		interval = m.cfg.Heartbeat.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkHeartbeats()
		}
	}
}

func (m *Manager) checkHeartbeats() {
	now := time.Now().UTC()

	m.mu.Lock()
	var stale []*record
	for _, r := range m.records {
		if r.state != StateConnected {
			continue
		}
		elapsed := now.Sub(r.lastHeartbeat)
		if elapsed < m.cfg.Heartbeat.Interval {
			continue
		}
		r.missedHeartbeats = int(elapsed / m.cfg.Heartbeat.Interval)
		if r.missedHeartbeats >= m.cfg.Heartbeat.MissesMax {
			stale = append(stale, r)
		}
	}
	type timeout struct {
		clientID string
		from     State
		missed   int
	}
	var timeouts []timeout
	for _, r := range stale {
		from, _, err := m.transitionLocked(r, StateReconnecting, "heartbeat_timeout")
		if err != nil {
			continue
		}
		timeouts = append(timeouts, timeout{r.clientID, from, r.missedHeartbeats})
		if r.autoReconnect {
			r.reconnectAttempts = 0
			m.startReconnectLoopLocked(r)
		}
	}
	m.mu.Unlock()

	for _, to := range timeouts {
		m.logger.Warn("heartbeat timeout", "client_id", to.clientID, "missed", to.missed)
		m.announce(to.clientID, to.from, StateReconnecting, "heartbeat_timeout")
	}
}

// startReconnectLoopLocked launches the backoff-driven reconnection
// goroutine for a record. Caller holds the write lock and has already
// moved the record to the reconnecting state.
func (m *Manager) startReconnectLoopLocked(r *record) {
	if m.ctx == nil {
		return
	}
	loopCtx, cancel := context.WithCancel(m.ctx)
	r.cancelReconnect = cancel

	m.wg.Add(1)
	go m.reconnectLoop(loopCtx, r.clientID)
}

// reconnectLoop attempts to restore the client's link with exponential
// backoff until it succeeds, attempts run out, or the context ends.
func (m *Manager) reconnectLoop(ctx context.Context, clientID string) {
	defer m.wg.Done()

	maxAttempts := m.cfg.Reconnection.MaxAttempts
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		m.mu.Lock()
		r, ok := m.records[clientID]
		if !ok || r.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		r.reconnectAttempts = attempt + 1
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.ReconnectAttempts.Inc()
		}

		err := m.transport.Connect(ctx, clientID)
		if err == nil {
			if serr := m.SetState(clientID, StateConnected, "reconnect_success"); serr != nil {
				m.logger.Error("reconnect landed in illegal state", serr, "client_id", clientID)
			}
			return
		}

		m.logger.Debug("reconnect attempt failed",
			"client_id", clientID, "attempt", attempt+1, "error", err)

		if waitErr := retry.Wait(ctx, m.retryCfg.Delay(attempt)); waitErr != nil {
			return
		}
	}

	if m.cfg.OfflineFallback {
		m.logger.Warn("reconnection exhausted, entering offline mode",
			"client_id", clientID, "attempts", maxAttempts)
		if err := m.SetState(clientID, StateOffline, "reconnect_exhausted"); err != nil {
			m.logger.Error("failed to enter offline mode", err, "client_id", clientID)
		}
		return
	}

	m.logger.Error("reconnection exhausted", errors.ErrReconnectionExhausted,
		"client_id", clientID, "attempts", maxAttempts)
	if err := m.SetState(clientID, StateFailed, "reconnect_exhausted"); err != nil {
		m.logger.Error("failed to mark connection failed", err, "client_id", clientID)
	}
}

// flushOutbox replays every queued envelope in FIFO order after the
// client comes back. Drain removes the items up front, so each message
// is delivered at most once even with concurrent reconnects.
func (m *Manager) flushOutbox(r *record) {
	queued := r.outbox.Drain()
	if len(queued) == 0 {
		return
	}

	m.logger.Info("flushing outbox", "client_id", r.clientID, "count", len(queued))
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, env := range queued {
		if err := m.transport.Send(ctx, r.clientID, env); err != nil {
			m.logger.Error("outbox flush delivery failed", err,
				"client_id", r.clientID, "message_id", env.ID)
		}
	}
}

func notFound(op, clientID string) error {
	return errors.WrapInvalid(errors.ErrConnectionNotFound, componentName, op,
		"client "+clientID+" not tracked")
}
