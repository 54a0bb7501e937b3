// Package conn implements the resilient connection manager: one persistent
// bidirectional event channel to a backend that survives network flaps,
// bounds retry storms with a circuit breaker, prioritizes and acknowledges
// outbound messages, and reports connection-quality telemetry.
//
// A Manager owns its transport adapter exclusively. Every (re)connection
// constructs a fresh adapter; inbound callbacks from a replaced adapter are
// discarded, so a stale connection can never mutate current state.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/backoff"
	"github.com/lightforgemedia/go-wschannel/pkg/breaker"
	"github.com/lightforgemedia/go-wschannel/pkg/health"
	"github.com/lightforgemedia/go-wschannel/pkg/queue"
	"github.com/lightforgemedia/go-wschannel/pkg/transport"
	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

// State is the manager-level connection state.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
	StateReconnecting  State = "reconnecting"
)

// SendOptions tunes one Send call. The zero value means normal priority,
// the manager's default retry ceiling, no per-message timeout and no
// result callback.
type SendOptions struct {
	Priority wire.Priority
	// Timeout removes the message and fails its callback with
	// ErrMessageTimeout if no acknowledgment arrived in time. Independent
	// of the retry schedule.
	Timeout time.Duration
	// MaxRetries caps delivery retries after the initial attempt.
	// 0 uses the manager default; negative disables retries.
	MaxRetries int
	OnResult   func(err error, response json.RawMessage)
}

// Manager composes the transport adapter, circuit breaker, reconnection
// loop, message queue, health monitor and subscription registry behind one
// public surface.
type Manager struct {
	cfg config
	url string

	mu                sync.Mutex
	state             State
	tr                transport.Transport
	credential        string
	reconnectAttempts int
	reconnectCancel   context.CancelFunc
	destroyed         bool

	queue    *queue.Queue
	brk      *breaker.Breaker
	monitor  *health.Monitor
	registry *registry
	bus      *eventBus
}

// New returns an idle manager for the given endpoint. Nothing is dialed
// until Connect.
func New(url string, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newManager(url, cfg)
}

// NewWithOptions returns an idle manager configured from an Options struct.
func NewWithOptions(url string, opts Options) *Manager {
	cfg := defaultConfig()
	opts.apply(&cfg)
	return newManager(url, cfg)
}

func newManager(url string, cfg config) *Manager {
	m := &Manager{
		cfg:   cfg,
		url:   url,
		state: StateIdle,
		queue: queue.New(),
		brk:   breaker.New(cfg.breakerThreshold, cfg.breakerCooldown),
		bus:   newEventBus(),
	}
	m.registry = newRegistry(cfg.logger)
	m.monitor = health.NewMonitor(cfg.heartbeatInterval, cfg.logger, func(q health.Quality) {
		m.bus.publish(Event{Type: EventQualityChange, Quality: q})
	})
	if m.cfg.factory == nil {
		m.cfg.factory = func() transport.Transport {
			return transport.NewWebSocket(url,
				transport.WithLogger(cfg.logger),
				transport.WithWriteTimeout(cfg.writeTimeout))
		}
	}
	return m
}

// Connect establishes the channel, attaching credential to the handshake.
// Idempotent: returns nil immediately if already connected. Fails fast
// with ErrCircuitOpen while the breaker cooldown has not elapsed, and with
// ErrConnectInProgress while another attempt or the reconnect loop is
// driving the connection.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting, StateDisconnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	if !m.brk.Allow() {
		m.mu.Unlock()
		return ErrCircuitOpen
	}
	m.credential = credential
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if err := m.establish(ctx); err != nil {
		m.brk.RecordFailure()
		m.monitor.RecordError(err)
		m.bus.publish(Event{Type: EventError, Err: err})
		m.mu.Lock()
		if m.state == StateConnecting {
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// establish performs one connection attempt with a fresh adapter and, on
// success, installs it, restarts the health monitor and flushes the queue.
// Caller must have moved the manager into StateConnecting.
func (m *Manager) establish(ctx context.Context) error {
	m.mu.Lock()
	factory := m.cfg.factory
	credential := m.credential
	m.mu.Unlock()

	tr := factory()
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.connectTimeout)
	err := tr.Connect(dialCtx, credential)
	cancel()
	if err != nil {
		tr.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
		}
		return &TransportError{Op: "connect", Err: err}
	}

	m.mu.Lock()
	if m.destroyed || m.state != StateConnecting {
		// Torn down while dialing; this adapter must not go live.
		m.mu.Unlock()
		tr.Close()
		return ErrClosed
	}
	m.tr = tr
	m.reconnectAttempts = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.brk.RecordSuccess()
	m.monitor.SetReconnectAttempts(0)
	m.monitor.Start(m.sendPing)
	go m.readLoop(tr)
	m.bus.publish(Event{Type: EventConnected})
	m.cfg.logger.Info("connected", "url", m.url)
	m.flush(tr)
	return nil
}

// Disconnect tears the channel down: stops the health monitor, cancels any
// reconnect loop, fails every queued message with ErrClosed and closes the
// adapter. Safe to call multiple times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.reconnectCancel
	m.reconnectCancel = nil
	tr := m.tr
	m.tr = nil
	active := tr != nil || cancel != nil || m.state != StateIdle
	if !active {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateDisconnecting)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.monitor.Stop()
	m.queue.FailAll(ErrClosed)
	if tr != nil {
		tr.Close()
	}

	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
	m.bus.publish(Event{Type: EventDisconnected})
	m.cfg.logger.Info("disconnected", "url", m.url)
}

// Destroy disconnects, clears all subscriptions, fails all queued messages
// and shuts the lifecycle event bus down. Idempotent and safe from any
// state; the manager is unusable afterwards.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.mu.Unlock()

	m.Disconnect()
	m.registry.clear()
	m.queue.FailAll(ErrClosed)
	m.bus.shutdown()
}

// Send enqueues an outbound message and returns its ID immediately. If
// connected, delivery starts right away; otherwise the message waits for
// the next successful connection. The outcome reaches opts.OnResult: nil
// error with the backend's response on acknowledgment, or
// ErrMessageTimeout / ErrMaxRetries / ErrClosed.
func (m *Manager) Send(eventName string, payload any, opts *SendOptions) (string, error) {
	if opts == nil {
		opts = &SendOptions{}
	}
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	tr := m.tr
	m.mu.Unlock()

	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("wschannel: marshal %s payload: %w", eventName, err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = m.cfg.defaultMaxRetries
	}
	id := wire.NewID()
	msg := &queue.Message{
		ID:         id,
		Event:      eventName,
		Payload:    raw,
		Priority:   opts.Priority,
		MaxRetries: maxRetries,
		OnResult:   opts.OnResult,
	}
	m.queue.Enqueue(msg)
	if opts.Timeout > 0 {
		m.queue.ArmTimeout(id, opts.Timeout, ErrMessageTimeout)
	}
	if tr != nil {
		go m.deliver(tr, id)
	}
	return id, nil
}

// Subscribe registers handler for inbound events with the given name and
// returns an unsubscribe function. Handlers for one event fan out in
// registration order; a panicking handler is logged and contained.
func (m *Manager) Subscribe(eventName string, handler Handler) func() {
	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()
	if destroyed || handler == nil {
		return func() {}
	}
	return m.registry.add(eventName, handler)
}

// Events subscribes to lifecycle events, all types when none are given.
// The returned cancel function releases the subscription.
func (m *Manager) Events(types ...EventType) (<-chan Event, func()) {
	return m.bus.subscribe(types...)
}

// State returns the manager-level connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is currently up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Health returns the current connection-health snapshot.
func (m *Manager) Health() health.Snapshot {
	return m.monitor.Snapshot()
}

// QueueSize reports the number of queued, unacknowledged messages.
func (m *Manager) QueueSize() int {
	return m.queue.Len()
}

// BreakerState returns a snapshot of the circuit breaker.
func (m *Manager) BreakerState() breaker.State {
	return m.brk.State()
}

// setStateLocked transitions the state and emits status_change. Caller
// holds m.mu; publishing is non-blocking.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.bus.publish(Event{Type: EventStatusChange, State: s})
}

func (m *Manager) currentTransport() transport.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr
}

func (m *Manager) isCurrent(tr transport.Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr == tr
}

// readLoop consumes one adapter's inbound stream. It exits as soon as the
// adapter is no longer current, so a replaced connection cannot dispatch
// events or touch health state.
func (m *Manager) readLoop(tr transport.Transport) {
	for env := range tr.Receive() {
		if !m.isCurrent(tr) {
			return
		}
		m.handleInbound(tr, env)
	}
	if !m.isCurrent(tr) {
		return
	}
	m.handleConnectionLoss(tr)
}

func (m *Manager) handleInbound(tr transport.Transport, env *wire.Envelope) {
	switch env.Type {
	case wire.TypeAck:
		m.queue.Ack(env.ID, env.Payload)
	case wire.TypePong:
		m.monitor.HandlePong(env.ID)
	case wire.TypePing:
		pong := &wire.Envelope{ID: env.ID, Type: wire.TypePong, Payload: env.Payload}
		if err := tr.Send(context.Background(), pong); err != nil {
			m.cfg.logger.Debug("pong reply failed", "error", err)
		}
	case wire.TypeEvent:
		m.registry.dispatch(env.Topic, env.Payload)
	case wire.TypeError:
		err := errors.New("wschannel: backend error")
		if env.Error != nil {
			err = fmt.Errorf("wschannel: backend error %d: %s", env.Error.Code, env.Error.Message)
		}
		m.bus.publish(Event{Type: EventError, Err: err})
	default:
		m.cfg.logger.Debug("unknown envelope type", "type", env.Type)
	}
}

// handleConnectionLoss reacts to an unexpected transport drop (the inbound
// stream closed while the adapter was still current) by entering the
// reconnect loop. Caller-initiated disconnects never reach here because
// Disconnect replaces the adapter first.
func (m *Manager) handleConnectionLoss(tr transport.Transport) {
	m.mu.Lock()
	if m.destroyed || m.tr != tr {
		m.mu.Unlock()
		return
	}
	m.tr = nil
	m.setStateLocked(StateReconnecting)
	ctx, cancel := context.WithCancel(context.Background())
	m.reconnectCancel = cancel
	m.mu.Unlock()

	cause := tr.Err()
	tr.Close()
	m.monitor.Stop()
	m.monitor.RecordError(cause)
	m.bus.publish(Event{Type: EventDisconnected, Err: cause})
	m.cfg.logger.Warn("connection lost, reconnecting", "url", m.url, "error", cause)
	go m.reconnectLoop(ctx)
}

// reconnectLoop retries the connection with exponential backoff. The
// breaker is consulted before each attempt: a blocked attempt repeats the
// same backoff step without burning a breaker failure or an attempt slot.
// After the attempt ceiling the loop gives up, moves to idle and emits the
// terminal max_reconnect_failed event.
func (m *Manager) reconnectLoop(ctx context.Context) {
	bo := backoff.NewExponential(m.cfg.reconnectDelayMin, m.cfg.reconnectDelayMax)
	bo.Jitter = m.cfg.reconnectJitter

	attempts := 0
	delay := bo.Next()
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !m.brk.Allow() {
			m.cfg.logger.Debug("reconnect attempt blocked by circuit breaker", "delay", delay)
			continue
		}

		attempts++
		m.mu.Lock()
		if m.destroyed || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.reconnectAttempts = attempts
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()
		m.monitor.SetReconnectAttempts(attempts)
		m.cfg.logger.Info("reconnect attempt", "attempt", attempts, "max", m.cfg.maxReconnectAttempts)

		err := m.establish(ctx)
		if err == nil {
			m.mu.Lock()
			m.reconnectCancel = nil
			m.mu.Unlock()
			return
		}

		m.brk.RecordFailure()
		m.monitor.RecordError(err)
		m.bus.publish(Event{Type: EventError, Err: err})

		m.mu.Lock()
		if m.destroyed || m.state != StateConnecting {
			m.mu.Unlock()
			return
		}
		if attempts >= m.cfg.maxReconnectAttempts {
			m.setStateLocked(StateIdle)
			m.reconnectCancel = nil
			m.mu.Unlock()
			m.bus.publish(Event{Type: EventMaxReconnectFailed, Attempts: attempts, Err: err})
			m.cfg.logger.Error("reconnect attempts exhausted", "attempts", attempts)
			return
		}
		m.setStateLocked(StateReconnecting)
		m.mu.Unlock()
		delay = bo.Next()
	}
}

// flush re-delivers every queued message in priority order, ties broken by
// enqueue time. Runs after every successful (re)connection.
func (m *Manager) flush(tr transport.Transport) {
	pending := m.queue.Snapshot()
	if len(pending) == 0 {
		return
	}
	m.cfg.logger.Info("flushing queued messages", "count", len(pending))
	for _, msg := range pending {
		if !m.isCurrent(tr) {
			return
		}
		m.deliver(tr, msg.ID)
	}
}

// deliver attempts one transmission of a queued message. Acknowledgment
// arrives asynchronously through the read loop; only a transport-level
// send failure triggers the retry path.
func (m *Manager) deliver(tr transport.Transport, id string) {
	msg := m.queue.Get(id)
	if msg == nil {
		return // acked, timed out or failed meanwhile
	}
	env := &wire.Envelope{
		ID:       msg.ID,
		Type:     wire.TypeEvent,
		Topic:    msg.Event,
		Priority: msg.Priority,
		Payload:  msg.Payload,
	}
	if err := tr.Send(context.Background(), env); err != nil {
		if !m.isCurrent(tr) {
			// Stale adapter: leave the message queued for the next flush
			// without burning a retry.
			return
		}
		m.cfg.logger.Debug("delivery failed", "id", id, "event", msg.Event, "error", err)
		m.retry(id)
	}
}

// retry advances a message's retry schedule after a failed delivery
// attempt. Past the ceiling the message fails terminally; otherwise the
// next attempt is armed with per-message exponential backoff. A retry
// timer that fires while disconnected defers to the reconnect flush
// instead of consuming a retry.
func (m *Manager) retry(id string) {
	n := m.queue.IncRetry(id)
	if n < 0 {
		return
	}
	msg := m.queue.Get(id)
	if msg == nil {
		return
	}
	if n > msg.MaxRetries {
		m.queue.Fail(id, ErrMaxRetries)
		return
	}
	m.queue.ArmRetry(id, m.cfg.retryBackoff(n), func() {
		if m.queue.Get(id) == nil {
			return
		}
		tr := m.currentTransport()
		if tr == nil {
			return // disconnected; the reconnect flush will deliver it
		}
		m.deliver(tr, id)
	})
}

// sendPing transmits one liveness probe for the health monitor.
func (m *Manager) sendPing(id string, sentAt time.Time) error {
	tr := m.currentTransport()
	if tr == nil {
		return ErrClosed
	}
	env, err := wire.NewEnvelope(id, wire.TypePing, "", wire.PingPayload{SentAt: sentAt.UnixMilli()}, nil)
	if err != nil {
		return err
	}
	env.Priority = wire.PriorityLow
	return tr.Send(context.Background(), env)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
