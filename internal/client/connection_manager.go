package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concord-chat/helpdesk/internal/protocol"
)

// ConnectionState represents the state of the gateway connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateErrored
)

// String returns a human-readable string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// StateListener is notified of every connection state transition.
// Listeners run on the goroutine that caused the transition and must not call Connect or Disconnect.
type StateListener func(ConnectionState)

// MessageHandler receives the raw JSON body of a topic message
type MessageHandler func(body []byte)

type route struct {
	topic   string
	handler MessageHandler
}

// ConnectionManager owns the single connection of a session to the messaging gateway
type ConnectionManager struct {
	dialer   Dialer
	strategy *ReconnectStrategy
	logger   *slog.Logger
	metrics  *Metrics

	mu        sync.Mutex
	state     ConnectionState
	token     string
	gen       uint64 // bumped on every Connect/Disconnect; stale loops and deliveries compare against it
	cancel    context.CancelFunc
	transport Transport
	routes    map[string]route
	listeners []StateListener

	// notifyMu serializes listener calls so transitions are observed in order
	notifyMu sync.Mutex

	// deliverMu lets Disconnect wait for in-flight deliveries of the old generation
	deliverMu sync.RWMutex
}

// ManagerOption configures a ConnectionManager
type ManagerOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) ManagerOption {
	return func(cm *ConnectionManager) {
		if l != nil {
			cm.logger = l
		}
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *Metrics) ManagerOption {
	return func(cm *ConnectionManager) {
		if m != nil {
			cm.metrics = m
		}
	}
}

// WithReconnectStrategy sets the retry policy
func WithReconnectStrategy(rs *ReconnectStrategy) ManagerOption {
	return func(cm *ConnectionManager) {
		if rs != nil {
			cm.strategy = rs
		}
	}
}

// NewConnectionManager creates a new ConnectionManager
func NewConnectionManager(dialer Dialer, opts ...ManagerOption) *ConnectionManager {
	cm := &ConnectionManager{
		dialer:   dialer,
		strategy: DefaultReconnectStrategy(),
		logger:   slog.Default(),
		state:    StateDisconnected,
		routes:   make(map[string]route),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.metrics == nil {
		cm.metrics = NewMetrics(nil)
	}
	return cm
}

// OnStateChange registers a listener for state transitions
func (cm *ConnectionManager) OnStateChange(l StateListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, l)
}

// State returns the current connection state
func (cm *ConnectionManager) State() ConnectionState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Connected reports whether the connection is usable
func (cm *ConnectionManager) Connected() bool {
	return cm.State() == StateConnected
}

// Connect starts maintaining a connection authenticated with token.
// A different token than the running one forces a full disconnect first.
func (cm *ConnectionManager) Connect(token string) error {
	if token == "" {
		cm.logger.Warn("conn.connect skipped", "reason", ErrNoCredential)
		return ErrNoCredential
	}

	cm.mu.Lock()
	if cm.cancel != nil && cm.token == token {
		cm.mu.Unlock()
		return nil
	}
	running := cm.cancel != nil
	cm.mu.Unlock()

	if running {
		cm.Disconnect()
	}

	cm.mu.Lock()
	cm.gen++
	gen := cm.gen
	ctx, cancel := context.WithCancel(context.Background())
	cm.cancel = cancel
	cm.token = token
	cm.mu.Unlock()

	go cm.run(ctx, gen, token)
	return nil
}

// Disconnect tears down the connection and stops retrying.
// It is idempotent and returns only after the transport is closed.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	cm.gen++
	gen := cm.gen
	cancel, t := cm.cancel, cm.transport
	cm.cancel, cm.transport = nil, nil
	cm.token = ""
	cm.routes = make(map[string]route)
	changed := cm.state != StateDisconnected
	cm.state = StateDisconnected
	listeners := cm.snapshotListeners()
	cm.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		if err := t.Close(); err != nil {
			cm.logger.Debug("conn.close", "error", err)
		}
	}

	// Wait out deliveries that started before the generation changed
	cm.deliverMu.Lock()
	cm.deliverMu.Unlock()

	if changed {
		cm.metrics.ConnectionState.Set(float64(StateDisconnected))
		cm.logger.Info("conn.state", "state", StateDisconnected, "reason", "disconnect")
		cm.notify(gen, StateDisconnected, listeners)
	}
}

// Publish sends payload to an application destination.
// It never fails from the caller's point of view; problems are logged.
func (cm *ConnectionManager) Publish(destination string, payload interface{}) {
	cm.mu.Lock()
	t := cm.transport
	connected := cm.state == StateConnected
	cm.mu.Unlock()

	if !connected || t == nil {
		cm.metrics.PublishDropped.Inc()
		cm.logger.Warn("conn.publish dropped", "destination", destination, "reason", ErrNotConnected)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		cm.logger.Error("conn.publish encode", "destination", destination, "error", err)
		return
	}
	if err := t.Send(destination, body); err != nil {
		cm.metrics.PublishDropped.Inc()
		cm.logger.Warn("conn.publish failed", "destination", destination, "error", err)
		return
	}
	cm.metrics.Published.Inc()
}

// Subscribe registers handler for topic on the live connection and returns the subscription id
func (cm *ConnectionManager) Subscribe(topic string, handler MessageHandler) (string, error) {
	cm.mu.Lock()
	if cm.state != StateConnected || cm.transport == nil {
		cm.mu.Unlock()
		return "", ErrNotConnected
	}
	id := uuid.NewString()
	cm.routes[id] = route{topic: topic, handler: handler}
	t := cm.transport
	cm.mu.Unlock()

	if err := t.Subscribe(id, topic); err != nil {
		cm.mu.Lock()
		delete(cm.routes, id)
		cm.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Unsubscribe removes a subscription; unknown ids are ignored
func (cm *ConnectionManager) Unsubscribe(id string) {
	cm.mu.Lock()
	_, ok := cm.routes[id]
	delete(cm.routes, id)
	t := cm.transport
	cm.mu.Unlock()

	if !ok || t == nil {
		return
	}
	if err := t.Unsubscribe(id); err != nil {
		cm.logger.Debug("conn.unsubscribe", "subscription", id, "error", err)
	}
}

// run dials and redials until ctx is cancelled
func (cm *ConnectionManager) run(ctx context.Context, gen uint64, token string) {
	for attempt := 0; cm.strategy.ShouldRetry(attempt); attempt++ {
		if attempt > 0 {
			cm.metrics.Reconnects.Inc()
		}
		if !cm.transition(gen, StateConnecting) {
			return
		}

		t, err := cm.dialer.Dial(ctx, token, cm.deliverFunc(gen))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cm.logger.Warn("conn.dial failed", "attempt", attempt, "error", err)
			cm.transition(gen, StateErrored)
		} else {
			if !cm.attach(gen, t) {
				t.Close()
				return
			}
			attempt = 0
			cm.transition(gen, StateConnected)

			select {
			case <-t.Done():
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
			cm.logger.Warn("conn.lost")
			cm.detach(gen, t)
			cm.transition(gen, StateDisconnected)
		}

		delay := cm.strategy.NextDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (cm *ConnectionManager) attach(gen uint64, t Transport) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if gen != cm.gen {
		return false
	}
	cm.transport = t
	return true
}

func (cm *ConnectionManager) detach(gen uint64, t Transport) {
	cm.mu.Lock()
	if gen == cm.gen && cm.transport == t {
		cm.transport = nil
		cm.routes = make(map[string]route)
	}
	cm.mu.Unlock()
	t.Close()
}

// transition moves to next if gen is still current and notifies listeners
func (cm *ConnectionManager) transition(gen uint64, next ConnectionState) bool {
	cm.mu.Lock()
	if gen != cm.gen {
		cm.mu.Unlock()
		return false
	}
	if cm.state == next {
		cm.mu.Unlock()
		return true
	}
	cm.state = next
	listeners := cm.snapshotListeners()
	cm.mu.Unlock()

	cm.metrics.ConnectionState.Set(float64(next))
	cm.logger.Info("conn.state", "state", next)
	cm.notify(gen, next, listeners)
	return true
}

func (cm *ConnectionManager) snapshotListeners() []StateListener {
	out := make([]StateListener, len(cm.listeners))
	copy(out, cm.listeners)
	return out
}

func (cm *ConnectionManager) notify(gen uint64, state ConnectionState, listeners []StateListener) {
	cm.notifyMu.Lock()
	defer cm.notifyMu.Unlock()

	cm.mu.Lock()
	stale := gen != cm.gen
	cm.mu.Unlock()
	if stale {
		return
	}
	for _, l := range listeners {
		l(state)
	}
}

// deliverFunc routes MESSAGE frames of one transport generation to their handlers
func (cm *ConnectionManager) deliverFunc(gen uint64) FrameHandler {
	return func(subID string, body []byte) {
		cm.deliverMu.RLock()
		defer cm.deliverMu.RUnlock()

		cm.mu.Lock()
		r, ok := cm.routes[subID]
		current := gen == cm.gen
		cm.mu.Unlock()

		if !current || !ok {
			return
		}
		cm.metrics.FramesReceived.WithLabelValues(topicKind(r.topic)).Inc()
		r.handler(body)
	}
}

func topicKind(topic string) string {
	if topic == protocol.StaffBroadcastTopic {
		return "broadcast"
	}
	if _, typing, ok := protocol.ParseRoomTopic(topic); ok {
		if typing {
			return "typing"
		}
		return "message"
	}
	return "other"
}
