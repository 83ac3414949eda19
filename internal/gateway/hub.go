package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Bridge mirrors hub publishes onto another transport
type Bridge interface {
	Publish(topic string, body []byte) error
}

// subscription is one client subscription id bound to a topic
type subscription struct {
	client *Client
	id     string
	topic  string
}

// Hub maintains the set of active clients and fans topic publishes out to them
type Hub struct {
	mu sync.RWMutex

	// Subscriptions by topic
	topics map[string]map[*subscription]struct{}

	// Registered clients and connected session counts per user
	clients     map[*Client]struct{}
	online      map[int64]int
	staffOnline int

	bridge  Bridge
	metrics *Metrics
	logger  *slog.Logger
}

// NewHub creates a new Hub instance
func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		topics:  make(map[string]map[*subscription]struct{}),
		clients: make(map[*Client]struct{}),
		online:  make(map[int64]int),
		metrics: metrics,
		logger:  logger,
	}
}

// SetBridge installs a bridge that receives every publish
func (h *Hub) SetBridge(b Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// Register adds an authenticated client to the hub
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = struct{}{}
	h.online[c.User.ID]++
	if c.User.Role.IsStaff() {
		h.staffOnline++
	}
	h.metrics.ActiveSessions.Inc()

	h.logger.Info("hub.register", "user", c.User.Username, "session", c.SessionID)
}

// Unregister removes a client and every subscription it holds
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.topics {
		for sub := range subs {
			if sub.client == c {
				delete(subs, sub)
			}
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.online[c.User.ID]--; h.online[c.User.ID] <= 0 {
		delete(h.online, c.User.ID)
	}
	if c.User.Role.IsStaff() {
		h.staffOnline--
	}
	h.metrics.ActiveSessions.Dec()

	h.logger.Info("hub.unregister", "user", c.User.Username, "session", c.SessionID)
}

// Subscribe binds a client subscription id to a topic.
// Reusing an id moves it to the new topic.
func (h *Hub) Subscribe(c *Client, id, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(c, id)
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*subscription]struct{})
	}
	h.topics[topic][&subscription{client: c, id: id, topic: topic}] = struct{}{}
}

// Unsubscribe removes a client subscription id
func (h *Hub) Unsubscribe(c *Client, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, id)
}

func (h *Hub) removeLocked(c *Client, id string) {
	for topic, subs := range h.topics {
		for sub := range subs {
			if sub.client == c && sub.id == id {
				delete(subs, sub)
			}
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish encodes payload and delivers it to every subscriber of topic
func (h *Hub) Publish(topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}

	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		targets = append(targets, sub)
	}
	bridge := h.bridge
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.client.deliver(sub.id, topic, body)
	}

	if bridge != nil {
		if err := bridge.Publish(topic, body); err != nil {
			h.logger.Warn("hub.bridge publish", "topic", topic, "error", err)
		}
	}
	return nil
}

// Subscribers returns how many subscriptions a topic has
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Sessions returns the number of registered clients
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsOnline reports whether userID has at least one live session
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// StaffOnline reports whether any staff member has a live session
func (h *Hub) StaffOnline() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.staffOnline > 0
}
