package client

import (
	"log/slog"
	"sort"
	"sync"
)

// Subscriber is the channel primitive the registry drives
type Subscriber interface {
	Subscribe(topic string, handler MessageHandler) (string, error)
	Unsubscribe(id string)
}

// Binding pairs a topic with the handler that should receive it
type Binding struct {
	Topic   string
	Handler MessageHandler
}

// Registry keeps the live subscriptions equal to what the current view needs.
//
// Session bindings survive room switches and connection loss and are dropped
// only by Clear. Room bindings belong to the active room and are dropped when
// the room is deactivated or the connection is lost. Session bindings that
// could not be attached while disconnected are attached by Resync on the next
// CONNECTED. Room bindings only go live through ActivateRoom, after the room's
// history has been loaded.
type Registry struct {
	sub    Subscriber
	logger *slog.Logger

	mu      sync.Mutex
	session []Binding
	roomID  int64
	room    []Binding
	live    map[string]string // topic -> subscription id
}

// NewRegistry creates a registry on top of sub
func NewRegistry(sub Subscriber, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sub:    sub,
		logger: logger,
		live:   make(map[string]string),
	}
}

// BindSession adds bindings that stay active for the whole session
func (r *Registry) BindSession(binds ...Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range binds {
		r.session = replaceBinding(r.session, b)
		r.attach(b)
	}
}

// ActivateRoom makes roomID the only room with live subscriptions
func (r *Registry) ActivateRoom(roomID int64, binds ...Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachRoom()
	r.roomID = roomID
	r.room = append([]Binding(nil), binds...)
	for _, b := range r.room {
		r.attach(b)
	}
}

// DeactivateRoom removes the active room's subscriptions
func (r *Registry) DeactivateRoom() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachRoom()
}

// ActiveRoom returns the room whose bindings are installed, or 0
func (r *Registry) ActiveRoom() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// RoomLive reports whether roomID is active and every one of its topics is subscribed
func (r *Registry) RoomLive(roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roomID == 0 || r.roomID != roomID || len(r.room) == 0 {
		return false
	}
	for _, b := range r.room {
		if _, ok := r.live[b.Topic]; !ok {
			return false
		}
	}
	return true
}

// Resync attaches the session bindings that are not live yet.
// Room bindings are left to the caller's activation path.
func (r *Registry) Resync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.session {
		if _, ok := r.live[b.Topic]; !ok {
			r.attach(b)
		}
	}
}

// Drop forgets live subscriptions after the connection went away.
// Room bindings are discarded so the room is reloaded before it goes live again.
func (r *Registry) Drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = make(map[string]string)
	r.room = nil
	r.roomID = 0
}

// Clear removes every binding, used when the viewer identity changes
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, id := range r.live {
		r.sub.Unsubscribe(id)
		delete(r.live, topic)
	}
	r.session = nil
	r.room = nil
	r.roomID = 0
}

// Topics returns the live topics in sorted order
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.live))
	for topic := range r.live {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// attach subscribes b, replacing any handler already live for the topic
func (r *Registry) attach(b Binding) {
	if id, ok := r.live[b.Topic]; ok {
		r.sub.Unsubscribe(id)
		delete(r.live, b.Topic)
	}
	id, err := r.sub.Subscribe(b.Topic, b.Handler)
	if err != nil {
		r.logger.Debug("registry.subscribe deferred", "topic", b.Topic, "reason", err)
		return
	}
	r.live[b.Topic] = id
	r.logger.Debug("registry.subscribe", "topic", b.Topic, "subscription", id)
}

func (r *Registry) detachRoom() {
	for _, b := range r.room {
		if id, ok := r.live[b.Topic]; ok {
			r.sub.Unsubscribe(id)
			delete(r.live, b.Topic)
			r.logger.Debug("registry.unsubscribe", "topic", b.Topic)
		}
	}
	r.room = nil
	r.roomID = 0
}

func replaceBinding(list []Binding, b Binding) []Binding {
	for i := range list {
		if list[i].Topic == b.Topic {
			list[i] = b
			return list
		}
	}
	return append(list, b)
}
