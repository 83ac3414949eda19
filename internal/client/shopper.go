package client

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

// ShopperSession is the single-room chat used by shoppers.
// The room is resolved from the backend on every CONNECTED and only then
// are its topics subscribed, so history always lands before live messages.
type ShopperSession struct {
	*session

	open atomic.Bool
	room *models.Room // guarded by session.mu
}

// NewShopperSession creates a shopper session; call SetViewer to start it
func NewShopperSession(opts SessionOptions) *ShopperSession {
	s := &ShopperSession{session: newSession(opts)}
	s.conn.OnStateChange(s.onState)
	return s
}

// SetViewer is the identity-change signal: login, logout (nil) and account switches.
// Staff identities do not start the shopper chat.
func (s *ShopperSession) SetViewer(v *models.Viewer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.viewer.SameIdentity(v) {
		return nil
	}
	s.switchIdentityLocked(v, func() { s.room = nil })
	s.emit(Event{Kind: EventMessages})

	if v == nil {
		return nil
	}
	if v.IsStaff() {
		s.logger.Info("shopper.skip", "reason", "staff identity", "role", v.Role)
		return nil
	}
	return s.conn.Connect(v.Token)
}

// Room returns the shopper's room once it is known
func (s *ShopperSession) Room() *models.Room {
	s.mu.Lock()
	room := s.room.Clone()
	s.mu.Unlock()

	if room != nil {
		room.UnreadCount = s.unread.Count(room.ID)
	}
	return room
}

// Messages returns the room's messages, oldest first
func (s *ShopperSession) Messages() []*models.Message {
	id := s.roomID()
	if id == 0 {
		return nil
	}
	return s.reconciler.Messages(id)
}

// Unread returns the room's unread counter
func (s *ShopperSession) Unread() int {
	return s.unread.Total()
}

// SendMessage validates content and sends it optimistically
func (s *ShopperSession) SendMessage(content string) error {
	return s.send(s.roomID(), content)
}

// SetTyping reports the current input value for typing signals
func (s *ShopperSession) SetTyping(text string) {
	if id := s.roomID(); id != 0 {
		s.typing.Keystroke(id, text)
	}
}

// SetOpen records whether the chat widget is visible; opening it marks the room read
func (s *ShopperSession) SetOpen(open bool) {
	s.open.Store(open)
	if !open {
		return
	}
	if id := s.roomID(); id != 0 && s.unread.Count(id) > 0 {
		go s.MarkRead(s.workContext())
	}
}

// MarkRead persists the read state of the room
func (s *ShopperSession) MarkRead(ctx context.Context) error {
	id := s.roomID()
	if id == 0 {
		return ErrNoActiveRoom
	}
	return s.unread.MarkRead(ctx, id)
}

// Close disconnects the session for good
func (s *ShopperSession) Close() {
	s.close()
}

func (s *ShopperSession) roomID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return 0
	}
	return s.room.ID
}

func (s *ShopperSession) onState(state ConnectionState) {
	s.emit(Event{Kind: EventConnection, State: state})

	switch state {
	case StateConnected:
		s.registry.Resync()
		go s.loadRoom(s.gen.Load())
	case StateDisconnected, StateErrored:
		s.connectionLost()
	}
}

// loadRoom resolves the room and its history, then goes live on its topics
func (s *ShopperSession) loadRoom(gen uint64) {
	ctx := s.workContext()
	if !s.current(gen) {
		return
	}

	room, err := s.history.FetchRoomForViewer(ctx)
	if err != nil {
		s.logger.Warn("shopper.room failed", "error", err)
		return
	}
	msgs, histErr := s.history.FetchMessages(ctx, room.ID, 0, s.opts.Chat.PageSize)
	if histErr != nil {
		s.logger.Warn("shopper.history failed", "room", room.ID, "error", histErr)
	}

	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	s.room = room
	s.reconciler.Clear(room.ID)
	switch {
	case histErr != nil:
	case len(msgs) == 0:
		s.reconciler.LoadHistory(room.ID, []*models.Message{
			models.NewWelcomeMessage(room.ID, s.opts.Chat.WelcomeText, time.Now()),
		})
	default:
		s.reconciler.LoadHistory(room.ID, msgs)
	}
	s.unread.Set(room.ID, room.UnreadCount)
	s.registry.ActivateRoom(room.ID,
		Binding{Topic: protocol.RoomTopic(room.ID), Handler: s.onRoomMessage},
		Binding{Topic: protocol.TypingTopic(room.ID), Handler: s.onTyping},
	)
	s.mu.Unlock()

	s.emit(Event{Kind: EventRooms, RoomID: room.ID})
	s.emit(Event{Kind: EventMessages, RoomID: room.ID})

	if s.open.Load() && room.UnreadCount > 0 {
		s.unread.MarkRead(ctx, room.ID)
	}
}

func (s *ShopperSession) onRoomMessage(body []byte) {
	var p protocol.ChatMessage
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Warn("shopper.decode", "error", err)
		return
	}

	m, ok := s.reconciler.Apply(p.ToModel())
	if !ok {
		return
	}
	s.emit(Event{Kind: EventMessages, RoomID: m.RoomID})
	if m.IsOwn {
		return
	}

	s.unread.Increment(m.RoomID)
	if s.open.Load() {
		s.markReadAsync(m.RoomID)
	}
}
