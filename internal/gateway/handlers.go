package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/concord-chat/helpdesk/internal/database"
	"github.com/concord-chat/helpdesk/internal/protocol"
	"github.com/concord-chat/helpdesk/pkg/crypto"
)

// maxContentLength is the longest message body accepted, in characters
const maxContentLength = 2000

// onlineWindow is how recently a side must have read a room to count as online
const onlineWindow = 5 * time.Minute

var (
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrUnknownDestination = errors.New("unknown destination")
)

// Handlers contains the chat operations shared by WebSocket sessions,
// the NATS bridge and the REST API
type Handlers struct {
	db      *database.DB
	hub     *Hub
	metrics *Metrics
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(db *database.DB, hub *Hub, metrics *Metrics, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Handlers{db: db, hub: hub, metrics: metrics, logger: logger}
}

// Authenticate validates a bearer credential and returns the associated user
func (h *Handlers) Authenticate(token string) (*database.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	user, err := h.db.GetUserBySession(crypto.HashToken(token))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return user, nil
}

// authorizeRoom returns the room if user owns it or is staff
func (h *Handlers) authorizeRoom(user *database.User, roomID int64) (*database.Room, error) {
	room, err := h.db.GetRoom(roomID)
	if err != nil {
		return nil, err
	}
	if !user.Role.IsStaff() && room.UserID != user.ID {
		return nil, ErrForbidden
	}
	return room, nil
}

// CanSubscribe applies the topic ACL: room topics for the owner or staff,
// the new-message broadcast for staff only
func (h *Handlers) CanSubscribe(user *database.User, topic string) bool {
	if topic == protocol.StaffBroadcastTopic {
		return user.Role.IsStaff()
	}
	roomID, _, ok := protocol.ParseRoomTopic(topic)
	if !ok {
		return false
	}
	_, err := h.authorizeRoom(user, roomID)
	return err == nil
}

// HandleSend dispatches a SEND to an application destination
func (h *Handlers) HandleSend(user *database.User, destination string, body []byte) error {
	switch destination {
	case protocol.DestSendMessage:
		return h.handleChatSend(user, body)
	case protocol.DestTyping:
		return h.handleTyping(user, body)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
}

// handleChatSend stores a message and publishes it to the room and, for shopper
// messages, to the staff broadcast
func (h *Handlers) handleChatSend(user *database.User, body []byte) error {
	var req protocol.SendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return fmt.Errorf("%w: message content cannot be empty", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return fmt.Errorf("%w: message content too long (max %d characters)", ErrInvalidPayload, maxContentLength)
	}

	if _, err := h.authorizeRoom(user, req.RoomID); err != nil {
		return err
	}

	msg, err := h.db.CreateMessage(req.RoomID, user, content)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	h.metrics.MessagesStored.Inc()

	payload := toChatMessage(msg)
	if err := h.hub.Publish(protocol.RoomTopic(req.RoomID), payload); err != nil {
		return err
	}
	if !user.Role.IsStaff() {
		if err := h.hub.Publish(protocol.StaffBroadcastTopic, payload); err != nil {
			return err
		}
	}

	h.logger.Debug("chat.send", "room", req.RoomID, "sender", user.Username, "message", msg.ID)
	return nil
}

// handleTyping relays a typing notification to the room's typing topic
func (h *Handlers) handleTyping(user *database.User, body []byte) error {
	var n protocol.TypingNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, err := h.authorizeRoom(user, n.RoomID); err != nil {
		return err
	}

	// The sender is always the authenticated user
	n.UserID = user.ID
	if n.UserName == "" {
		n.UserName = user.DisplayName()
	}
	return h.hub.Publish(protocol.TypingTopic(n.RoomID), &n)
}

// chatRoom builds the room view returned by the REST API
func (h *Handlers) chatRoom(room *database.Room) (*protocol.ChatRoom, error) {
	owner, err := h.db.GetUserByID(room.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room owner: %w", err)
	}
	last, err := h.db.GetLastMessage(room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last message: %w", err)
	}

	now := time.Now()
	out := &protocol.ChatRoom{
		ID:                  room.ID,
		UserID:              owner.ID,
		UserName:            owner.Username,
		UserFullName:        owner.FullName,
		UserLastSeen:        protocol.NewTimestamp(room.UserLastSeen),
		AdminLastSeen:       protocol.NewTimestamp(room.AdminLastSeen),
		UnreadCountForUser:  room.UnreadForUser,
		UnreadCountForAdmin: room.UnreadForAdmin,
		CreatedAt:           protocol.NewTimestamp(room.CreatedAt),
		UpdatedAt:           protocol.NewTimestamp(room.UpdatedAt),
		IsUserOnline:        h.hub.IsOnline(owner.ID) || seenWithin(room.UserLastSeen, now),
		IsAdminOnline:       h.hub.StaffOnline() || seenWithin(room.AdminLastSeen, now),
	}
	if last != nil {
		out.LastMessage = toChatMessage(last)
	}
	return out, nil
}

func seenWithin(t, now time.Time) bool {
	return !t.IsZero() && now.Sub(t) < onlineWindow
}

func toChatMessage(m *database.Message) *protocol.ChatMessage {
	out := &protocol.ChatMessage{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: m.SenderRole.String(),
		Content:    m.Content,
		Status:     "SENT",
		CreatedAt:  protocol.NewTimestamp(m.CreatedAt),
	}
	if !m.ReadAt.IsZero() {
		readAt := protocol.NewTimestamp(m.ReadAt)
		out.ReadAt = &readAt
		out.Status = "READ"
	}
	return out
}
