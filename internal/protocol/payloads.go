package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/concord-chat/helpdesk/internal/models"
)

// SupportDeskName is shown to shoppers as their counterpart
const SupportDeskName = "Hỗ trợ khách hàng"

// localDateTime is the zone-less layout the shop backend emits
const localDateTime = "2006-01-02T15:04:05.999999999"

// Timestamp accepts RFC 3339 and zone-less ISO-8601 values
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(localDateTime, s, time.Local)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// --- Client -> Gateway Payloads ---

// SendMessageRequest is published to DestSendMessage
type SendMessageRequest struct {
	RoomID   int64  `json:"roomId"`
	Content  string `json:"content"`
	SenderID int64  `json:"senderId"`
}

// TypingNotification is published to DestTyping and relayed on the typing topic
type TypingNotification struct {
	RoomID   int64  `json:"roomId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	Typing   bool   `json:"typing"`
}

// --- Gateway -> Client Payloads ---

// ChatMessage is delivered on room topics and the staff broadcast
type ChatMessage struct {
	ID         int64      `json:"id"`
	RoomID     int64      `json:"roomId"`
	SenderID   int64      `json:"senderId"`
	SenderName string     `json:"senderName"`
	SenderRole string     `json:"senderRole"`
	Content    string     `json:"content"`
	Status     string     `json:"status,omitempty"`
	CreatedAt  Timestamp  `json:"createdAt"`
	ReadAt     *Timestamp `json:"readAt,omitempty"`
}

// ToModel converts the payload into a confirmed message
func (m *ChatMessage) ToModel() *models.Message {
	return &models.Message{
		ID:         models.ConfirmedID(m.ID),
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: models.ParseRole(m.SenderRole),
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.Time,
		Status:     models.StatusSent,
	}
}

// ChatRoom is returned by the room endpoints
type ChatRoom struct {
	ID                  int64        `json:"id"`
	UserID              int64        `json:"userId"`
	UserName            string       `json:"userName"`
	UserFullName        string       `json:"userFullName,omitempty"`
	UserAvatar          string       `json:"userAvatar,omitempty"`
	UserLastSeen        Timestamp    `json:"userLastSeen"`
	AdminLastSeen       Timestamp    `json:"adminLastSeen"`
	UnreadCountForUser  int          `json:"unreadCountForUser"`
	UnreadCountForAdmin int          `json:"unreadCountForAdmin"`
	LastMessage         *ChatMessage `json:"lastMessage,omitempty"`
	CreatedAt           Timestamp    `json:"createdAt"`
	UpdatedAt           Timestamp    `json:"updatedAt"`
	IsUserOnline        bool         `json:"isUserOnline"`
	IsAdminOnline       bool         `json:"isAdminOnline"`
}

// ToModel converts the payload into a room seen from the shopper or staff side
func (r *ChatRoom) ToModel(staffView bool) *models.Room {
	room := &models.Room{
		ID:        r.ID,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if staffView {
		room.CounterpartID = r.UserID
		room.CounterpartName = r.UserFullName
		if room.CounterpartName == "" {
			room.CounterpartName = r.UserName
		}
		room.CounterpartUsername = r.UserName
		room.CounterpartOnline = r.IsUserOnline
		room.LastSeenAt = r.UserLastSeen.Time
		room.UnreadCount = r.UnreadCountForAdmin
	} else {
		room.CounterpartName = SupportDeskName
		room.CounterpartOnline = r.IsAdminOnline
		room.LastSeenAt = r.AdminLastSeen.Time
		room.UnreadCount = r.UnreadCountForUser
	}
	if r.LastMessage != nil {
		room.LastMessage = &models.MessageSummary{
			SenderID:   r.LastMessage.SenderID,
			SenderName: r.LastMessage.SenderName,
			Content:    r.LastMessage.Content,
			CreatedAt:  r.LastMessage.CreatedAt.Time,
		}
	}
	return room
}

// UnreadCount is returned by the staff unread endpoint
type UnreadCount struct {
	Count int `json:"unreadCount"`
}

// --- REST Auth Payloads ---

// LoginRequest is posted to the login endpoint
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserInfo describes the signed-in account
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Role     string `json:"role"`
}

// LoginResponse is returned by the login endpoint
type LoginResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

// Viewer converts the login response into a chat identity
func (r *LoginResponse) Viewer() *models.Viewer {
	return &models.Viewer{
		ID:       r.User.ID,
		Username: r.User.Username,
		FullName: r.User.FullName,
		Role:     models.ParseRole(r.User.Role),
		Token:    r.Token,
	}
}
