package models

import (
	"strings"
	"time"
)

// MessageSummary is the preview of the latest message in a room
type MessageSummary struct {
	SenderID   int64     `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Room is a single conversation between one shopper and staff collectively
type Room struct {
	ID int64 `json:"id"`

	// Counterpart is the shopper for staff viewers and the support desk for shoppers
	CounterpartID       int64     `json:"counterpartId"`
	CounterpartName     string    `json:"counterpartName"`
	CounterpartUsername string    `json:"counterpartUsername,omitempty"`
	CounterpartOnline   bool      `json:"counterpartOnline"`
	LastSeenAt          time.Time `json:"lastSeenAt,omitempty"`

	UnreadCount int             `json:"unreadCount"`
	LastMessage *MessageSummary `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

// Clone returns a copy that shares nothing with the receiver
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastMessage != nil {
		lm := *r.LastMessage
		c.LastMessage = &lm
	}
	return &c
}

// Matches reports whether the room matches a case-insensitive search query
func (r *Room) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.CounterpartName), q) ||
		strings.Contains(strings.ToLower(r.CounterpartUsername), q)
}

// ApplySummary patches the room preview from a confirmed message
func (r *Room) ApplySummary(m *Message) {
	r.LastMessage = &MessageSummary{
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	if m.CreatedAt.After(r.UpdatedAt) {
		r.UpdatedAt = m.CreatedAt
	}
}
