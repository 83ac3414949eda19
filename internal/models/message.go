package models

import (
	"strconv"
	"time"
)

// IDKind distinguishes locally created message ids from server-assigned ones
type IDKind uint8

const (
	IDProvisional IDKind = iota + 1 // Created on send, replaced by the echo
	IDConfirmed                     // Assigned by the server
	IDSystem                        // Local notice that never reaches the server
)

// MessageID identifies a message within a room
type MessageID struct {
	kind   IDKind
	seq    uint64
	server int64
	name   string
}

// ProvisionalID tags an optimistic message with a client sequence number
func ProvisionalID(seq uint64) MessageID {
	return MessageID{kind: IDProvisional, seq: seq}
}

// ConfirmedID wraps a server-assigned identifier
func ConfirmedID(id int64) MessageID {
	return MessageID{kind: IDConfirmed, server: id}
}

// SystemID names a local system notice
func SystemID(name string) MessageID {
	return MessageID{kind: IDSystem, name: name}
}

// Kind returns which variant the id holds
func (id MessageID) Kind() IDKind { return id.kind }

// IsProvisional reports whether the id was created locally for an optimistic send
func (id MessageID) IsProvisional() bool { return id.kind == IDProvisional }

// ServerID returns the server-assigned identifier when the id is confirmed
func (id MessageID) ServerID() (int64, bool) {
	if id.kind != IDConfirmed {
		return 0, false
	}
	return id.server, true
}

// ClientSeq returns the client sequence number when the id is provisional
func (id MessageID) ClientSeq() (uint64, bool) {
	if id.kind != IDProvisional {
		return 0, false
	}
	return id.seq, true
}

// String renders the id for logs and display keys
func (id MessageID) String() string {
	switch id.kind {
	case IDProvisional:
		return "local-" + strconv.FormatUint(id.seq, 10)
	case IDConfirmed:
		return strconv.FormatInt(id.server, 10)
	case IDSystem:
		return id.name
	default:
		return ""
	}
}

// DeliveryStatus tracks whether the server has confirmed a message
type DeliveryStatus int

const (
	StatusSending DeliveryStatus = iota
	StatusSent
)

// String returns a human-readable delivery status
func (s DeliveryStatus) String() string {
	switch s {
	case StatusSending:
		return "SENDING"
	case StatusSent:
		return "SENT"
	default:
		return "UNKNOWN"
	}
}

// Message represents a chat message as displayed to the viewer
type Message struct {
	ID         MessageID
	RoomID     int64
	SenderID   int64
	SenderName string
	SenderRole Role
	Content    string
	CreatedAt  time.Time
	Status     DeliveryStatus
	IsOwn      bool
}

// WelcomeMessageID names the greeting shown when a shopper has no history
const WelcomeMessageID = "welcome-msg"

// SystemSenderName is shown as the author of local notices
const SystemSenderName = "Hệ thống"

// NewWelcomeMessage creates the greeting shown in an empty shopper room
func NewWelcomeMessage(roomID int64, text string, at time.Time) *Message {
	return &Message{
		ID:         SystemID(WelcomeMessageID),
		RoomID:     roomID,
		SenderName: SystemSenderName,
		SenderRole: RoleAdmin,
		Content:    text,
		CreatedAt:  at,
		Status:     StatusSent,
	}
}

// Clone returns a shallow copy of the message
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
