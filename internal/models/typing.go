package models

import "time"

// TypingState is the ephemeral typing indicator for one room
type TypingState struct {
	RoomID     int64
	ByUserID   int64
	ByUserName string
	IsTyping   bool
	ExpiresAt  time.Time
}

// Active reports whether the indicator should still be shown at now
func (t TypingState) Active(now time.Time) bool {
	return t.IsTyping && now.Before(t.ExpiresAt)
}
