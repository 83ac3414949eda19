package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// StaffBroadcastTopic carries every shopper message to the staff console
	StaffBroadcastTopic = "/topic/admin/new-message"

	// DestSendMessage accepts SendMessageRequest bodies
	DestSendMessage = "/app/chat.send"

	// DestTyping accepts TypingNotification bodies
	DestTyping = "/app/chat.typing"

	roomTopicPrefix = "/topic/room/"
	typingSuffix    = "/typing"
)

// RoomTopic returns the message topic of a room
func RoomTopic(roomID int64) string {
	return fmt.Sprintf("%s%d", roomTopicPrefix, roomID)
}

// TypingTopic returns the typing topic of a room
func TypingTopic(roomID int64) string {
	return RoomTopic(roomID) + typingSuffix
}

// ParseRoomTopic extracts the room id from a room or typing topic
func ParseRoomTopic(topic string) (roomID int64, typing bool, ok bool) {
	rest, found := strings.CutPrefix(topic, roomTopicPrefix)
	if !found {
		return 0, false, false
	}
	rest, typing = strings.CutSuffix(rest, typingSuffix)
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, false
	}
	return id, typing, true
}

// Subject maps a topic onto a NATS subject ("/topic/room/7" -> "topic.room.7")
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// TopicFromSubject is the inverse of Subject
func TopicFromSubject(subject string) string {
	return "/" + strings.ReplaceAll(subject, ".", "/")
}
