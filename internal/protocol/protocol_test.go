package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/helpdesk/internal/models"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "/topic/room/12", RoomTopic(12))
	assert.Equal(t, "/topic/room/12/typing", TypingTopic(12))

	id, typing, ok := ParseRoomTopic("/topic/room/12/typing")
	require.True(t, ok)
	assert.Equal(t, int64(12), id)
	assert.True(t, typing)

	id, typing, ok = ParseRoomTopic(RoomTopic(5))
	require.True(t, ok)
	assert.Equal(t, int64(5), id)
	assert.False(t, typing)

	_, _, ok = ParseRoomTopic(StaffBroadcastTopic)
	assert.False(t, ok)
	_, _, ok = ParseRoomTopic("/topic/room/abc")
	assert.False(t, ok)
}

func TestSubjectRoundTrip(t *testing.T) {
	assert.Equal(t, "topic.room.3.typing", Subject(TypingTopic(3)))
	assert.Equal(t, "app.chat.send", Subject(DestSendMessage))
	assert.Equal(t, StaffBroadcastTopic, TopicFromSubject(Subject(StaffBroadcastTopic)))
}

func TestTimestampAcceptsLocalDateTime(t *testing.T) {
	var msg ChatMessage
	raw := `{"id":42,"roomId":1,"senderId":9,"senderName":"Lan","senderRole":"USER","content":"Xin chào","createdAt":"2024-03-01T10:15:30.123"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, 2024, msg.CreatedAt.Year())
	assert.Equal(t, 123*int(time.Millisecond), msg.CreatedAt.Nanosecond())

	m := msg.ToModel()
	id, ok := m.ID.ServerID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, models.StatusSent, m.Status)
	assert.Equal(t, models.RoleUser, m.SenderRole)
}

func TestTimestampRFC3339AndNull(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-01T10:15:30Z"`), &ts))
	assert.Equal(t, time.UTC, ts.Location())

	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())

	out, err := json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestChatRoomToModel(t *testing.T) {
	r := &ChatRoom{
		ID:                  4,
		UserID:              9,
		UserName:            "lan",
		UserFullName:        "Nguyen Lan",
		UnreadCountForUser:  1,
		UnreadCountForAdmin: 3,
		IsUserOnline:        true,
	}

	staff := r.ToModel(true)
	assert.Equal(t, "Nguyen Lan", staff.CounterpartName)
	assert.Equal(t, "lan", staff.CounterpartUsername)
	assert.Equal(t, 3, staff.UnreadCount)
	assert.True(t, staff.CounterpartOnline)

	shopper := r.ToModel(false)
	assert.Equal(t, SupportDeskName, shopper.CounterpartName)
	assert.Equal(t, 1, shopper.UnreadCount)
	assert.False(t, shopper.CounterpartOnline)
}

func TestFrameHelpers(t *testing.T) {
	f, err := NewFrame(CmdSend, DestTyping, &TypingNotification{RoomID: 1, UserID: 2, Typing: true})
	require.NoError(t, err)

	var n TypingNotification
	require.NoError(t, f.Decode(&n))
	assert.True(t, n.Typing)

	f.SetHeader(HeaderAuthorization, "Bearer abc")
	assert.Equal(t, "abc", BearerToken(f.Header(HeaderAuthorization)))
	assert.Equal(t, "", BearerToken("Basic abc"))

	e := NewErrorFrame("denied")
	assert.Equal(t, "denied", e.Header(HeaderErrorMessage))
	assert.Error(t, e.Decode(&n))
}
