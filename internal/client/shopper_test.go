package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

func startShopper(t *testing.T, tweaks ...func(*ChatConfig)) (*ShopperSession, *fakeDialer, *fakeHistory, *fakeTransport) {
	t.Helper()
	d := &fakeDialer{}
	h := newFakeHistory()
	h.room = &models.Room{ID: 10, CounterpartName: protocol.SupportDeskName}

	opts := testOptions(d, h)
	for _, tweak := range tweaks {
		tweak(&opts.Chat)
	}
	s := NewShopperSession(opts)
	t.Cleanup(s.Close)

	require.NoError(t, s.SetViewer(shopper))
	tr := waitConnected(t, d, s.State)
	require.Eventually(t, func() bool {
		return tr.topics()[protocol.RoomTopic(10)] && tr.topics()[protocol.TypingTopic(10)]
	}, waitFor, tick)
	return s, d, h, tr
}

func ownMessages(msgs []*models.Message) []*models.Message {
	var out []*models.Message
	for _, m := range msgs {
		if m.ID.Kind() != models.IDSystem {
			out = append(out, m)
		}
	}
	return out
}

func TestShopperEmptyHistoryShowsWelcome(t *testing.T) {
	s, _, h, _ := startShopper(t)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.WelcomeMessageID, msgs[0].ID.String())
	assert.Equal(t, DefaultWelcomeText, msgs[0].Content)
	assert.Equal(t, models.RoleAdmin, msgs[0].SenderRole)
	assert.Equal(t, "tok-7", h.credential)

	room := s.Room()
	require.NotNil(t, room)
	assert.Equal(t, int64(10), room.ID)
}

func TestShopperHistoryComesFirst(t *testing.T) {
	d := &fakeDialer{}
	h := newFakeHistory()
	h.room = &models.Room{ID: 10}
	h.messages[10] = []*models.Message{
		confirmed(2, 10, 99, "Chào bạn"),
		confirmed(1, 10, shopper.ID, "Cho mình hỏi"),
	}
	s := NewShopperSession(testOptions(d, h))
	defer s.Close()

	require.NoError(t, s.SetViewer(shopper))
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, waitFor, tick)

	msgs := s.Messages()
	assert.Equal(t, "Cho mình hỏi", msgs[0].Content)
	assert.True(t, msgs[0].IsOwn)
	assert.False(t, msgs[1].IsOwn)
}

func TestShopperSendIsConfirmedByEcho(t *testing.T) {
	s, _, _, tr := startShopper(t)

	require.NoError(t, s.SendMessage("Xin chào"))

	pending := ownMessages(s.Messages())
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusSending, pending[0].Status)

	frames := tr.sentTo(protocol.DestSendMessage)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"roomId":10,"content":"Xin chào","senderId":7}`, string(frames[0].Body))

	tr.push(protocol.RoomTopic(10), chatMessage(42, 10, shopper.ID, "Xin chào"))

	own := ownMessages(s.Messages())
	require.Len(t, own, 1)
	assert.Equal(t, "42", own[0].ID.String())
	assert.Equal(t, models.StatusSent, own[0].Status)
	assert.True(t, own[0].IsOwn)
	assert.Zero(t, s.Unread(), "own echo is never unread")
}

func TestShopperSendRejectedWhenDisconnected(t *testing.T) {
	s, d, _, tr := startShopper(t)

	d.setFail(errors.New("gateway down"))
	tr.drop()
	require.Eventually(t, func() bool { return s.State() != StateConnected }, waitFor, tick)

	before := s.Messages()
	err := s.SendMessage("Xin chào")

	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, before, s.Messages())
}

func TestShopperSendRejectsBlank(t *testing.T) {
	s, _, _, tr := startShopper(t)

	require.ErrorIs(t, s.SendMessage("   "), ErrEmptyContent)
	assert.Empty(t, tr.sentTo(protocol.DestSendMessage))
}

func TestShopperUnreadWhileClosed(t *testing.T) {
	s, _, h, tr := startShopper(t)

	tr.push(protocol.RoomTopic(10), chatMessage(50, 10, 99, "Shop đây ạ"))
	tr.push(protocol.RoomTopic(10), chatMessage(51, 10, 99, "Bạn cần gì?"))
	tr.push(protocol.RoomTopic(10), chatMessage(51, 10, 99, "Bạn cần gì?"))

	assert.Equal(t, 2, s.Unread())
	assert.Equal(t, 2, s.Room().UnreadCount)

	s.SetOpen(true)
	require.Eventually(t, func() bool { return s.Unread() == 0 }, waitFor, tick)
	assert.Equal(t, 1, h.readCount(10))
}

func TestShopperOpenWidgetMarksLiveMessagesRead(t *testing.T) {
	s, _, h, tr := startShopper(t)
	s.SetOpen(true)

	tr.push(protocol.RoomTopic(10), chatMessage(60, 10, 99, "Có ai không?"))

	require.Eventually(t, func() bool { return h.readCount(10) == 1 && s.Unread() == 0 }, waitFor, tick)
}

func TestShopperRemoteTyping(t *testing.T) {
	s, _, _, tr := startShopper(t)

	tr.push(protocol.TypingTopic(10), &protocol.TypingNotification{RoomID: 10, UserID: 99, UserName: "Lan", Typing: true})

	state, ok := s.Typing(10)
	require.True(t, ok)
	assert.Equal(t, "Lan", state.ByUserName)
	require.Eventually(t, func() bool {
		_, ok := s.Typing(10)
		return !ok
	}, waitFor, tick)
}

func TestShopperTypingSignals(t *testing.T) {
	s, _, _, tr := startShopper(t)

	s.SetTyping("X")
	require.NoError(t, s.SendMessage("Xin"))

	frames := tr.sentTo(protocol.DestTyping)
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"roomId":10,"userId":7,"userName":"Nguyễn An","typing":true}`, string(frames[0].Body))
	assert.JSONEq(t, `{"roomId":10,"userId":7,"userName":"Nguyễn An","typing":false}`, string(frames[1].Body))
}

func TestShopperIdentitySwitchClearsState(t *testing.T) {
	s, d, h, tr := startShopper(t, func(c *ChatConfig) { c.TypingExpiry = Duration{time.Minute} })
	tr.push(protocol.RoomTopic(10), chatMessage(70, 10, 99, "for the old viewer"))
	require.Equal(t, 1, s.Unread())

	tr.push(protocol.TypingTopic(10), &protocol.TypingNotification{RoomID: 10, UserID: 99, UserName: "Lan", Typing: true})
	s.SetTyping("Cho mình hỏi")
	_, typing := s.Typing(10)
	require.True(t, typing)
	require.Len(t, tr.sentTo(protocol.DestTyping), 1)

	other := &models.Viewer{ID: 8, Username: "binh", Role: models.RoleUser, Token: "tok-8"}
	h.mu.Lock()
	h.room = &models.Room{ID: 11}
	h.mu.Unlock()

	require.NoError(t, s.SetViewer(other))

	assert.Nil(t, s.Room())
	assert.Empty(t, s.Messages())
	assert.Zero(t, s.Unread())
	_, typing = s.Typing(10)
	assert.False(t, typing)

	require.Eventually(t, func() bool {
		room := s.Room()
		return room != nil && room.ID == 11
	}, waitFor, tick)
	assert.Equal(t, []string{"tok-7", "tok-8"}, d.dialedTokens())
	assert.False(t, d.last().topics()[protocol.RoomTopic(10)])

	// The old idle timer must not fire into the new connection
	time.Sleep(testChatConfig().TypingIdle.Duration + 50*time.Millisecond)
	assert.Empty(t, d.last().sentTo(protocol.DestTyping))
	assert.Len(t, tr.sentTo(protocol.DestTyping), 1)

	select {
	case <-tr.Done():
	default:
		t.Fatal("old connection still open")
	}
}

func TestShopperLogout(t *testing.T) {
	s, _, _, _ := startShopper(t)

	require.NoError(t, s.SetViewer(nil))

	assert.Equal(t, StateDisconnected, s.State())
	assert.Nil(t, s.Viewer())
	assert.Empty(t, s.Messages())
}

func TestShopperIgnoresStaffIdentity(t *testing.T) {
	d := &fakeDialer{}
	s := NewShopperSession(testOptions(d, newFakeHistory()))
	defer s.Close()

	admin := &models.Viewer{ID: 1, Username: "admin", Role: models.RoleAdmin, Token: "adm"}
	require.NoError(t, s.SetViewer(admin))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, d.dials())
}

func TestShopperWithoutCredentialStaysDisconnected(t *testing.T) {
	d := &fakeDialer{}
	s := NewShopperSession(testOptions(d, newFakeHistory()))
	defer s.Close()

	guest := &models.Viewer{ID: 3, Username: "guest", Role: models.RoleUser}
	require.ErrorIs(t, s.SetViewer(guest), ErrNoCredential)

	assert.Equal(t, StateDisconnected, s.State())
	assert.Zero(t, d.dials())
}
