package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/pkg/crypto"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUsers(t *testing.T, db *DB) (shopper, staff *User) {
	t.Helper()
	shopper, err := db.CreateUser("an", "Nguyễn An", "hash", models.RoleUser)
	require.NoError(t, err)
	staff, err = db.CreateUser("lan", "", "hash", models.RoleAdmin)
	require.NoError(t, err)
	return shopper, staff
}

func TestUsers(t *testing.T) {
	db := newTestDB(t)
	shopper, staff := seedUsers(t, db)

	got, err := db.GetUserByUsername("an")
	require.NoError(t, err)
	assert.Equal(t, shopper.ID, got.ID)
	assert.Equal(t, "Nguyễn An", got.DisplayName())
	assert.Equal(t, models.RoleUser, got.Role)

	got, err = db.GetUserByID(staff.ID)
	require.NoError(t, err)
	assert.Equal(t, "lan", got.DisplayName())
	assert.True(t, got.Role.IsStaff())

	_, err = db.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.CreateUser("an", "", "hash", models.RoleUser)
	assert.Error(t, err, "usernames are unique")

	n, err := db.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, db.UpdatePasswordHash(shopper.ID, "rehashed"))
	got, err = db.GetUserByID(shopper.ID)
	require.NoError(t, err)
	assert.Equal(t, "rehashed", got.PasswordHash)
	assert.ErrorIs(t, db.UpdatePasswordHash(9999, "x"), ErrNotFound)
}

func TestSessions(t *testing.T) {
	db := newTestDB(t)
	shopper, _ := seedUsers(t, db)

	hash := crypto.HashToken("tok")
	id, err := db.CreateSession(shopper.ID, hash, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	u, err := db.GetUserBySession(hash)
	require.NoError(t, err)
	assert.Equal(t, shopper.ID, u.ID)

	expired := crypto.HashToken("old")
	_, err = db.CreateSession(shopper.ID, expired, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = db.GetUserBySession(expired)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.DeleteSession(hash))
	_, err = db.GetUserBySession(hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateRoomIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	shopper, _ := seedUsers(t, db)

	first, err := db.GetOrCreateRoom(shopper.ID)
	require.NoError(t, err)
	second, err := db.GetOrCreateRoom(shopper.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.UserLastSeen.IsZero())

	_, err = db.GetRoom(first.ID + 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateMessageBumpsCounterpartUnread(t *testing.T) {
	db := newTestDB(t)
	shopper, staff := seedUsers(t, db)
	room, err := db.GetOrCreateRoom(shopper.ID)
	require.NoError(t, err)

	m, err := db.CreateMessage(room.ID, shopper, "Shop ơi")
	require.NoError(t, err)
	assert.Equal(t, "Nguyễn An", m.SenderName)
	_, err = db.CreateMessage(room.ID, shopper, "Còn hàng không?")
	require.NoError(t, err)
	_, err = db.CreateMessage(room.ID, staff, "Dạ còn")
	require.NoError(t, err)

	room, err = db.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, room.UnreadForAdmin)
	assert.Equal(t, 1, room.UnreadForUser)

	total, err := db.TotalUnreadForAdmin()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestGetMessagesNewestFirstPaged(t *testing.T) {
	db := newTestDB(t)
	shopper, staff := seedUsers(t, db)
	room, err := db.GetOrCreateRoom(shopper.ID)
	require.NoError(t, err)

	for _, content := range []string{"một", "hai", "ba"} {
		_, err := db.CreateMessage(room.ID, shopper, content)
		require.NoError(t, err)
	}
	_, err = db.CreateMessage(room.ID, staff, "bốn")
	require.NoError(t, err)

	page, err := db.GetMessages(room.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "bốn", page[0].Content)
	assert.Equal(t, models.RoleAdmin, page[0].SenderRole)
	assert.Equal(t, "lan", page[0].SenderName)
	assert.Equal(t, "ba", page[1].Content)

	page, err = db.GetMessages(room.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "một", page[1].Content)

	last, err := db.GetLastMessage(room.ID)
	require.NoError(t, err)
	assert.Equal(t, "bốn", last.Content)
}

func TestGetLastMessageEmptyRoom(t *testing.T) {
	db := newTestDB(t)
	shopper, _ := seedUsers(t, db)
	room, err := db.GetOrCreateRoom(shopper.ID)
	require.NoError(t, err)

	last, err := db.GetLastMessage(room.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestMarkReadZeroesOneSide(t *testing.T) {
	db := newTestDB(t)
	shopper, staff := seedUsers(t, db)
	room, err := db.GetOrCreateRoom(shopper.ID)
	require.NoError(t, err)

	_, err = db.CreateMessage(room.ID, shopper, "Alo")
	require.NoError(t, err)
	_, err = db.CreateMessage(room.ID, staff, "Dạ")
	require.NoError(t, err)

	require.NoError(t, db.MarkRead(room.ID, true))

	room, err = db.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Zero(t, room.UnreadForAdmin)
	assert.Equal(t, 1, room.UnreadForUser)
	assert.False(t, room.AdminLastSeen.IsZero())
	assert.True(t, room.UserLastSeen.IsZero())

	msgs, err := db.GetMessages(room.ID, 0, 10)
	require.NoError(t, err)
	assert.True(t, msgs[0].ReadAt.IsZero(), "staff reply stays unread for the shopper")
	assert.False(t, msgs[1].ReadAt.IsZero())

	assert.ErrorIs(t, db.MarkRead(room.ID+1, false), ErrNotFound)
}

func TestGetRoomsOrderedByActivity(t *testing.T) {
	db := newTestDB(t)
	shopper, _ := seedUsers(t, db)
	other, err := db.CreateUser("binh", "Trần Bình", "hash", models.RoleUser)
	require.NoError(t, err)

	older, err := db.GetOrCreateRoom(shopper.ID)
	require.NoError(t, err)
	newer, err := db.GetOrCreateRoom(other.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = db.CreateMessage(older.ID, shopper, "lên đầu")
	require.NoError(t, err)

	rooms, err := db.GetRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, older.ID, rooms[0].ID)
	assert.Equal(t, newer.ID, rooms[1].ID)
}
