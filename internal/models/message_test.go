package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageIDVariants(t *testing.T) {
	p := ProvisionalID(7)
	assert.True(t, p.IsProvisional())
	_, ok := p.ServerID()
	assert.False(t, ok)
	seq, ok := p.ClientSeq()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), seq)

	c := ConfirmedID(42)
	assert.False(t, c.IsProvisional())
	id, ok := c.ServerID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "42", c.String())

	// A provisional sequence number never collides with a server id
	assert.NotEqual(t, ProvisionalID(42), ConfirmedID(42))

	s := SystemID(WelcomeMessageID)
	assert.Equal(t, IDSystem, s.Kind())
	assert.Equal(t, "welcome-msg", s.String())
}

func TestWelcomeMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	m := NewWelcomeMessage(3, "hi", at)
	assert.Equal(t, int64(3), m.RoomID)
	assert.Equal(t, SystemSenderName, m.SenderName)
	assert.Equal(t, RoleAdmin, m.SenderRole)
	assert.Equal(t, StatusSent, m.Status)
	assert.False(t, m.IsOwn)
}

func TestRoleAndViewer(t *testing.T) {
	assert.Equal(t, RoleStaff, ParseRole(" staff "))
	assert.Equal(t, RoleUser, ParseRole("guest"))
	assert.True(t, RoleManager.IsStaff())
	assert.False(t, RoleUser.IsStaff())

	v := &Viewer{ID: 1, Username: "lan", Role: RoleUser}
	assert.Equal(t, "lan", v.DisplayName())
	v.FullName = "Nguyen Lan"
	assert.Equal(t, "Nguyen Lan", v.DisplayName())
	assert.False(t, v.HasCredential())

	var nilViewer *Viewer
	assert.False(t, nilViewer.IsStaff())
	assert.True(t, nilViewer.SameIdentity(nil))
}

func TestRoomMatches(t *testing.T) {
	r := &Room{CounterpartName: "Trần Minh", CounterpartUsername: "minh88"}
	assert.True(t, r.Matches(""))
	assert.True(t, r.Matches("MINH"))
	assert.True(t, r.Matches("88"))
	assert.False(t, r.Matches("lan"))
}
