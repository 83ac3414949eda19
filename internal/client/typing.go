package client

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

const (
	// DefaultTypingIdle is how long after the last keystroke typing=false is sent
	DefaultTypingIdle = time.Second

	// DefaultTypingExpiry is how long a remote typing indicator lives without a refresh
	DefaultTypingExpiry = 3 * time.Second
)

// Publisher is the fire-and-forget publish primitive
type Publisher interface {
	Publish(destination string, payload interface{})
}

type typingEntry struct {
	state models.TypingState
	timer *time.Timer
	seq   uint64
}

// TypingDebouncer rate-limits outgoing typing signals and expires incoming ones
type TypingDebouncer struct {
	pub    Publisher
	idle   time.Duration
	expiry time.Duration
	logger *slog.Logger
	now    func() time.Time

	// OnChange is called outside the lock whenever a room's indicator changes
	OnChange func(models.TypingState)

	mu         sync.Mutex
	viewerID   int64
	viewerName string

	outRoom   int64
	outActive bool
	outTimer  *time.Timer
	outSeq    uint64

	rooms map[int64]*typingEntry
	seq   uint64
}

// NewTypingDebouncer creates a debouncer publishing through pub
func NewTypingDebouncer(pub Publisher, idle, expiry time.Duration, logger *slog.Logger) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingDebouncer{
		pub:    pub,
		idle:   idle,
		expiry: expiry,
		logger: logger,
		now:    time.Now,
		rooms:  make(map[int64]*typingEntry),
	}
}

// SetViewer sets the identity stamped on outgoing signals and filtered from incoming ones
func (d *TypingDebouncer) SetViewer(id int64, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewerID = id
	d.viewerName = name
}

// Keystroke records input activity in roomID; text is the current input value
func (d *TypingDebouncer) Keystroke(roomID int64, text string) {
	if strings.TrimSpace(text) == "" {
		d.StopTyping()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.outActive && d.outRoom != roomID {
		d.publishLocked(d.outRoom, false)
		d.outActive = false
	}
	if !d.outActive {
		d.outActive = true
		d.outRoom = roomID
		d.publishLocked(roomID, true)
	}

	d.outSeq++
	seq := d.outSeq
	if d.outTimer != nil {
		d.outTimer.Stop()
	}
	d.outTimer = time.AfterFunc(d.idle, func() { d.idleElapsed(seq) })
}

// StopTyping publishes typing=false immediately if a true is outstanding
func (d *TypingDebouncer) StopTyping() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(true)
}

func (d *TypingDebouncer) idleElapsed(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if seq != d.outSeq {
		return
	}
	d.stopLocked(true)
}

func (d *TypingDebouncer) stopLocked(publish bool) {
	d.outSeq++
	if d.outTimer != nil {
		d.outTimer.Stop()
		d.outTimer = nil
	}
	if d.outActive && publish {
		d.publishLocked(d.outRoom, false)
	}
	d.outActive = false
}

func (d *TypingDebouncer) publishLocked(roomID int64, typing bool) {
	d.pub.Publish(protocol.DestTyping, &protocol.TypingNotification{
		RoomID:   roomID,
		UserID:   d.viewerID,
		UserName: d.viewerName,
		Typing:   typing,
	})
}

// Receive applies an incoming typing notification
func (d *TypingDebouncer) Receive(n protocol.TypingNotification) {
	d.mu.Lock()
	if n.UserID == d.viewerID {
		d.mu.Unlock()
		return
	}

	e, ok := d.rooms[n.RoomID]
	if e != nil && e.timer != nil {
		e.timer.Stop()
	}

	var state models.TypingState
	if n.Typing {
		if !ok {
			e = &typingEntry{}
			d.rooms[n.RoomID] = e
		}
		d.seq++
		seq := d.seq
		roomID := n.RoomID
		e.seq = seq
		e.state = models.TypingState{
			RoomID:     n.RoomID,
			ByUserID:   n.UserID,
			ByUserName: n.UserName,
			IsTyping:   true,
			ExpiresAt:  d.now().Add(d.expiry),
		}
		e.timer = time.AfterFunc(d.expiry, func() { d.expire(roomID, seq) })
		state = e.state
	} else {
		if !ok {
			d.mu.Unlock()
			return
		}
		delete(d.rooms, n.RoomID)
		state = models.TypingState{RoomID: n.RoomID, ByUserID: n.UserID, ByUserName: n.UserName}
	}
	onChange := d.OnChange
	d.mu.Unlock()

	if onChange != nil {
		onChange(state)
	}
}

func (d *TypingDebouncer) expire(roomID int64, seq uint64) {
	d.mu.Lock()
	e, ok := d.rooms[roomID]
	if !ok || e.seq != seq {
		d.mu.Unlock()
		return
	}
	delete(d.rooms, roomID)
	state := models.TypingState{RoomID: roomID, ByUserID: e.state.ByUserID, ByUserName: e.state.ByUserName}
	onChange := d.OnChange
	d.mu.Unlock()

	d.logger.Debug("typing.expired", "room", roomID)
	if onChange != nil {
		onChange(state)
	}
}

// State returns the active indicator for roomID
func (d *TypingDebouncer) State(roomID int64) (models.TypingState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.rooms[roomID]
	if !ok {
		return models.TypingState{}, false
	}
	return e.state, true
}

// IsTyping reports whether someone else is typing in roomID
func (d *TypingDebouncer) IsTyping(roomID int64) bool {
	_, ok := d.State(roomID)
	return ok
}

// Reset cancels every timer and clears all state without publishing
func (d *TypingDebouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(false)
	for id, e := range d.rooms {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.rooms, id)
	}
}
