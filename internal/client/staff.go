package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

// ErrNotStaff is returned when a non-staff identity opens the staff console
var ErrNotStaff = errors.New("staff role required")

// seenBroadcasts bounds the ids remembered for broadcast dedup
const seenBroadcasts = 2048

// StaffSession is the multi-room console used by staff.
// The staff broadcast topic is bound for the whole session; room topics
// follow the RoomSelector.
type StaffSession struct {
	*session

	selector *RoomSelector
	seen     *lru.Cache[int64, struct{}]
	refresh  singleflight.Group

	roomsMu sync.RWMutex
	rooms   map[int64]*models.Room
	search  string
}

// NewStaffSession creates a staff session; call SetViewer to start it
func NewStaffSession(opts SessionOptions) *StaffSession {
	s := &StaffSession{
		session: newSession(opts),
		rooms:   make(map[int64]*models.Room),
	}
	s.seen, _ = lru.New[int64, struct{}](seenBroadcasts)
	s.selector = NewRoomSelector(s.history, s.reconciler, s.registry, s.unread,
		s.roomBindings, s.opts.Chat.PageSize, s.logger)
	s.selector.OnChange = func(_ SelectionState, roomID int64) {
		s.emit(Event{Kind: EventSelection, RoomID: roomID})
		s.emit(Event{Kind: EventMessages, RoomID: roomID})
	}
	s.conn.OnStateChange(s.onState)
	return s
}

// SetViewer is the identity-change signal: login, logout (nil) and account switches
func (s *StaffSession) SetViewer(v *models.Viewer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v != nil && !v.IsStaff() {
		s.switchIdentityLocked(nil, s.resetRooms)
		s.emit(Event{Kind: EventRooms})
		return fmt.Errorf("%w: %s", ErrNotStaff, v.Role)
	}
	if s.viewer.SameIdentity(v) {
		return nil
	}
	s.switchIdentityLocked(v, s.resetRooms)
	s.emit(Event{Kind: EventRooms})

	if v == nil {
		return nil
	}
	s.registry.BindSession(Binding{Topic: protocol.StaffBroadcastTopic, Handler: s.onBroadcast})
	return s.conn.Connect(v.Token)
}

// Rooms returns the rooms matching the search filter, most recently active first
func (s *StaffSession) Rooms() []*models.Room {
	s.roomsMu.RLock()
	out := s.filteredLocked()
	s.roomsMu.RUnlock()

	for _, r := range out {
		r.UnreadCount = s.unread.Count(r.ID)
	}
	return out
}

// SetSearch filters the room list by counterpart name
func (s *StaffSession) SetSearch(query string) {
	s.roomsMu.Lock()
	s.search = query
	empty := len(s.filteredLocked()) == 0
	s.roomsMu.Unlock()

	s.emit(Event{Kind: EventRooms})
	if empty {
		s.selector.Deselect()
	}
}

// ActiveRoom returns the selected room and the selection state
func (s *StaffSession) ActiveRoom() (int64, SelectionState) {
	return s.selector.Active()
}

// SelectRoom activates roomID, loading its history before going live
func (s *StaffSession) SelectRoom(ctx context.Context, roomID int64) error {
	s.typing.StopTyping()
	return s.selector.Select(ctx, roomID)
}

// Messages returns the active room's messages, oldest first
func (s *StaffSession) Messages() []*models.Message {
	id, _ := s.selector.Active()
	if id == 0 {
		return nil
	}
	return s.reconciler.Messages(id)
}

// SendMessage validates content and sends it optimistically to the active room
func (s *StaffSession) SendMessage(content string) error {
	id, _ := s.selector.Active()
	return s.send(id, content)
}

// SetTyping reports the current input value for typing signals
func (s *StaffSession) SetTyping(text string) {
	if id, _ := s.selector.Active(); id != 0 {
		s.typing.Keystroke(id, text)
	}
}

// MarkRead persists the read state of roomID
func (s *StaffSession) MarkRead(ctx context.Context, roomID int64) error {
	return s.unread.MarkRead(ctx, roomID)
}

// RefreshRooms reloads the room list and unread counters
func (s *StaffSession) RefreshRooms(ctx context.Context) error {
	return s.refreshRooms(ctx, s.gen.Load())
}

// Close disconnects the session for good
func (s *StaffSession) Close() {
	s.close()
}

func (s *StaffSession) roomBindings(roomID int64) []Binding {
	return []Binding{
		{Topic: protocol.RoomTopic(roomID), Handler: s.onRoomMessage},
		{Topic: protocol.TypingTopic(roomID), Handler: s.onTyping},
	}
}

func (s *StaffSession) resetRooms() {
	s.selector.Deselect()
	s.seen.Purge()
	s.roomsMu.Lock()
	s.rooms = make(map[int64]*models.Room)
	s.search = ""
	s.roomsMu.Unlock()
}

func (s *StaffSession) onState(state ConnectionState) {
	s.emit(Event{Kind: EventConnection, State: state})

	switch state {
	case StateConnected:
		s.registry.Resync()
		go s.bootstrap(s.gen.Load())
	case StateDisconnected, StateErrored:
		s.connectionLost()
		s.selector.Invalidate()
	}
}

// bootstrap loads the room list and reselects the previous room, or the first one
func (s *StaffSession) bootstrap(gen uint64) {
	ctx := s.workContext()
	if err := s.refreshRooms(ctx, gen); err != nil {
		s.logger.Warn("staff.rooms failed", "error", err)
		return
	}

	prev, _ := s.selector.Active()
	rooms := s.Rooms()
	if len(rooms) == 0 {
		return
	}
	target := rooms[0].ID
	for _, r := range rooms {
		if r.ID == prev {
			target = prev
			break
		}
	}

	if !s.current(gen) {
		return
	}
	if err := s.selector.Select(ctx, target); err != nil && !errors.Is(err, ErrSelectionSuperseded) {
		s.logger.Warn("staff.select failed", "room", target, "error", err)
	}
}

// refreshRooms collapses concurrent reloads of the same identity into one request
func (s *StaffSession) refreshRooms(ctx context.Context, gen uint64) error {
	_, err, _ := s.refresh.Do(fmt.Sprintf("rooms-%d", gen), func() (interface{}, error) {
		rooms, err := s.history.FetchRoomsForStaff(ctx)
		if err != nil {
			return nil, err
		}

		s.roomsMu.Lock()
		defer s.roomsMu.Unlock()
		if !s.current(gen) {
			return nil, nil
		}
		s.rooms = make(map[int64]*models.Room, len(rooms))
		counts := make(map[int64]int, len(rooms))
		for _, r := range rooms {
			s.rooms[r.ID] = r
			counts[r.ID] = r.UnreadCount
		}
		s.unread.Replace(counts)
		return nil, nil
	})
	if err != nil {
		return err
	}

	s.emit(Event{Kind: EventRooms})
	s.roomsMu.RLock()
	empty := len(s.filteredLocked()) == 0
	s.roomsMu.RUnlock()
	if empty {
		s.selector.Deselect()
	}
	return nil
}

// onBroadcast patches the room list from the staff-wide new-message topic
func (s *StaffSession) onBroadcast(body []byte) {
	var p protocol.ChatMessage
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Warn("staff.decode broadcast", "error", err)
		return
	}
	m := p.ToModel()
	gen := s.gen.Load()

	s.roomsMu.Lock()
	room, known := s.rooms[m.RoomID]
	if known {
		room.ApplySummary(m)
	}
	s.roomsMu.Unlock()

	dup, _ := s.seen.ContainsOrAdd(p.ID, struct{}{})
	active, _ := s.selector.Active()
	if !dup && m.SenderID != s.viewerID.Load() && m.RoomID != active {
		s.unread.Increment(m.RoomID)
	}
	s.emit(Event{Kind: EventRooms, RoomID: m.RoomID})

	if !known {
		ctx := s.workContext()
		go func() {
			if err := s.refreshRooms(ctx, gen); err != nil {
				s.logger.Warn("staff.rooms failed", "error", err)
			}
		}()
	}
}

// onRoomMessage applies a live message of the active room and keeps it read
func (s *StaffSession) onRoomMessage(body []byte) {
	var p protocol.ChatMessage
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Warn("staff.decode", "error", err)
		return
	}

	m, ok := s.reconciler.Apply(p.ToModel())
	if !ok {
		return
	}
	s.roomsMu.Lock()
	if room, known := s.rooms[m.RoomID]; known {
		room.ApplySummary(m)
	}
	s.roomsMu.Unlock()

	s.emit(Event{Kind: EventMessages, RoomID: m.RoomID})
	if !m.IsOwn {
		s.markReadAsync(m.RoomID)
	}
}

// filteredLocked returns copies of matching rooms; the caller holds roomsMu
func (s *StaffSession) filteredLocked() []*models.Room {
	out := make([]*models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.Matches(s.search) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
