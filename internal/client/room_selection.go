package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/concord-chat/helpdesk/internal/models"
)

// ErrSelectionSuperseded is returned when another selection replaced this one mid-load
var ErrSelectionSuperseded = errors.New("room selection superseded")

// SelectionState is the lifecycle of the active room in the staff console
type SelectionState int

const (
	SelectionNone SelectionState = iota
	SelectionLoading
	SelectionReady
)

// String returns a human-readable selection state
func (s SelectionState) String() string {
	switch s {
	case SelectionNone:
		return "NONE_SELECTED"
	case SelectionLoading:
		return "LOADING"
	case SelectionReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// MessageFetcher loads a page of a room's history, newest first
type MessageFetcher interface {
	FetchMessages(ctx context.Context, roomID int64, page, size int) ([]*models.Message, error)
}

// RoomSelector tracks which room is active and wires history and live topics to it
type RoomSelector struct {
	history    MessageFetcher
	reconciler *Reconciler
	registry   *Registry
	unread     *UnreadTracker
	bindings   func(roomID int64) []Binding
	pageSize   int
	logger     *slog.Logger

	// OnChange is called outside the lock on every state change
	OnChange func(state SelectionState, roomID int64)

	mu     sync.Mutex
	state  SelectionState
	active int64
	token  uint64
}

// NewRoomSelector creates a selector; bindings returns the live topics of a room
func NewRoomSelector(history MessageFetcher, reconciler *Reconciler, registry *Registry, unread *UnreadTracker,
	bindings func(roomID int64) []Binding, pageSize int, logger *slog.Logger) *RoomSelector {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomSelector{
		history:    history,
		reconciler: reconciler,
		registry:   registry,
		unread:     unread,
		bindings:   bindings,
		pageSize:   pageSize,
		logger:     logger,
	}
}

// Active returns the selected room and the selection state
func (s *RoomSelector) Active() (int64, SelectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.state
}

// Select makes roomID active: the previous list is cleared at once, history is
// loaded, then live topics are attached, then unread messages are marked read.
// A result that arrives after another Select is discarded.
//
// Selecting the READY room again is a no-op only while its topics are live;
// a room activated while disconnected is reloaded on the next Select.
// When the history fetch fails the room stays active in LOADING with no live
// topics, and the error is returned. Selecting it again retries the load.
func (s *RoomSelector) Select(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	if roomID == s.active && s.state == SelectionReady && s.registry.RoomLive(roomID) {
		s.mu.Unlock()
		return nil
	}
	prev := s.active
	s.token++
	token := s.token
	s.active = roomID
	s.state = SelectionLoading
	if prev != 0 && prev != roomID {
		s.registry.DeactivateRoom()
		s.reconciler.Clear(prev)
	}
	s.reconciler.Clear(roomID)
	s.mu.Unlock()

	s.changed(SelectionLoading, roomID)

	msgs, err := s.history.FetchMessages(ctx, roomID, 0, s.pageSize)

	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		s.logger.Debug("selection.superseded", "room", roomID)
		return ErrSelectionSuperseded
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("selection.history failed", "room", roomID, "error", err)
		return fmt.Errorf("load history for room %d: %w", roomID, err)
	}
	s.reconciler.LoadHistory(roomID, msgs)
	s.registry.ActivateRoom(roomID, s.bindings(roomID)...)
	s.state = SelectionReady
	live := s.registry.RoomLive(roomID)
	s.mu.Unlock()

	if !live {
		s.logger.Debug("selection.offline", "room", roomID)
	}
	s.changed(SelectionReady, roomID)

	if s.unread.Count(roomID) > 0 {
		// Failure is logged by the tracker and leaves the counter as it was
		_ = s.unread.MarkRead(ctx, roomID)
	}
	return nil
}

// Deselect clears the selection, e.g. when a search filters every room out
func (s *RoomSelector) Deselect() {
	s.mu.Lock()
	prev := s.active
	wasNone := s.state == SelectionNone
	s.token++
	s.active = 0
	s.state = SelectionNone
	s.registry.DeactivateRoom()
	if prev != 0 {
		s.reconciler.Clear(prev)
	}
	s.mu.Unlock()

	if !wasNone {
		s.changed(SelectionNone, 0)
	}
}

// Invalidate marks a READY room as LOADING after its live topics were lost.
// A load in flight is left to finish; the next Select reloads the room either way.
func (s *RoomSelector) Invalidate() {
	s.mu.Lock()
	changed := s.state == SelectionReady
	if changed {
		s.state = SelectionLoading
	}
	active := s.active
	s.mu.Unlock()

	if changed {
		s.changed(SelectionLoading, active)
	}
}

func (s *RoomSelector) changed(state SelectionState, roomID int64) {
	if s.OnChange != nil {
		s.OnChange(state, roomID)
	}
}
