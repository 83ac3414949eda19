package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/concord-chat/helpdesk/internal/database"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type userKey struct{}

// requireUser resolves the bearer credential and stores the user in the request context
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.handlers.Authenticate(protocol.BearerToken(r.Header.Get(protocol.HeaderAuthorization)))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

// requireStaff is requireUser restricted to staff roles
func (s *Server) requireStaff(next http.HandlerFunc) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if !currentUser(r).Role.IsStaff() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func currentUser(r *http.Request) *database.User {
	u, _ := r.Context().Value(userKey{}).(*database.User)
	return u
}

// handleGetRoom returns the caller's own room, creating it on first use
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.db.GetOrCreateRoom(currentUser(r).ID)
	if err != nil {
		s.internalError(w, "api.room", err)
		return
	}
	out, err := s.handlers.chatRoom(room)
	if err != nil {
		s.internalError(w, "api.room", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetRooms lists every room for the staff console, most recent first
func (s *Server) handleGetRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.db.GetRooms()
	if err != nil {
		s.internalError(w, "api.rooms", err)
		return
	}

	out := make([]*protocol.ChatRoom, 0, len(rooms))
	for _, room := range rooms {
		cr, err := s.handlers.chatRoom(room)
		if err != nil {
			s.internalError(w, "api.rooms", err)
			return
		}
		out = append(out, cr)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetMessages returns one page of a room's messages, newest first
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomFromPath(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", defaultPageSize)
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}

	msgs, err := s.db.GetMessages(roomID, page, size)
	if err != nil {
		s.internalError(w, "api.messages", err)
		return
	}

	out := make([]*protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toChatMessage(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMarkRead clears the caller's side of a room's unread counter
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomFromPath(w, r)
	if !ok {
		return
	}
	if err := s.db.MarkRead(roomID, currentUser(r).Role.IsStaff()); err != nil {
		s.internalError(w, "api.read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnreadCount returns the staff-side unread total across all rooms
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.TotalUnreadForAdmin()
	if err != nil {
		s.internalError(w, "api.unread", err)
		return
	}
	writeJSON(w, http.StatusOK, &protocol.UnreadCount{Count: n})
}

// roomFromPath parses {id} and checks the caller may access the room
func (s *Server) roomFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	roomID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "Invalid room id", http.StatusBadRequest)
		return 0, false
	}

	_, err = s.handlers.authorizeRoom(currentUser(r), roomID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "Room not found", http.StatusNotFound)
		return 0, false
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
		return 0, false
	case err != nil:
		s.internalError(w, "api.room access", err)
		return 0, false
	}
	return roomID, true
}

func (s *Server) internalError(w http.ResponseWriter, event string, err error) {
	s.logger.Error(event, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
