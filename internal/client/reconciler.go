package client

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/concord-chat/helpdesk/internal/models"
)

// ErrEmptyContent is returned when a message has nothing but whitespace
var ErrEmptyContent = errors.New("message content is empty")

// Reconciler owns every room's displayed message list.
// Lists are oldest first and hold at most one message per server id.
type Reconciler struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu       sync.RWMutex
	viewerID int64
	rooms    map[int64][]*models.Message
	seq      uint64
}

// NewReconciler creates a reconciler for the given viewer
func NewReconciler(viewerID int64, logger *slog.Logger, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Reconciler{
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		viewerID: viewerID,
		rooms:    make(map[int64][]*models.Message),
	}
}

// SetViewer changes whose messages count as own
func (r *Reconciler) SetViewer(viewerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewerID = viewerID
}

// OptimisticInsert appends a provisional message for a send that has not been confirmed yet
func (r *Reconciler) OptimisticInsert(roomID int64, sender *models.Viewer, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	msg := &models.Message{
		ID:         models.ProvisionalID(r.seq),
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName(),
		SenderRole: sender.Role,
		Content:    content,
		CreatedAt:  r.now(),
		Status:     models.StatusSending,
		IsOwn:      true,
	}
	r.rooms[roomID] = append(r.rooms[roomID], msg)
	return msg.Clone(), nil
}

// Apply merges a server message into its room.
// Provisional messages of the room are removed first; a server id that is
// already listed is ignored. The stored copy is returned with applied=true
// when the message was appended.
func (r *Reconciler) Apply(m *models.Message) (*models.Message, bool) {
	serverID, ok := m.ID.ServerID()
	if !ok {
		r.logger.Warn("reconciler.apply unconfirmed", "id", m.ID.String())
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := stripProvisional(r.rooms[m.RoomID])
	for _, existing := range list {
		if id, ok := existing.ID.ServerID(); ok && id == serverID {
			r.rooms[m.RoomID] = list
			r.metrics.Duplicates.Inc()
			r.logger.Debug("reconciler.duplicate", "room", m.RoomID, "id", serverID)
			return nil, false
		}
	}

	stored := r.confirm(m)
	r.rooms[m.RoomID] = append(list, stored)
	return stored.Clone(), true
}

// LoadHistory installs a newest-first history batch in front of the room's list
func (r *Reconciler) LoadHistory(roomID int64, newestFirst []*models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.rooms[roomID]
	seen := make(map[int64]struct{}, len(existing)+len(newestFirst))
	for _, m := range existing {
		if id, ok := m.ID.ServerID(); ok {
			seen[id] = struct{}{}
		}
	}

	batch := make([]*models.Message, 0, len(newestFirst)+len(existing))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if m == nil {
			continue
		}
		if id, ok := m.ID.ServerID(); ok {
			if _, dup := seen[id]; dup {
				r.metrics.Duplicates.Inc()
				continue
			}
			seen[id] = struct{}{}
		}
		batch = append(batch, r.confirm(m))
	}
	r.rooms[roomID] = append(batch, existing...)
}

// Messages returns a copy of the room's list, oldest first
func (r *Reconciler) Messages(roomID int64) []*models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.rooms[roomID]
	out := make([]*models.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

// Clear empties one room's list
func (r *Reconciler) Clear(roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// Reset drops every room's list
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[int64][]*models.Message)
}

// confirm copies m as a delivered message; isOwn is derived from the sender, never trusted
func (r *Reconciler) confirm(m *models.Message) *models.Message {
	c := m.Clone()
	c.Status = models.StatusSent
	c.IsOwn = r.viewerID != 0 && c.SenderID == r.viewerID
	return c
}

func stripProvisional(list []*models.Message) []*models.Message {
	out := list[:0:0]
	for _, m := range list {
		if m.ID.IsProvisional() {
			continue
		}
		out = append(out, m)
	}
	return out
}
