package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

// ErrNoActiveRoom is returned when sending before a room is known or selected
var ErrNoActiveRoom = errors.New("no active room")

// EventKind says which part of the chat state changed
type EventKind int

const (
	EventConnection EventKind = iota
	EventMessages
	EventTyping
	EventUnread
	EventRooms
	EventSelection
)

// Event tells the UI to re-read part of the session state
type Event struct {
	Kind   EventKind
	RoomID int64
	State  ConnectionState
}

// SessionOptions configures a shopper or staff session
type SessionOptions struct {
	Dialer  Dialer
	History History
	Chat    ChatConfig
	Logger  *slog.Logger
	Metrics *Metrics
}

// session holds what both chat variants share: one connection, its
// subscriptions and the per-room stores, all torn down on identity change
type session struct {
	opts    SessionOptions
	logger  *slog.Logger
	conn    *ConnectionManager
	history History

	registry   *Registry
	reconciler *Reconciler
	typing     *TypingDebouncer
	unread     *UnreadTracker

	events chan Event

	// mu guards viewer and serializes identity changes against async loads
	mu        sync.Mutex
	viewer    *models.Viewer
	genCancel context.CancelFunc

	// work holds the context.Context cancelled on the next identity change.
	// It is read without mu so topic handlers can capture it.
	work     atomic.Value
	gen      atomic.Uint64
	viewerID atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(opts SessionOptions) *session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Chat.PageSize <= 0 {
		opts.Chat.PageSize = DefaultPageSize
	}
	if opts.Chat.WelcomeText == "" {
		opts.Chat.WelcomeText = DefaultWelcomeText
	}

	conn := NewConnectionManager(opts.Dialer,
		WithLogger(opts.Logger),
		WithMetrics(opts.Metrics),
		WithReconnectStrategy(&ReconnectStrategy{Delay: opts.Chat.ReconnectDelay.Duration}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		opts:       opts,
		logger:     opts.Logger,
		conn:       conn,
		history:    opts.History,
		registry:   NewRegistry(conn, opts.Logger),
		reconciler: NewReconciler(0, opts.Logger, opts.Metrics),
		typing:     NewTypingDebouncer(conn, opts.Chat.TypingIdle.Duration, opts.Chat.TypingExpiry.Duration, opts.Logger),
		unread:     NewUnreadTracker(opts.History, opts.Logger),
		events:     make(chan Event, 64),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.resetWork()

	s.typing.OnChange = func(t models.TypingState) {
		s.emit(Event{Kind: EventTyping, RoomID: t.RoomID})
	}
	s.unread.OnChange = func(roomID int64, _, _ int) {
		s.emit(Event{Kind: EventUnread, RoomID: roomID})
	}
	return s
}

// Events delivers change notifications; slow readers miss intermediate events
func (s *session) Events() <-chan Event {
	return s.events
}

// State returns the connection state
func (s *session) State() ConnectionState {
	return s.conn.State()
}

// Viewer returns the current identity
func (s *session) Viewer() *models.Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

// Typing returns the remote typing indicator of roomID
func (s *session) Typing(roomID int64) (models.TypingState, bool) {
	return s.typing.State(roomID)
}

// UnreadTotal returns the aggregate unread badge count
func (s *session) UnreadTotal() int {
	return s.unread.Total()
}

func (s *session) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

// switchIdentityLocked tears everything down for the old viewer; the caller holds s.mu.
// reset clears the variant's own state and runs before the shared stores are reset.
func (s *session) switchIdentityLocked(v *models.Viewer, reset func()) {
	s.gen.Add(1)
	s.genCancel()
	s.resetWork()
	s.viewer = v

	s.conn.Disconnect()
	reset()
	s.registry.Clear()
	s.typing.Reset()
	s.reconciler.Reset()
	s.unread.Reset()

	var id int64
	var name, token string
	if v != nil {
		id, name, token = v.ID, v.DisplayName(), v.Token
	}
	s.viewerID.Store(id)
	s.reconciler.SetViewer(id)
	s.typing.SetViewer(id, name)
	if cs, ok := s.history.(CredentialSetter); ok {
		cs.SetCredential(token)
	}
}

// current reports whether gen still belongs to the active identity
func (s *session) current(gen uint64) bool {
	return s.gen.Load() == gen
}

// workContext returns the context cancelled on the next identity change
func (s *session) workContext() context.Context {
	return s.work.Load().(context.Context)
}

// resetWork starts a new work context; the caller holds s.mu or owns s
func (s *session) resetWork() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.work.Store(ctx)
	s.genCancel = cancel
}

// markReadAsync persists a live read for the identity that received the message.
// A switch while the request is in flight cancels it and leaves the new counters alone.
func (s *session) markReadAsync(roomID int64) {
	gen := s.gen.Load()
	ctx := s.workContext()
	go func() {
		if !s.current(gen) {
			return
		}
		// Failure is logged by the tracker
		_ = s.unread.MarkRead(ctx, roomID)
	}()
}

// send validates and performs an optimistic send into roomID
func (s *session) send(roomID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	s.mu.Lock()
	viewer := s.viewer
	s.mu.Unlock()
	if roomID == 0 || viewer == nil {
		return ErrNoActiveRoom
	}
	if !s.conn.Connected() {
		return ErrNotConnected
	}

	msg, err := s.reconciler.OptimisticInsert(roomID, viewer, content)
	if err != nil {
		return err
	}
	s.conn.Publish(protocol.DestSendMessage, &protocol.SendMessageRequest{
		RoomID:   roomID,
		Content:  msg.Content,
		SenderID: viewer.ID,
	})
	s.typing.StopTyping()
	s.emit(Event{Kind: EventMessages, RoomID: roomID})
	return nil
}

func (s *session) onTyping(body []byte) {
	var n protocol.TypingNotification
	if err := json.Unmarshal(body, &n); err != nil {
		s.logger.Warn("typing.decode", "error", err)
		return
	}
	s.typing.Receive(n)
}

// connectionLost clears what depended on the live connection
func (s *session) connectionLost() {
	s.registry.Drop()
	s.typing.Reset()
	s.unread.Reset()
}

// close disconnects and stops background work
func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.Add(1)
	s.genCancel()
	s.cancel()
	s.conn.Disconnect()
	s.registry.Clear()
	s.typing.Reset()
}
