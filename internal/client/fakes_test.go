package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concord-chat/helpdesk/internal/logging"
	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type sentFrame struct {
	Destination string
	Body        []byte
}

// fakeTransport records what the manager asks of it and lets tests push frames
type fakeTransport struct {
	deliver FrameHandler

	mu     sync.Mutex
	subs   map[string]string // subID -> topic
	unsubs []string
	sent   []sentFrame

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeTransport(deliver FrameHandler) *fakeTransport {
	return &fakeTransport{
		deliver: deliver,
		subs:    make(map[string]string),
		done:    make(chan struct{}),
	}
}

func (t *fakeTransport) Subscribe(subID, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[subID] = topic
	return nil
}

func (t *fakeTransport) Unsubscribe(subID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, subID)
	t.unsubs = append(t.unsubs, subID)
	return nil
}

func (t *fakeTransport) Send(destination string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentFrame{Destination: destination, Body: body})
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Close() error {
	t.doneOnce.Do(func() { close(t.done) })
	return nil
}

// drop simulates the gateway going away
func (t *fakeTransport) drop() { t.Close() }

// push delivers body to every subscription on topic
func (t *fakeTransport) push(topic string, payload interface{}) {
	body, _ := json.Marshal(payload)
	t.mu.Lock()
	var ids []string
	for id, tp := range t.subs {
		if tp == topic {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.deliver(id, body)
	}
}

func (t *fakeTransport) topics() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.subs))
	for _, tp := range t.subs {
		out[tp] = true
	}
	return out
}

func (t *fakeTransport) sentTo(destination string) []sentFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentFrame
	for _, f := range t.sent {
		if f.Destination == destination {
			out = append(out, f)
		}
	}
	return out
}

// fakeDialer hands out fakeTransports; fail makes the next dials error
type fakeDialer struct {
	mu         sync.Mutex
	fail       error
	tokens     []string
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, token string, deliver FrameHandler) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.fail != nil {
		return nil, d.fail
	}
	t := newFakeTransport(deliver)
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) dialedTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeHistory serves rooms and pages from memory; gates hold a room's fetch until closed
type fakeHistory struct {
	mu         sync.Mutex
	room       *models.Room
	rooms      []*models.Room
	messages   map[int64][]*models.Message
	gates      map[int64]chan struct{}
	readGate   chan struct{}
	readTries  int
	fetchErr   error
	readErr    error
	reads      []int64
	roomsCalls int
	fetches    map[int64]int
	credential string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		messages: make(map[int64][]*models.Message),
		gates:    make(map[int64]chan struct{}),
		fetches:  make(map[int64]int),
	}
}

func (h *fakeHistory) SetCredential(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.credential = token
}

func (h *fakeHistory) FetchRoomForViewer(ctx context.Context) (*models.Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.room == nil {
		return nil, errors.New("no room")
	}
	return h.room.Clone(), nil
}

func (h *fakeHistory) FetchRoomsForStaff(ctx context.Context) ([]*models.Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roomsCalls++
	out := make([]*models.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (h *fakeHistory) FetchMessages(ctx context.Context, roomID int64, page, size int) ([]*models.Message, error) {
	h.mu.Lock()
	h.fetches[roomID]++
	gate := h.gates[roomID]
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fetchErr != nil {
		return nil, h.fetchErr
	}
	var out []*models.Message
	for _, m := range h.messages[roomID] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (h *fakeHistory) PersistReadState(ctx context.Context, roomID int64) error {
	h.mu.Lock()
	h.readTries++
	gate := h.readGate
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readErr != nil {
		return h.readErr
	}
	h.reads = append(h.reads, roomID)
	return nil
}

func (h *fakeHistory) gate(roomID int64) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	h.gates[roomID] = ch
	return ch
}

// gateReads holds every read-state request until the returned channel is closed
func (h *fakeHistory) gateReads() chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readGate = make(chan struct{})
	return h.readGate
}

// readAttempts counts read-state requests, including those still held by the gate
func (h *fakeHistory) readAttempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readTries
}

func (h *fakeHistory) readCount(roomID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range h.reads {
		if id == roomID {
			n++
		}
	}
	return n
}

func (h *fakeHistory) staffRoomCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomsCalls
}

func (h *fakeHistory) fetchCount(roomID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches[roomID]
}

// fakeSubscriber stands in for the ConnectionManager under the Registry
type fakeSubscriber struct {
	mu      sync.Mutex
	offline bool
	next    int
	live    map[string]string // id -> topic
	unsubs  int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{live: make(map[string]string)}
}

func (s *fakeSubscriber) Subscribe(topic string, handler MessageHandler) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return "", ErrNotConnected
	}
	s.next++
	id := fmt.Sprintf("%s#%d", topic, s.next)
	s.live[id] = topic
	return id, nil
}

func (s *fakeSubscriber) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; ok {
		s.unsubs++
	}
	delete(s.live, id)
}

func (s *fakeSubscriber) setOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = v
}

func (s *fakeSubscriber) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tp := range s.live {
		if tp == topic {
			n++
		}
	}
	return n
}

func (s *fakeSubscriber) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// fakePublisher records typing notifications
type fakePublisher struct {
	mu   sync.Mutex
	sent []protocol.TypingNotification
}

func (p *fakePublisher) Publish(destination string, payload interface{}) {
	n, ok := payload.(*protocol.TypingNotification)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, *n)
}

func (p *fakePublisher) notifications() []protocol.TypingNotification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.TypingNotification(nil), p.sent...)
}

// stateRecorder collects connection transitions
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) listen(s ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) seen() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func (r *stateRecorder) count(state ConnectionState) int {
	n := 0
	for _, s := range r.seen() {
		if s == state {
			n++
		}
	}
	return n
}

func testChatConfig() ChatConfig {
	return ChatConfig{
		ReconnectDelay: Duration{10 * time.Millisecond},
		TypingIdle:     Duration{200 * time.Millisecond},
		TypingExpiry:   Duration{30 * time.Millisecond},
		PageSize:       DefaultPageSize,
		WelcomeText:    DefaultWelcomeText,
	}
}

func testOptions(d Dialer, h History) SessionOptions {
	return SessionOptions{
		Dialer:  d,
		History: h,
		Chat:    testChatConfig(),
		Logger:  logging.Discard(),
	}
}

func chatMessage(id, roomID, senderID int64, content string) *protocol.ChatMessage {
	return &protocol.ChatMessage{
		ID:         id,
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: "user",
		SenderRole: "USER",
		Content:    content,
		CreatedAt:  protocol.NewTimestamp(time.Now()),
	}
}

func confirmed(id, roomID, senderID int64, content string) *models.Message {
	return chatMessage(id, roomID, senderID, content).ToModel()
}

func waitConnected(t *testing.T, d *fakeDialer, state func() ConnectionState) *fakeTransport {
	t.Helper()
	require.Eventually(t, func() bool {
		return state() == StateConnected && d.last() != nil
	}, waitFor, tick)
	return d.last()
}
