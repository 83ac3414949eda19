package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/concord-chat/helpdesk/internal/database"
	"github.com/concord-chat/helpdesk/internal/protocol"
	"github.com/concord-chat/helpdesk/pkg/crypto"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Size of client send buffer
	sendBufferSize = 256

	// How long a session without CONNECT is kept open
	connectWait = 10 * time.Second
)

// Client represents a connected WebSocket session
type Client struct {
	// The WebSocket connection
	conn *websocket.Conn

	// The hub this client is connected to
	hub *Hub

	// Buffered channel of outbound frames
	send chan *protocol.Frame

	// Closed when the session ends
	done      chan struct{}
	closeOnce sync.Once

	// User information (set after CONNECT)
	User      *database.User
	SessionID string

	// User resolved from the upgrade request, if it carried a credential
	upgradeUser *database.User

	// Connection state
	authenticated bool
	authMu        sync.RWMutex

	handlers *Handlers
	metrics  *Metrics
	logger   *slog.Logger
}

// NewClient creates a new client instance
func NewClient(conn *websocket.Conn, hub *Hub, handlers *Handlers, upgradeUser *database.User) *Client {
	return &Client{
		conn:        conn,
		hub:         hub,
		send:        make(chan *protocol.Frame, sendBufferSize),
		done:        make(chan struct{}),
		upgradeUser: upgradeUser,
		handlers:    handlers,
		metrics:     handlers.metrics,
		logger:      handlers.logger,
	}
}

// ReadPump pumps frames from the WebSocket connection to the handlers
func (c *Client) ReadPump() {
	defer func() {
		if c.IsAuthenticated() {
			c.hub.Unregister(c)
		}
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(connectWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("ws.read", "session", c.SessionID, "error", err)
			}
			return
		}

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendError("invalid frame")
			continue
		}
		c.metrics.FramesIn.WithLabelValues(string(f.Command)).Inc()

		if !c.handleFrame(&f) {
			return
		}
	}
}

// WritePump pumps frames from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.logger.Warn("ws.write", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush what is already queued, typically a final ERROR
			for {
				select {
				case f := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(f); err != nil {
						return
					}
				default:
					c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

// handleFrame processes one frame; it returns false when the session must end
func (c *Client) handleFrame(f *protocol.Frame) bool {
	switch f.Command {
	case protocol.CmdConnect:
		return c.handleConnect(f)

	case protocol.CmdSubscribe:
		c.requireAuth(func() { c.handleSubscribe(f) })

	case protocol.CmdUnsubscribe:
		c.requireAuth(func() { c.hub.Unsubscribe(c, f.Subscription) })

	case protocol.CmdSend:
		c.requireAuth(func() {
			if err := c.handlers.HandleSend(c.User, f.Destination, f.Body); err != nil {
				c.logger.Info("ws.send rejected", "session", c.SessionID, "destination", f.Destination, "error", err)
				c.sendError(err.Error())
			}
		})

	case protocol.CmdDisconnect:
		return false

	default:
		c.sendError("unknown command " + string(f.Command))
	}
	return true
}

// handleConnect authenticates the session with the frame's bearer credential
func (c *Client) handleConnect(f *protocol.Frame) bool {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.authenticated {
		c.sendError("already connected")
		return true
	}

	user, err := c.handlers.Authenticate(protocol.BearerToken(f.Header(protocol.HeaderAuthorization)))
	if err != nil {
		c.logger.Info("ws.connect rejected", "error", err)
		c.sendError("authentication failed")
		return false
	}
	if c.upgradeUser != nil && c.upgradeUser.ID != user.ID {
		c.sendError("credential mismatch")
		return false
	}

	c.User = user
	c.SessionID = crypto.NewID()
	c.authenticated = true
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	c.hub.Register(c)

	reply := &protocol.Frame{Command: protocol.CmdConnected}
	reply.SetHeader(protocol.HeaderSession, c.SessionID)
	c.enqueue(reply)

	c.logger.Info("ws.connected", "user", user.Username, "session", c.SessionID,
		"client", f.Header(protocol.HeaderClientID))
	return true
}

func (c *Client) handleSubscribe(f *protocol.Frame) {
	if f.Subscription == "" || f.Destination == "" {
		c.sendError("subscription id and destination are required")
		return
	}
	if !c.handlers.CanSubscribe(c.User, f.Destination) {
		c.logger.Info("ws.subscribe denied", "user", c.User.Username, "topic", f.Destination)
		c.sendError("forbidden: " + f.Destination)
		return
	}
	c.hub.Subscribe(c, f.Subscription, f.Destination)
}

// requireAuth wraps a handler to require a completed CONNECT
func (c *Client) requireAuth(handler func()) {
	if !c.IsAuthenticated() {
		c.sendError("not connected")
		return
	}
	handler()
}

// deliver queues a MESSAGE frame for one of the client's subscriptions
func (c *Client) deliver(subID, topic string, body []byte) {
	if c.enqueue(&protocol.Frame{
		Command:      protocol.CmdMessage,
		Destination:  topic,
		Subscription: subID,
		Body:         json.RawMessage(body),
	}) {
		c.metrics.FramesOut.Inc()
	}
}

// sendError sends an ERROR frame to the client
func (c *Client) sendError(reason string) {
	c.enqueue(protocol.NewErrorFrame(reason))
}

func (c *Client) enqueue(f *protocol.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- f:
		return true
	default:
		c.metrics.FramesDropped.Inc()
		c.logger.Warn("ws.send buffer full", "session", c.SessionID)
		return false
	}
}

// IsAuthenticated returns whether the client completed CONNECT
func (c *Client) IsAuthenticated() bool {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.authenticated
}

// Close ends the session; the write pump flushes and closes the socket
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
