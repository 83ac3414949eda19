package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/concord-chat/helpdesk/internal/protocol"
)

const (
	// Time allowed to write a frame to the gateway
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the gateway
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the gateway
	maxFrameSize = 512 * 1024

	sendBufferSize = 256
)

// WebSocketDialer connects to the gateway's WebSocket endpoint
type WebSocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	ClientID         string
	Logger           *slog.Logger
}

// NewWebSocketDialer creates a dialer for the gateway at serverAddr
func NewWebSocketDialer(serverAddr string, handshakeTimeout time.Duration, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebSocketDialer{
		URL:              serverAddr,
		HandshakeTimeout: handshakeTimeout,
		ClientID:         uuid.NewString(),
		Logger:           logger,
	}
}

// Dial opens the socket, performs the CONNECT handshake and starts the pumps
func (d *WebSocketDialer) Dial(ctx context.Context, token string, deliver FrameHandler) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway address: %w", err)
	}

	// Ensure WebSocket scheme
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	header := http.Header{}
	header.Set(protocol.HeaderAuthorization, "Bearer "+token)

	dialer := &websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: gateway answered %d", ErrHandshakeRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Connection{
		conn:    conn,
		deliver: deliver,
		logger:  d.Logger,
		send:    make(chan *protocol.Frame, sendBufferSize),
		done:    make(chan struct{}),
	}

	if err := c.handshake(token, d.ClientID, d.HandshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Connection is a WebSocket transport to the gateway
type Connection struct {
	conn      *websocket.Conn
	deliver   FrameHandler
	logger    *slog.Logger
	sessionID string

	send      chan *protocol.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// handshake sends CONNECT and waits for CONNECTED or ERROR
func (c *Connection) handshake(token, clientID string, timeout time.Duration) error {
	connect := &protocol.Frame{Command: protocol.CmdConnect}
	connect.SetHeader(protocol.HeaderAuthorization, "Bearer "+token)
	connect.SetHeader(protocol.HeaderClientID, clientID)

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(connect); err != nil {
		return fmt.Errorf("failed to send CONNECT: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	var reply protocol.Frame
	if err := c.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("failed to read CONNECT reply: %w", err)
	}

	switch reply.Command {
	case protocol.CmdConnected:
		c.sessionID = reply.Header(protocol.HeaderSession)
		c.conn.SetReadDeadline(time.Time{})
		return nil
	case protocol.CmdError:
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, reply.Header(protocol.HeaderErrorMessage))
	default:
		return fmt.Errorf("%w: unexpected %s", ErrHandshakeRejected, reply.Command)
	}
}

// SessionID returns the id the gateway assigned to this connection
func (c *Connection) SessionID() string {
	return c.sessionID
}

// Subscribe implements Transport
func (c *Connection) Subscribe(subID, topic string) error {
	return c.enqueue(&protocol.Frame{
		Command:      protocol.CmdSubscribe,
		Destination:  topic,
		Subscription: subID,
	})
}

// Unsubscribe implements Transport
func (c *Connection) Unsubscribe(subID string) error {
	return c.enqueue(&protocol.Frame{
		Command:      protocol.CmdUnsubscribe,
		Subscription: subID,
	})
}

// Send implements Transport
func (c *Connection) Send(destination string, body []byte) error {
	return c.enqueue(&protocol.Frame{
		Command:     protocol.CmdSend,
		Destination: destination,
		Body:        json.RawMessage(body),
	})
}

// Done implements Transport
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close implements Transport
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) enqueue(f *protocol.Frame) error {
	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrTransportClosed
	default:
		return fmt.Errorf("send buffer full")
	}
}

// readPump reads frames from the WebSocket
func (c *Connection) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws.read", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("ws.decode", "error", err)
			continue
		}

		switch f.Command {
		case protocol.CmdMessage:
			c.deliver(f.Subscription, f.Body)
		case protocol.CmdError:
			c.logger.Warn("ws.gateway error", "reason", f.Header(protocol.HeaderErrorMessage))
		}
	}
}

// writePump writes frames to the WebSocket
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
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
			return
		}
	}
}
