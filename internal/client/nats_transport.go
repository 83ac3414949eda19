package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/concord-chat/helpdesk/internal/protocol"
)

// NATSDialer connects straight to the gateway's NATS broker.
// Topics map onto subjects with protocol.Subject; reconnection is left to the ConnectionManager.
type NATSDialer struct {
	URL     string
	Name    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewNATSDialer creates a dialer for the broker at url
func NewNATSDialer(url string, timeout time.Duration, logger *slog.Logger) *NATSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NATSDialer{URL: url, Name: "helpdesk-client", Timeout: timeout, Logger: logger}
}

// Dial implements Dialer
func (d *NATSDialer) Dial(ctx context.Context, token string, deliver FrameHandler) (Transport, error) {
	t := &natsTransport{
		token:   token,
		deliver: deliver,
		logger:  d.Logger,
		subs:    make(map[string]*nats.Subscription),
		done:    make(chan struct{}),
	}

	timeout := d.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	nc, err := nats.Connect(d.URL,
		nats.Name(d.Name),
		nats.Token(token),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) { t.markDone() }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				d.Logger.Warn("nats.disconnected", "error", err)
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			d.Logger.Warn("nats.async error", "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if ctx.Err() != nil {
		nc.Close()
		return nil, ctx.Err()
	}
	t.nc = nc
	return t, nil
}

type natsTransport struct {
	nc      *nats.Conn
	token   string
	deliver FrameHandler
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription

	done     chan struct{}
	doneOnce sync.Once
}

func (t *natsTransport) Subscribe(subID, topic string) error {
	sub, err := t.nc.Subscribe(protocol.Subject(topic), func(m *nats.Msg) {
		t.deliver(subID, m.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	t.mu.Lock()
	t.subs[subID] = sub
	t.mu.Unlock()
	return nil
}

func (t *natsTransport) Unsubscribe(subID string) error {
	t.mu.Lock()
	sub, ok := t.subs[subID]
	delete(t.subs, subID)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Send publishes with the bearer credential in a header so the gateway bridge can authorize it
func (t *natsTransport) Send(destination string, body []byte) error {
	msg := nats.NewMsg(protocol.Subject(destination))
	msg.Header.Set(protocol.HeaderAuthorization, "Bearer "+t.token)
	msg.Data = body
	if err := t.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", destination, err)
	}
	return nil
}

func (t *natsTransport) Done() <-chan struct{} {
	return t.done
}

func (t *natsTransport) Close() error {
	t.nc.Close()
	t.markDone()
	return nil
}

func (t *natsTransport) markDone() {
	t.doneOnce.Do(func() { close(t.done) })
}
