package client

import (
	"context"
	"errors"
)

var (
	// ErrNoCredential is returned when a connection is requested without a bearer credential
	ErrNoCredential = errors.New("no credential available")

	// ErrNotConnected is returned by operations that need a live connection
	ErrNotConnected = errors.New("not connected")

	// ErrHandshakeRejected is returned when the gateway refuses the CONNECT frame
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrTransportClosed is returned when writing to a closed transport
	ErrTransportClosed = errors.New("transport closed")
)

// FrameHandler receives the body of every MESSAGE frame addressed to a subscription
type FrameHandler func(subID string, body []byte)

// Transport is one established connection to the messaging gateway
type Transport interface {
	// Subscribe asks the gateway to deliver topic under the given subscription id
	Subscribe(subID, topic string) error

	// Unsubscribe cancels a subscription
	Unsubscribe(subID string) error

	// Send publishes a JSON body to an application destination
	Send(destination string, body []byte) error

	// Done is closed once the transport is gone for any reason
	Done() <-chan struct{}

	// Close tears the transport down; it is safe to call more than once
	Close() error
}

// Dialer establishes transports; deliver sees each subscription's frames in arrival order
type Dialer interface {
	Dial(ctx context.Context, token string, deliver FrameHandler) (Transport, error)
}
