package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is the verb of a gateway frame
type Command string

const (
	// Client -> Gateway
	CmdConnect     Command = "CONNECT"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
	CmdSend        Command = "SEND"
	CmdDisconnect  Command = "DISCONNECT"

	// Gateway -> Client
	CmdConnected Command = "CONNECTED"
	CmdMessage   Command = "MESSAGE"
	CmdError     Command = "ERROR"
)

// Frame headers
const (
	HeaderAuthorization = "Authorization"
	HeaderClientID      = "client-id"
	HeaderSession       = "session"
	HeaderErrorMessage  = "message"
)

// Frame is the envelope exchanged with the messaging gateway
type Frame struct {
	Command      Command           `json:"command"`
	Destination  string            `json:"destination,omitempty"`  // Topic or application destination
	Subscription string            `json:"subscription,omitempty"` // Client-chosen subscription id
	Headers      map[string]string `json:"headers,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty"`
}

// NewFrame creates a frame with a JSON encoded body
func NewFrame(cmd Command, destination string, body interface{}) (*Frame, error) {
	f := &Frame{
		Command:     cmd,
		Destination: destination,
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", cmd, err)
		}
		f.Body = raw
	}
	return f, nil
}

// Header returns a header value or the empty string
func (f *Frame) Header(name string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[name]
}

// SetHeader sets a header value
func (f *Frame) SetHeader(name, value string) {
	if f.Headers == nil {
		f.Headers = make(map[string]string)
	}
	f.Headers[name] = value
}

// Decode unmarshals the frame body into v
func (f *Frame) Decode(v interface{}) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("empty %s body", f.Command)
	}
	return json.Unmarshal(f.Body, v)
}

// NewErrorFrame creates an ERROR frame carrying a human readable reason
func NewErrorFrame(reason string) *Frame {
	f := &Frame{Command: CmdError}
	f.SetHeader(HeaderErrorMessage, reason)
	return f
}

// BearerToken extracts the credential from an Authorization value
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
