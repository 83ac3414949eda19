package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

// ErrUnauthorized is returned when the backend rejects the credential
var ErrUnauthorized = errors.New("unauthorized")

// History is the REST collaborator the chat sessions read rooms and messages from
type History interface {
	MessageFetcher
	ReadStatePersister
	FetchRoomForViewer(ctx context.Context) (*models.Room, error)
	FetchRoomsForStaff(ctx context.Context) ([]*models.Room, error)
}

// CredentialSetter is implemented by collaborators that attach the viewer's credential
type CredentialSetter interface {
	SetCredential(token string)
}

// HistoryClient talks to the shop backend's chat endpoints
type HistoryClient struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewHistoryClient creates a client for the backend at baseURL
func NewHistoryClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*HistoryClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api address: %w", err)
	}

	// Convert to HTTP scheme
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryClient{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// SetCredential implements CredentialSetter
func (c *HistoryClient) SetCredential(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Login exchanges a username and password for a viewer with a bearer credential
func (c *HistoryClient) Login(ctx context.Context, username, password string) (*models.Viewer, error) {
	var resp protocol.LoginResponse
	req := &protocol.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/login", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("login failed: %w", ErrNoCredential)
	}
	return resp.Viewer(), nil
}

// FetchRoomForViewer returns the shopper's own room, created on first use by the backend
func (c *HistoryClient) FetchRoomForViewer(ctx context.Context) (*models.Room, error) {
	var room protocol.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/chat/room", nil, nil, &room); err != nil {
		return nil, fmt.Errorf("fetch room: %w", err)
	}
	return room.ToModel(false), nil
}

// FetchRoomsForStaff returns every room visible to the staff console
func (c *HistoryClient) FetchRoomsForStaff(ctx context.Context) ([]*models.Room, error) {
	var rooms []protocol.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/chat/rooms", nil, nil, &rooms); err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	out := make([]*models.Room, 0, len(rooms))
	for i := range rooms {
		out = append(out, rooms[i].ToModel(true))
	}
	return out, nil
}

// FetchMessages returns one page of a room's history, newest first
func (c *HistoryClient) FetchMessages(ctx context.Context, roomID int64, page, size int) ([]*models.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var msgs []protocol.ChatMessage
	path := fmt.Sprintf("/chat/room/%d/messages", roomID)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	out := make([]*models.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].ToModel())
	}
	return out, nil
}

// PersistReadState marks every message of the room read for the viewer
func (c *HistoryClient) PersistReadState(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/chat/room/%d/read", roomID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (c *HistoryClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := *c.baseURL
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set(protocol.HeaderAuthorization, "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	c.logger.Debug("api.request", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}
