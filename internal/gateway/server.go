package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/concord-chat/helpdesk/internal/database"
	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
	"github.com/concord-chat/helpdesk/pkg/crypto"
)

// Server is the support chat gateway: WebSocket sessions, REST history and
// an optional embedded NATS broker sharing one hub
type Server struct {
	config     *Config
	hub        *Hub
	handlers   *Handlers
	db         *database.DB
	passwords  *crypto.Passwords
	broker     *Broker
	registry   *prometheus.Registry
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new gateway instance
func New(config *Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	passwords, err := crypto.NewPasswords(config.PasswordCost)
	if err != nil {
		return nil, err
	}

	// Open database
	db, err := database.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(registry)

	hub := NewHub(metrics, logger)
	handlers := NewHandlers(db, hub, metrics, logger)

	s := &Server{
		config:    config,
		hub:       hub,
		handlers:  handlers,
		db:        db,
		passwords: passwords,
		registry:  registry,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Terminal and service clients send no Origin
				return true
			},
		},
	}

	if config.NATS.Enabled {
		broker, err := NewBroker(config.NATS, handlers, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.broker = broker
		hub.SetBridge(broker)
	}

	return s, nil
}

// Handler returns the HTTP routes of the gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.requireUser(s.handleLogout))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /chat/room", s.requireUser(s.handleGetRoom))
	mux.HandleFunc("GET /chat/rooms", s.requireStaff(s.handleGetRooms))
	mux.HandleFunc("GET /chat/room/{id}/messages", s.requireUser(s.handleGetMessages))
	mux.HandleFunc("POST /chat/room/{id}/read", s.requireUser(s.handleMarkRead))
	mux.HandleFunc("GET /chat/admin/unread-count", s.requireStaff(s.handleUnreadCount))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.config.Addr(),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("gateway.start", "addr", s.config.Addr(),
		"websocket", fmt.Sprintf("ws://%s/ws", s.config.Addr()))
	if s.broker != nil {
		s.logger.Info("gateway.nats", "url", s.broker.ClientURL())
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("gateway.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close stops the broker and closes the database
func (s *Server) Close() error {
	if s.broker != nil {
		s.broker.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("database close: %w", err)
	}
	return nil
}

// Hub returns the topic hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// NATSURL returns the embedded broker's client URL, or "" when disabled
func (s *Server) NATSURL() string {
	if s.broker == nil {
		return ""
	}
	return s.broker.ClientURL()
}

// Broker returns the embedded NATS broker, or nil when disabled
func (s *Server) Broker() *Broker {
	return s.broker
}

// CreateUser adds an account with a hashed password
func (s *Server) CreateUser(username, fullName, password string, role models.Role) (*database.User, error) {
	if len(username) < 2 || len(username) > 32 {
		return nil, errors.New("username must be 2-32 characters")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, err
	}
	return s.db.CreateUser(username, fullName, hash, role)
}

// rehashPassword stores a hash at the configured cost after a successful login
func (s *Server) rehashPassword(user *database.User, password string) {
	hash, err := s.passwords.Hash(password)
	if err == nil {
		err = s.db.UpdatePasswordHash(user.ID, hash)
	}
	if err != nil {
		s.logger.Warn("api.rehash", "user", user.Username, "error", err)
		return
	}
	s.logger.Info("api.rehash", "user", user.Username, "cost", s.passwords.Cost())
}

// UserCount returns the number of accounts
func (s *Server) UserCount() (int, error) {
	return s.db.CountUsers()
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub.Sessions() >= s.config.MaxConnections {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// A credential on the upgrade request is checked before the CONNECT frame
	var upgradeUser *database.User
	if header := r.Header.Get(protocol.HeaderAuthorization); header != "" {
		user, err := s.handlers.Authenticate(protocol.BearerToken(header))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		upgradeUser = user
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws.upgrade", "error", err)
		return
	}

	client := NewClient(conn, s.hub, s.handlers, upgradeUser)

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()
}

// handleLogin exchanges a username and password for a bearer credential
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.db.GetUserByUsername(strings.TrimSpace(req.Username))
	if err != nil {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := s.passwords.Verify(req.Password, user.PasswordHash); err != nil {
		if !errors.Is(err, crypto.ErrPasswordMismatch) {
			s.logger.Warn("api.login", "user", user.Username, "error", err)
		}
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if s.passwords.Outdated(user.PasswordHash) {
		s.rehashPassword(user, req.Password)
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		s.internalError(w, "api.login", err)
		return
	}
	ttl := time.Duration(s.config.TokenTTLHours) * time.Hour
	if _, err := s.db.CreateSession(user.ID, crypto.HashToken(token), time.Now().Add(ttl)); err != nil {
		s.internalError(w, "api.login", err)
		return
	}

	s.logger.Info("api.login", "user", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, &protocol.LoginResponse{
		Token: token,
		User: protocol.UserInfo{
			ID:       user.ID,
			Username: user.Username,
			FullName: user.FullName,
			Role:     user.Role.String(),
		},
	})
}

// handleLogout revokes the caller's credential
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := protocol.BearerToken(r.Header.Get(protocol.HeaderAuthorization))
	if err := s.db.DeleteSession(crypto.HashToken(token)); err != nil {
		s.internalError(w, "api.logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.hub.Sessions(),
		"nats":     s.broker != nil,
		"time":     time.Now().UTC(),
	})
}
