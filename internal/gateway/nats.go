package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/concord-chat/helpdesk/internal/database"
	"github.com/concord-chat/helpdesk/internal/protocol"
	"github.com/concord-chat/helpdesk/pkg/crypto"
)

// appSubjects matches every application destination ("/app/chat.send" -> "app.chat.send")
const appSubjects = "app.>"

// Broker is an embedded NATS server authenticating clients with their chat
// bearer credential, plus the bridge connection that feeds app.* publishes
// into the handlers and mirrors hub publishes onto topic subjects
type Broker struct {
	ns       *server.Server
	nc       *nats.Conn
	sub      *nats.Subscription
	handlers *Handlers
	logger   *slog.Logger

	serviceToken string
}

// NewBroker starts the embedded server and connects the bridge
func NewBroker(cfg NATSConfig, handlers *Handlers, logger *slog.Logger) (*Broker, error) {
	serviceToken, err := crypto.GenerateToken()
	if err != nil {
		return nil, err
	}

	b := &Broker{
		handlers:     handlers,
		logger:       logger,
		serviceToken: serviceToken,
	}

	ns, err := server.NewServer(&server.Options{
		ServerName:                 "helpdesk-gateway",
		Host:                       cfg.Host,
		Port:                       cfg.Port,
		NoLog:                      true,
		NoSigs:                     true,
		CustomClientAuthentication: b,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready")
	}
	b.ns = ns

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Name("helpdesk-bridge"),
		nats.Token(serviceToken),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect bridge: %w", err)
	}
	b.nc = nc

	sub, err := nc.Subscribe(appSubjects, b.handleApp)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to subscribe bridge: %w", err)
	}
	b.sub = sub

	logger.Info("nats.ready", "url", ns.ClientURL())
	return b, nil
}

// Check implements server.Authentication. Shoppers may read only their own
// room's subjects; staff may read every topic subject; everyone may publish
// to application destinations.
func (b *Broker) Check(c server.ClientAuthentication) bool {
	token := c.GetOpts().Token
	if token == b.serviceToken {
		c.RegisterUser(&server.User{Username: "bridge"})
		return true
	}

	user, err := b.handlers.Authenticate(token)
	if err != nil {
		b.logger.Info("nats.auth rejected", "remote", c.RemoteAddress(), "error", err)
		return false
	}

	subscribe, err := b.subscribeAllow(user)
	if err != nil {
		b.logger.Error("nats.auth", "user", user.Username, "error", err)
		return false
	}

	c.RegisterUser(&server.User{
		Username: user.Username,
		Permissions: &server.Permissions{
			Publish:   &server.SubjectPermission{Allow: []string{appSubjects}},
			Subscribe: &server.SubjectPermission{Allow: subscribe},
		},
	})
	return true
}

func (b *Broker) subscribeAllow(user *database.User) ([]string, error) {
	if user.Role.IsStaff() {
		return []string{"topic.>"}, nil
	}
	room, err := b.handlers.db.GetOrCreateRoom(user.ID)
	if err != nil {
		return nil, err
	}
	return []string{
		protocol.Subject(protocol.RoomTopic(room.ID)),
		protocol.Subject(protocol.TypingTopic(room.ID)),
	}, nil
}

// handleApp authorizes a publish by its Authorization header and runs it
func (b *Broker) handleApp(m *nats.Msg) {
	user, err := b.handlers.Authenticate(protocol.BearerToken(m.Header.Get(protocol.HeaderAuthorization)))
	if err != nil {
		b.logger.Info("nats.publish rejected", "subject", m.Subject, "error", err)
		return
	}

	destination := protocol.TopicFromSubject(m.Subject)
	if err := b.handlers.HandleSend(user, destination, m.Data); err != nil {
		b.logger.Info("nats.send rejected", "user", user.Username, "destination", destination, "error", err)
	}
}

// Publish implements Bridge
func (b *Broker) Publish(topic string, body []byte) error {
	return b.nc.Publish(protocol.Subject(topic), body)
}

// Subscriptions returns the number of live subscriptions on the broker
func (b *Broker) Subscriptions() uint32 {
	return b.ns.NumSubscriptions()
}

// ClientURL returns the URL clients connect to
func (b *Broker) ClientURL() string {
	return b.ns.ClientURL()
}

// Close drains the bridge and shuts the server down
func (b *Broker) Close() {
	if b.nc != nil {
		b.nc.Drain()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}
