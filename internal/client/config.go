package client

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPageSize is the number of history messages loaded per room
const DefaultPageSize = 50

// DefaultWelcomeText greets a shopper whose room has no history yet
const DefaultWelcomeText = "Xin chào bạn đến với website, bạn cần giúp gì?"

// Transport kinds
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// Duration is a time.Duration written as "5s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the client configuration
type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	API     APIConfig     `toml:"api"`
	Chat    ChatConfig    `toml:"chat"`
	Log     LogConfig     `toml:"log"`
}

// GatewayConfig holds messaging gateway settings
type GatewayConfig struct {
	URL              string   `toml:"url"`
	Transport        string   `toml:"transport"`
	NATSURL          string   `toml:"nats_url"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
}

// APIConfig holds REST backend settings
type APIConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

// ChatConfig holds chat behavior settings
type ChatConfig struct {
	ReconnectDelay Duration `toml:"reconnect_delay"`
	TypingIdle     Duration `toml:"typing_idle"`
	TypingExpiry   Duration `toml:"typing_expiry"`
	PageSize       int      `toml:"page_size"`
	WelcomeText    string   `toml:"welcome_text"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:              "ws://localhost:8080/ws",
			Transport:        TransportWebSocket,
			NATSURL:          "nats://localhost:4222",
			HandshakeTimeout: Duration{10 * time.Second},
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: Duration{10 * time.Second},
		},
		Chat: DefaultChatConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultChatConfig returns the default chat behavior
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		ReconnectDelay: Duration{DefaultReconnectDelay},
		TypingIdle:     Duration{DefaultTypingIdle},
		TypingExpiry:   Duration{DefaultTypingExpiry},
		PageSize:       DefaultPageSize,
		WelcomeText:    DefaultWelcomeText,
	}
}

// LoadConfig reads a TOML file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for values the client cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Gateway.Transport {
	case TransportWebSocket:
		if _, err := url.Parse(c.Gateway.URL); err != nil || c.Gateway.URL == "" {
			errs = append(errs, fmt.Errorf("gateway.url: invalid %q", c.Gateway.URL))
		}
	case TransportNATS:
		if c.Gateway.NATSURL == "" {
			errs = append(errs, errors.New("gateway.nats_url: required for nats transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("gateway.transport: unknown %q", c.Gateway.Transport))
	}

	if _, err := url.Parse(c.API.BaseURL); err != nil || c.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.base_url: invalid %q", c.API.BaseURL))
	}
	if c.Chat.PageSize <= 0 {
		errs = append(errs, errors.New("chat.page_size: must be positive"))
	}
	if c.Chat.ReconnectDelay.Duration <= 0 {
		errs = append(errs, errors.New("chat.reconnect_delay: must be positive"))
	}

	return errors.Join(errs...)
}
