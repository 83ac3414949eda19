package gateway

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/concord-chat/helpdesk/pkg/crypto"
)

// Config holds the gateway configuration
type Config struct {
	Host           string     `toml:"host"`
	Port           int        `toml:"port"`
	DatabasePath   string     `toml:"database_path"`
	MaxConnections int        `toml:"max_connections"`
	TokenTTLHours  int        `toml:"token_ttl_hours"`
	PasswordCost   int        `toml:"password_cost"`
	NATS           NATSConfig `toml:"nats"`
	Log            LogConfig  `toml:"log"`
}

// NATSConfig holds the embedded broker settings
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"` // -1 picks a random port
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the default gateway configuration
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8080,
		DatabasePath:   "helpdesk.db",
		MaxConnections: 1000,
		TokenTTLHours:  24 * 7,
		PasswordCost:   crypto.DefaultPasswordCost,
		NATS: NATSConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    4222,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
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

// SaveConfig writes the configuration as TOML
func SaveConfig(path string, config *Config) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the gateway cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: out of range %d", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path: required"))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("max_connections: must be positive"))
	}
	if c.TokenTTLHours <= 0 {
		errs = append(errs, errors.New("token_ttl_hours: must be positive"))
	}
	if _, err := crypto.NewPasswords(c.PasswordCost); err != nil {
		errs = append(errs, fmt.Errorf("password_cost: %w", err))
	}
	if c.NATS.Enabled && (c.NATS.Port < -1 || c.NATS.Port > 65535) {
		errs = append(errs, fmt.Errorf("nats.port: out of range %d", c.NATS.Port))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
