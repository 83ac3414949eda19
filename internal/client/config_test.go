package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Chat.ReconnectDelay.Duration)
	assert.Equal(t, DefaultPageSize, cfg.Chat.PageSize)
	assert.Equal(t, TransportWebSocket, cfg.Gateway.Transport)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[gateway]
transport = "nats"
nats_url = "nats://chat.internal:4222"

[chat]
reconnect_delay = "2s"
typing_idle = "1500ms"

[log]
level = "debug"
format = "json"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, TransportNATS, cfg.Gateway.Transport)
	assert.Equal(t, "nats://chat.internal:4222", cfg.Gateway.NATSURL)
	assert.Equal(t, 2*time.Second, cfg.Chat.ReconnectDelay.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Chat.TypingIdle.Duration)
	assert.Equal(t, DefaultTypingExpiry, cfg.Chat.TypingExpiry.Duration)
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad duration", body: "[chat]\nreconnect_delay = \"soon\"\n"},
		{name: "unknown transport", body: "[gateway]\ntransport = \"carrier-pigeon\"\n"},
		{name: "zero page size", body: "[chat]\npage_size = 0\n"},
		{name: "not toml", body: "this is = = not toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestReconnectStrategyIsFixed(t *testing.T) {
	rs := DefaultReconnectStrategy()

	for attempt := 0; attempt < 50; attempt++ {
		assert.True(t, rs.ShouldRetry(attempt))
		assert.Equal(t, DefaultReconnectDelay, rs.NextDelay(attempt))
	}
	assert.Equal(t, DefaultReconnectDelay, (&ReconnectStrategy{}).NextDelay(3))
}
