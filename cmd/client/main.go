package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/concord-chat/helpdesk/internal/client"
	"github.com/concord-chat/helpdesk/internal/logging"
	"github.com/concord-chat/helpdesk/internal/tui"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	mode := flag.String("mode", "", "Chat mode: shopper or staff (default from account role)")
	username := flag.String("user", "", "Account username")
	password := flag.String("password", "", "Account password (default $HELPDESK_PASSWORD)")
	transport := flag.String("transport", "", "Gateway transport: websocket or nats (overrides config)")
	gatewayURL := flag.String("gateway", "", "Gateway WebSocket address (overrides config)")
	apiURL := flag.String("api", "", "REST base URL (overrides config)")
	themePath := flag.String("theme", "", "Path to a TOML color theme")
	logPath := flag.String("log", "", "Write logs to this file instead of discarding them")
	flag.Parse()

	// Try default config paths if not specified
	if *configPath == "" {
		defaultPaths := []string{
			"./helpdesk.toml",
			"./config/client.toml",
			os.ExpandEnv("$HOME/.config/helpdesk/client.toml"),
		}
		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				*configPath = path
				break
			}
		}
	}

	// Load configuration
	config := client.DefaultConfig()
	if *configPath != "" {
		loaded, err := client.LoadConfig(*configPath)
		if err != nil {
			log.Printf("Warning: Failed to load config: %v", err)
		} else {
			config = loaded
		}
	}

	// Apply command line overrides
	if *transport != "" {
		config.Gateway.Transport = *transport
	}
	if *gatewayURL != "" {
		config.Gateway.URL = *gatewayURL
	}
	if *apiURL != "" {
		config.API.BaseURL = *apiURL
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// The terminal belongs to the UI, so logs go to a file or nowhere
	logger := logging.Discard()
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logger = logging.NewWithWriter(f, config.Log.Level, config.Log.Format)
	}

	theme := tui.DefaultTheme()
	if *themePath != "" {
		t, err := tui.LoadTheme(*themePath)
		if err != nil {
			log.Printf("Warning: Failed to load theme: %v, using default", err)
		} else {
			theme = t
		}
	}

	if *username == "" {
		log.Fatal("-user is required")
	}
	if *password == "" {
		*password = os.Getenv("HELPDESK_PASSWORD")
	}

	printBanner()

	history, err := client.NewHistoryClient(config.API.BaseURL, config.API.Timeout.Duration, logger)
	if err != nil {
		log.Fatalf("Failed to create API client: %v", err)
	}
	viewer, err := history.Login(context.Background(), *username, *password)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	opts := client.SessionOptions{
		Dialer:  newDialer(config, logger),
		History: history,
		Chat:    config.Chat,
		Logger:  logger,
	}

	if *mode == "" {
		*mode = "shopper"
		if viewer.IsStaff() {
			*mode = "staff"
		}
	}

	var model tea.Model
	switch *mode {
	case "shopper":
		s := client.NewShopperSession(opts)
		defer s.Close()
		if err := s.SetViewer(viewer); err != nil {
			log.Fatalf("Failed to start chat: %v", err)
		}
		model = tui.NewShopperModel(s, theme)
	case "staff":
		s := client.NewStaffSession(opts)
		defer s.Close()
		if err := s.SetViewer(viewer); err != nil {
			log.Fatalf("Failed to start console: %v", err)
		}
		model = tui.NewConsoleModel(s, theme)
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}

	// Create and run the Bubble Tea program
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}

func newDialer(config *client.Config, logger *slog.Logger) client.Dialer {
	timeout := config.Gateway.HandshakeTimeout.Duration
	if config.Gateway.Transport == client.TransportNATS {
		return client.NewNATSDialer(config.Gateway.NATSURL, timeout, logger)
	}
	return client.NewWebSocketDialer(config.Gateway.URL, timeout, logger)
}

func printBanner() {
	banner := `
  _   _      _           _           _
 | | | | ___| |_ __   __| | ___  ___| | __
 | |_| |/ _ \ | '_ \ / _' |/ _ \/ __| |/ /
 |  _  |  __/ | |_) | (_| |  __/\__ \   <
 |_| |_|\___|_| .__/ \__,_|\___||___/_|\_\
              |_|
  Support Chat Client v0.1.0
`
	fmt.Println(banner)
}
