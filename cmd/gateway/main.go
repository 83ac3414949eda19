package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/concord-chat/helpdesk/internal/gateway"
	"github.com/concord-chat/helpdesk/internal/logging"
	"github.com/concord-chat/helpdesk/internal/models"
)

const statsInterval = time.Minute

// demoPassword is shared by the accounts -seed creates
const demoPassword = "matkhau123"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	host := flag.String("host", "", "Host to bind to (overrides config)")
	port := flag.Int("port", 0, "Port to bind to (overrides config)")
	dbPath := flag.String("db", "", "Path to database file (overrides config)")
	withNATS := flag.Bool("nats", false, "Enable the embedded NATS broker (overrides config)")
	seed := flag.Bool("seed", false, "Create demo shopper and staff accounts")
	flag.Parse()

	// Detect first-run: no config file specified and default config file absent
	isFirstRun := *configPath == ""
	if isFirstRun {
		if _, err := os.Stat(configFilename); err == nil {
			isFirstRun = false
		}
	}

	// Load configuration
	var setup *setupResult
	config := gateway.DefaultConfig()
	switch {
	case isFirstRun && !*seed:
		setup = runFirstRunSetup()
		config = setup.config
	case *configPath != "":
		loaded, err := gateway.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	case !isFirstRun:
		loaded, err := gateway.LoadConfig(configFilename)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	}

	// Apply command line overrides
	if *host != "" {
		config.Host = *host
	}
	if *port != 0 {
		config.Port = *port
	}
	if *dbPath != "" {
		config.DatabasePath = *dbPath
	}
	if *withNATS {
		config.NATS.Enabled = true
	}

	printBanner()

	logger := logging.New(config.Log.Level, config.Log.Format)
	slog.SetDefault(logger)

	gw, err := gateway.New(config, logger)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}
	defer gw.Close()

	if setup != nil && setup.adminUser != "" {
		createFirstAdmin(gw, setup, logger)
	}
	if *seed {
		seedDemoAccounts(gw, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(ctx)
	})
	g.Go(func() error {
		reportStats(ctx, gw, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// createFirstAdmin adds the setup account when the store has no users yet
func createFirstAdmin(gw *gateway.Server, setup *setupResult, logger *slog.Logger) {
	n, err := gw.UserCount()
	if err != nil {
		log.Fatalf("Failed to count users: %v", err)
	}
	if n > 0 {
		logger.Info("setup.admin skipped", "reason", "users exist")
		return
	}
	if _, err := gw.CreateUser(setup.adminUser, "", setup.adminPassword, models.RoleAdmin); err != nil {
		log.Fatalf("Failed to create admin %s: %v", setup.adminUser, err)
	}
	logger.Info("setup.admin", "user", setup.adminUser)
}

func seedDemoAccounts(gw *gateway.Server, logger *slog.Logger) {
	accounts := []struct {
		username string
		fullName string
		role     models.Role
	}{
		{"an", "Nguyễn An", models.RoleUser},
		{"binh", "Trần Bình", models.RoleUser},
		{"lan", "Lan", models.RoleAdmin},
	}
	for _, a := range accounts {
		if _, err := gw.CreateUser(a.username, a.fullName, demoPassword, a.role); err != nil {
			logger.Warn("seed.user", "user", a.username, "error", err)
			continue
		}
		logger.Info("seed.user", "user", a.username, "role", a.role)
	}
}

// reportStats logs connection counts until ctx is done
func reportStats(ctx context.Context, gw *gateway.Server, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attrs := []any{"sessions", gw.Hub().Sessions(), "staff_online", gw.Hub().StaffOnline()}
			if b := gw.Broker(); b != nil {
				attrs = append(attrs, "nats_subscriptions", b.Subscriptions())
			}
			logger.Info("gateway.stats", attrs...)
		}
	}
}

func printBanner() {
	banner := `
  _   _      _           _           _
 | | | | ___| |_ __   __| | ___  ___| | __
 | |_| |/ _ \ | '_ \ / _' |/ _ \/ __| |/ /
 |  _  |  __/ | |_) | (_| |  __/\__ \   <
 |_| |_|\___|_| .__/ \__,_|\___||___/_|\_\
              |_|
  Support Chat Gateway v0.1.0
  ===========================
`
	fmt.Println(banner)
}
