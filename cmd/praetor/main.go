// Praetor - RBAC permission evaluation and security alerting service
// Main entry point with CLI interface.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/alerting"
	"github.com/praetor-sec/praetor/internal/alerts"
	"github.com/praetor-sec/praetor/internal/config"
	"github.com/praetor-sec/praetor/internal/engine"
	"github.com/praetor-sec/praetor/internal/gateway"
	"github.com/praetor-sec/praetor/internal/logging"
	"github.com/praetor-sec/praetor/internal/rbac"
	"github.com/praetor-sec/praetor/internal/storage"
	"github.com/praetor-sec/praetor/internal/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const configPath = "praetor.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "status":
		cmdStatus()
	case "seed":
		cmdSeed()
	case "version":
		fmt.Printf("Praetor %s (built %s)\n", Version, BuildTime)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Praetor - RBAC permission evaluation and security alerting

Usage:
  praetor <command> [options]

Commands:
  init       Initialize configuration and database
  run        Start the service (API server + detection engine)
  status     Show service health and alert counts
  seed       Seed default permissions, admin user and an API key
  version    Print version information
  help       Show this help

Run 'praetor init' once, then 'praetor seed', then 'praetor run'.
The API will be available at https://127.0.0.1:8443 (or the configured address).

Configuration: praetor.yaml (created by 'praetor init')`)
}

// cmdInit creates default configuration and data directories.
func cmdInit() {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("praetor.yaml already exists. Delete it to re-initialize.")
		return
	}

	cfg := config.DefaultConfig()

	if err := os.MkdirAll(cfg.Service.DataDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	// Initialize database schema.
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	store, err := storage.NewSQLite(cfg.Storage.DSN, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
		os.Exit(1)
	}
	store.Close()

	fmt.Println("✓ Praetor initialized successfully!")
	fmt.Printf("  Config: %s\n", configPath)
	fmt.Printf("  Data:   %s\n", cfg.Service.DataDir)
	fmt.Printf("  DB:     %s\n", cfg.Storage.DSN)
	fmt.Println("\nEdit praetor.yaml to configure thresholds and notification channels.")
	fmt.Println("Run 'praetor seed' to create default permissions and the admin user.")
}

// fanoutNotifier delivers engine alerts to the notification channels and to
// connected websocket subscribers. The stream is bound after the gateway is
// constructed, before the engine starts.
type fanoutNotifier struct {
	dispatcher *alerting.Dispatcher
	stream     *gateway.Stream
}

func (f *fanoutNotifier) Dispatch(ctx context.Context, alert *types.SecurityAlert) error {
	if f.stream != nil {
		f.stream.Broadcast(alert)
	}
	return f.dispatcher.Dispatch(ctx, alert)
}

// cmdRun starts the Praetor daemon.
func cmdRun() {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Println("Run 'praetor init' to create a default configuration.")
		os.Exit(1)
	}

	logger, logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", Version).
		Str("hostname", cfg.Service.Hostname).
		Msg("starting Praetor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	store, err := storage.NewSQLite(cfg.Storage.DSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	evaluator := rbac.NewEvaluator(store, logger)
	manager := rbac.NewManager(store, logger)
	alertSvc := alerts.NewService(store, cfg.Detection.CorrelationWindow, cfg.Detection.CorrelationLimit, logger)

	dispatcher := alerting.NewDispatcher(cfg.Notify, logger)
	notifier := &fanoutNotifier{dispatcher: dispatcher}

	eng := engine.New(store, store, alertSvc, notifier, cfg.Detection.Thresholds, engine.Options{
		Interval: cfg.Detection.Interval,
		Window:   cfg.Detection.Window,
		DedupTTL: cfg.Detection.DedupTTL,
	}, logger)

	var srv *gateway.Server
	if cfg.Web.Enabled {
		srv = gateway.NewServer(cfg.Web, store, evaluator, manager, alertSvc, eng, logger)
		notifier.stream = srv.AlertStream()

		// Random bootstrap passwords are only printed by 'praetor seed',
		// so the daemon creates the admin only when one is configured.
		if pw := os.Getenv("PRAETOR_ADMIN_PASSWORD"); pw != "" {
			if created, err := srv.Auth().EnsureDefaultAdmin(pw); err != nil {
				logger.Error().Err(err).Msg("failed to ensure default admin")
			} else if created {
				logger.Warn().Msg("default admin user created, change its password immediately")
			}
		}

		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("api server error")
				cancel()
			}
		}()
	}

	// Thresholds follow config edits without a restart.
	watcher, err := config.NewWatcher(configPath, eng.UpdateThresholds, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, threshold changes need a restart")
	} else {
		// Start blocks until ctx is cancelled, so it gets its own goroutine.
		go watcher.Start(ctx)
	}

	eng.Start()

	logger.Info().
		Dur("interval", cfg.Detection.Interval).
		Int("channels", dispatcher.Channels()).
		Bool("api", cfg.Web.Enabled).
		Msg("Praetor is running")

	<-ctx.Done()
	logger.Info().Msg("Praetor shutting down")
	eng.Stop()
}

// cmdStatus prints a quick health summary.
func cmdStatus() {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Println("Error: Could not load config. Is Praetor initialized?")
		os.Exit(1)
	}

	store, err := storage.NewSQLite(cfg.Storage.DSN, zerolog.Nop())
	if err != nil {
		fmt.Println("Error: Could not connect to database.")
		os.Exit(1)
	}
	defer store.Close()

	rules, _ := store.PermissionCount()
	active, _ := store.ActiveAlertCount()
	critical, _ := store.CriticalAlertCount()

	fmt.Println("Praetor Status")
	fmt.Println("══════════════")
	fmt.Printf("  Storage:          %s (%s)\n", cfg.Storage.Driver, cfg.Storage.DSN)
	fmt.Printf("  Permission Rules: %d\n", rules)
	fmt.Printf("  Open Alerts:      %d\n", active)
	fmt.Printf("  Critical Alerts:  %d\n", critical)
	fmt.Printf("  API:              %v (%s)\n", cfg.Web.Enabled, cfg.Web.ListenAddr)
	fmt.Printf("  Telegram:         %v\n", cfg.Notify.Telegram != nil && cfg.Notify.Telegram.Enabled)
	fmt.Printf("  Webhook:          %v\n", cfg.Notify.Webhook != nil && cfg.Notify.Webhook.Enabled)
}

// cmdSeed creates the default permission matrix, the admin user and an API
// key for integrations.
func cmdSeed() {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Println("Error: Could not load config. Is Praetor initialized?")
		os.Exit(1)
	}

	logger := zerolog.Nop()
	store, err := storage.NewSQLite(cfg.Storage.DSN, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	manager := rbac.NewManager(store, logger)
	seeded, err := manager.InitializeDefaults("seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding permissions: %v\n", err)
		os.Exit(1)
	}

	auth := gateway.NewAuthManager(store.DB(), cfg.Web, logger)

	password := bootstrapPassword()
	created, err := auth.EnsureDefaultAdmin(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating admin user: %v\n", err)
		os.Exit(1)
	}

	apiKey, err := auth.CreateAPIKey("seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Praetor seeded successfully!")
	fmt.Printf("  Permission rules: %d\n", seeded)
	if created {
		fmt.Println("  Admin user:       admin")
		fmt.Printf("  Admin password:   %s\n", password)
	} else {
		fmt.Println("  Admin user:       already exists, unchanged")
	}
	fmt.Printf("  API key:          %s\n", apiKey)
	fmt.Println("\nStore the password and API key now, they are not shown again.")
}

// bootstrapPassword returns the configured admin password or a random one.
func bootstrapPassword() string {
	if pw := os.Getenv("PRAETOR_ADMIN_PASSWORD"); pw != "" {
		return pw
	}
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
