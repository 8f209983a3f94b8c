package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"shelfsync/internal/adapter"
	"shelfsync/internal/gateway"
	"shelfsync/internal/service"
	"shelfsync/internal/store"
)

// Version is set at build time via -ldflags
var Version = "dev"

// options are the command-line modes
type options struct {
	once       bool
	saveConfig bool
	reset      bool
	token      string
}

func main() {
	var showVersion bool
	var opts options
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&opts.once, "once", false, "run a single sync pass and exit")
	flag.BoolVar(&opts.saveConfig, "save-config", false, "write the effective configuration to the config file and exit")
	flag.BoolVar(&opts.reset, "reset", false, "clear saved server settings and cached data, then exit")
	flag.StringVar(&opts.token, "token", "", "save a new bearer token to the config file and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("shelfwatch %s\n", Version)
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// Local .env overrides are optional
	_ = godotenv.Load()

	if opts.reset {
		if err := adapter.ClearServerConfig(); err != nil {
			return err
		}
		if err := adapter.ClearCache(); err != nil {
			return err
		}
		fmt.Printf("cleared server settings and cache at %s\n", adapter.GetCachePath())
		return nil
	}
	if opts.token != "" {
		if err := adapter.SaveToken(opts.token); err != nil {
			return err
		}
		fmt.Println("token saved")
		return nil
	}

	cfg, err := adapter.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.saveConfig {
		if err := adapter.SaveConfig(cfg); err != nil {
			return err
		}
		fmt.Println("configuration saved")
		return nil
	}

	logger, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}

	logger.Info("starting shelfwatch", "version", Version)

	if !cfg.IsConfigured() {
		return fmt.Errorf("server URL and token are not configured; set SHELFSYNC_SERVER_URL and SHELFSYNC_SERVER_TOKEN or edit the config file")
	}

	statusStore, err := store.NewStatusStore(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("failed to open status store: %w", err)
	}
	defer statusStore.Close()

	client := gateway.NewClient(
		cfg.Server.URL,
		gateway.StaticToken(cfg.Server.Token),
		logger,
		gateway.WithCatalogTTL(cfg.Sync.CatalogTTL),
		gateway.WithUserID(cfg.Server.UserID),
	)

	engine := service.NewSyncEngine(client, client, statusStore, statusStore, logger,
		service.WithInterval(cfg.Sync.Interval))
	defer engine.Close()

	circulation := service.NewCirculationService(client, client, statusStore, engine, logger)
	catalog := service.NewCatalogService(client, logger)

	events := make(chan service.StatusEvent, 16)
	engine.Subscribe(service.NewChannelObserver(events))

	ctx := context.Background()

	if opts.once {
		engine.ForceSync(ctx)
		select {
		case ev := <-events:
			printEvent(ev)
		default:
			fmt.Println("sync pass produced no snapshot (check the log for details)")
		}
		return reportFines(ctx, circulation)
	}

	if books, err := catalog.Books(ctx, false); err != nil {
		logger.Warn("initial catalog load failed", "error", err)
	} else {
		fmt.Printf("catalog: %d titles\n", len(books))
	}

	engine.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-events:
			printEvent(ev)
		case <-sigCh:
			fmt.Println("\nshutting down")
			engine.Stop()
			logger.Info("shutting down")
			return nil
		}
	}
}

// printEvent renders a status event as one line per bucket
func printEvent(ev service.StatusEvent) {
	if ev.PendingCleared != nil {
		fmt.Printf("pending cleared (%s): %v\n", ev.PendingCleared.Scope, ev.PendingCleared.IDs)
	}
	if ev.Snapshot == nil {
		return
	}
	snap := ev.Snapshot
	fmt.Printf("[%s] copies borrowed=%v reserved=%v pending=%v\n",
		snap.Timestamp.Format("15:04:05"),
		snap.Copies.Borrowed.Values(),
		snap.Copies.Reserved.Values(),
		snap.Copies.Pending.Values())
	fmt.Printf("[%s] books  borrowed=%v reserved=%v pending=%v\n",
		snap.Timestamp.Format("15:04:05"),
		snap.Books.Borrowed.Values(),
		snap.Books.Reserved.Values(),
		snap.Books.Pending.Values())
}

// reportFines prints any unpaid fines on the account
func reportFines(ctx context.Context, circulation *service.CirculationService) error {
	fines, err := circulation.OutstandingFines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list fines: %w", err)
	}
	if len(fines) == 0 {
		fmt.Println("no outstanding fines")
		return nil
	}
	for _, fine := range fines {
		fmt.Printf("fine %s: %.2f (%s)\n", fine.ID, fine.Amount, fine.Reason)
	}
	return nil
}
