package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sydlexius/massaction/internal/api"
	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/backup"
	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/bridge"
	"github.com/sydlexius/massaction/internal/config"
	"github.com/sydlexius/massaction/internal/database"
	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/host/itsm"
	"github.com/sydlexius/massaction/internal/logging"
	"github.com/sydlexius/massaction/internal/maintenance"
	"github.com/sydlexius/massaction/internal/notify"
	"github.com/sydlexius/massaction/internal/version"
	"github.com/sydlexius/massaction/internal/watcher"
)

// maxRunningJobs bounds concurrent server-side batch jobs.
const maxRunningJobs = 4

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "reset-access":
			if err := resetAccess(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			fmt.Println(version.String())
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("MA_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

func run() error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(loggingConfig(cfg.Logging))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	if err := database.Migrate(ctx, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	// Jobs that were running when the process last stopped cannot resume.
	jobStore := batch.NewStore(db)
	if n, err := jobStore.MarkInterrupted(ctx); err != nil {
		logger.Error("marking interrupted jobs", "error", err)
	} else if n > 0 {
		logger.Warn("marked interrupted batch jobs", slog.Int64("count", n))
	}

	authService := auth.NewService(db)
	if n, err := authService.SeedClients(ctx, seedClients(cfg.API.SeedClients)); err != nil {
		return fmt.Errorf("seeding API clients: %w", err)
	} else if n > 0 {
		logger.Info("seeded API clients", slog.Int("count", n))
	}
	if err := authService.SeedAPIEnabled(ctx, cfg.API.Enabled); err != nil {
		return fmt.Errorf("seeding API switch: %w", err)
	}

	hostClient := itsm.New(itsm.Options{
		BaseURL:           cfg.Host.BaseURL,
		AppToken:          cfg.Host.AppToken,
		SessionCookie:     cfg.Host.SessionCookie,
		RequestsPerSecond: cfg.Host.RequestsPerSecond,
		Forbidden:         cfg.Host.ForbiddenActions,
	}, cfg.Host.Timeout, logger)
	bridgeService := bridge.New(hostClient, logger)

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()

	executor := batch.NewExecutor(jobStore, logger, maxRunningJobs)
	executor.SetEventBus(eventBus)
	executor.SetRetryUnit(cfg.Batch.RetryUnit)

	dispatcher := notify.NewDispatcher(cfg.Notify.WebhookURLs, logger)
	unsubscribe := dispatcher.Subscribe(eventBus)
	defer unsubscribe()

	maintenanceService := maintenance.NewService(db, cfg.Database.Path, jobStore, cfg.Batch.JobRetention, logger)
	if err := maintenanceService.Start(ctx, cfg.Batch.RetentionSchedule); err != nil {
		return fmt.Errorf("starting maintenance schedule: %w", err)
	}

	backupService := backup.NewService(db, cfg.Database.BackupDir, cfg.Database.BackupKeep, logger)

	// Live reload of the sections that can change without a restart.
	configWatcher := watcher.NewService(path, eventBus, logger,
		func(c *config.Config) { logManager.Reconfigure(loggingConfig(c.Logging)) },
		func(c *config.Config) { dispatcher.SetURLs(c.Notify.WebhookURLs) },
	)
	go func() {
		if err := configWatcher.Start(ctx); err != nil {
			logger.Warn("config watcher disabled", "error", err)
		}
	}()

	logger.Info("starting massaction",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("host", cfg.Host.BaseURL),
	)

	router := api.NewRouter(ctx, api.RouterDeps{
		AuthService:       authService,
		Bridge:            bridgeService,
		Sessions:          hostClient,
		JobStore:          jobStore,
		Executor:          executor,
		EventBus:          eventBus,
		Maintenance:       maintenanceService,
		Backup:            backupService,
		Logger:            logger,
		BasePath:          cfg.Server.BasePath,
		SessionCookie:     cfg.Host.SessionCookie,
		TrustProxy:        cfg.Server.TrustProxyHeaders,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		BatchDefaults:     cfg.Batch,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// Job streams are long-lived, so no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Error("batch executor shutdown", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("webhook deliveries still pending", "error", err)
	}
	return nil
}

func loggingConfig(c config.LoggingConfig) logging.Config {
	return logging.Config{
		Level:          c.Level,
		Format:         c.Format,
		FilePath:       c.FilePath,
		FileMaxSizeMB:  c.FileMaxSizeMB,
		FileMaxFiles:   c.FileMaxFiles,
		FileMaxAgeDays: c.FileMaxAgeDays,
	}
}

func seedClients(in []config.ClientConfig) []auth.ClientInput {
	out := make([]auth.ClientInput, 0, len(in))
	for _, c := range in {
		out = append(out, auth.ClientInput{
			Name:      c.Name,
			IPv4Start: c.IPv4Start,
			IPv4End:   c.IPv4End,
			IPv6:      c.IPv6,
		})
	}
	return out
}

// resetAccess removes every API client and turns the API back on. This is
// an offline recovery for operators who locked themselves out.
func resetAccess() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if err := database.Migrate(ctx, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	authService := auth.NewService(db)
	clients, err := authService.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("listing API clients: %w", err)
	}
	for _, c := range clients {
		if err := authService.DeleteClient(ctx, c.ID); err != nil {
			return fmt.Errorf("deleting API client %s: %w", c.Name, err)
		}
	}
	if _, err := authService.SeedClients(ctx, seedClients(cfg.API.SeedClients)); err != nil {
		return fmt.Errorf("seeding API clients: %w", err)
	}
	if err := authService.SetAPIEnabled(ctx, true); err != nil {
		return fmt.Errorf("enabling API: %w", err)
	}

	fmt.Printf("Removed %d API client(s) and re-created the configured ones.\n", len(clients))
	fmt.Println("The API is enabled.")
	return nil
}
