package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"catalog-sync-service/internal/api"
	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/crud"
	"catalog-sync-service/internal/database"
	"catalog-sync-service/internal/dedup"
	"catalog-sync-service/internal/logger"
	"catalog-sync-service/internal/remote"
	"catalog-sync-service/internal/resilience"
	"catalog-sync-service/internal/store"
	"catalog-sync-service/internal/sync"
)

// App holds every long-lived component. Each one is built exactly once here
// and handed to whatever needs it.
type App struct {
	cfg       *config.Config
	db        *database.Database
	store     *store.SQLiteStore
	registry  *prometheus.Registry
	executor  *resilience.Executor
	client    *remote.Client
	manager   *sync.Manager
	ledger    *dedup.Ledger
	crud      *crud.Service
	worker    *sync.NotificationWorker
	scheduler *sync.Scheduler
	server    *http.Server
}

func newApp(cfg *config.Config) (*App, error) {
	db, err := database.NewDatabase(cfg.Store.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog store: %w", err)
	}
	st := store.NewSQLiteStore(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	executor := resilience.NewExecutor(resilience.NewMetrics(registry))

	client := remote.NewClient(cfg.Remote, remote.StaticTokenProvider{Token: cfg.Remote.AccessToken})

	manager, err := sync.NewManager(cfg.Sync, client, st, executor)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to init sync manager: %w", err)
	}

	ledger := dedup.NewLedger(cfg.Dedup)
	crudService := crud.NewService(client, st, executor, ledger, resilience.PolicyFromConfig(cfg.Sync.WriteRetry))
	worker := sync.NewNotificationWorker(cfg.Sync.NotificationBatchWindow, manager, ledger)
	scheduler := sync.NewScheduler(cfg.Scheduler, manager)

	handler := api.NewHandler(api.Dependencies{
		Sync:          manager,
		Items:         crudService,
		Catalog:       st,
		Notifications: worker,
		Metrics:       executor.Metrics(),
		Gatherer:      registry,
		AuthToken:     cfg.Server.AuthToken,
		WebhookSecret: cfg.Server.WebhookSecret,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	return &App{
		cfg:       cfg,
		db:        db,
		store:     st,
		registry:  registry,
		executor:  executor,
		client:    client,
		manager:   manager,
		ledger:    ledger,
		crud:      crudService,
		worker:    worker,
		scheduler: scheduler,
		server:    server,
	}, nil
}

// Start checks the store, then starts the background workers and the server.
func (a *App) Start(ctx context.Context) error {
	recreated, err := a.manager.CheckStore(ctx)
	if err != nil {
		return fmt.Errorf("store integrity check failed: %w", err)
	}
	if recreated {
		logger.Log.Warn("Catalog store was recreated; the next sync will be full")
	}

	if a.cfg.Remote.AccessToken == "" {
		logger.Log.Warn("No remote access token configured; remote calls will fail")
	}
	if a.cfg.Server.AuthToken == "" {
		logger.Log.Warn("No server auth token configured; the admin API is open")
	}
	if a.cfg.Server.WebhookSecret == "" {
		logger.Log.Warn("No webhook secret configured; catalog notifications are unauthenticated")
	}

	a.worker.Start()
	if err := a.scheduler.Start(); err != nil {
		return err
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests, then stops the workers, cancels any
// running sync and closes the store.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
	a.scheduler.Stop()
	a.worker.Stop()
	a.manager.Close()
	a.ledger.Purge()
	if err := a.store.Close(); err != nil {
		logger.Log.Error("Failed to close catalog store", zap.Error(err))
	}
}

func configPath() string {
	if p := os.Getenv("CATALOG_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func main() {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting catalog sync service",
		zap.String("remote", cfg.Remote.BaseURL),
		zap.String("store", cfg.Store.FilePath))

	app, err := newApp(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to init service", zap.Error(err))
	}

	if err := app.Start(context.Background()); err != nil {
		logger.Log.Fatal("Failed to start service", zap.Error(err))
	}

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	app.Shutdown(ctx)
}
