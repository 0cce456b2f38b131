// Package server provides the public entry point for initializing the
// ContentMill server.
//
// This package exists in pkg/ (not internal/) so that deployment wrappers
// can import it and compose the full server with extra middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/contentmill/contentmill/internal/api"
	"github.com/contentmill/contentmill/internal/api/handlers"
	"github.com/contentmill/contentmill/internal/catalog"
	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/internal/executor"
	"github.com/contentmill/contentmill/internal/notify"
	"github.com/contentmill/contentmill/internal/providers"
	"github.com/contentmill/contentmill/internal/retention"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/internal/telemetry"
	"github.com/contentmill/contentmill/internal/workflow"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized ContentMill service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store: PostgreSQL when DATABASE_URL is set and
	// reachable, the snapshotting in-memory store otherwise.
	Store store.Store

	// Engine is the workflow engine. Exposed for tests and wrappers.
	Engine *workflow.Engine

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to stop the
	// retention janitor and flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cat := catalog.New()
	log.Info().Int("models", cat.Count()).Msg("✅ Model catalog loaded")

	providerRouter := providers.NewRouter(dataStore, cat)

	registry := executor.NewRegistry()
	registry.Register(executor.NewAIExecutor(providerRouter, cat, cfg.Executors))
	registry.Register(executor.NewScrapingExecutor(cfg.Executors))
	registry.Register(executor.NewScriptExecutor(cfg.Executors))
	registry.Register(executor.NewHTTPExecutor(cfg.Executors))
	registry.Register(executor.NewTransformExecutor(cfg.Executors))
	log.Info().Int("executors", len(registry.Types())).Msg("✅ Executor registry ready")

	notifier := notify.NewService(cfg.Notify)
	if notifier.Enabled() {
		log.Info().Msg("✅ Webhook notifications enabled")
	}

	engine := workflow.NewEngine(dataStore, registry, notifier)
	log.Info().Msg("✅ Workflow engine initialized")

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	if cfg.Retention.Enabled {
		janitor := retention.NewJanitor(dataStore, cfg.Retention)
		go janitor.Start(janitorCtx)
	}

	h := handlers.New(dataStore, engine, registry, cat, providerRouter)
	router := api.NewRouter(cfg, h, dataStore)

	shutdown := func(ctx context.Context) error {
		stopJanitor()
		return telemetryShutdown(ctx)
	}

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Engine:       engine,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// openStore picks PostgreSQL when configured and reachable, otherwise the
// in-memory store with disk snapshots.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("✅ PostgreSQL store initialized")
		return pg, nil
	}

	mem := store.NewMemoryStore(cfg.DataDir)
	log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized")
	return mem, nil
}
