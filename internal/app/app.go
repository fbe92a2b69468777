// Package app is the composition root: it builds every component from
// configuration and owns their lifecycle.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/cache"
	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/persistence"
	"github.com/daasalpha/alphahunter/internal/provider"
	"github.com/daasalpha/alphahunter/internal/scheduler"
	"github.com/daasalpha/alphahunter/internal/server"
	"github.com/daasalpha/alphahunter/internal/service"
	"github.com/daasalpha/alphahunter/internal/telemetry"
)

// App holds every wired component. There are no package-level singletons;
// tests construct as much or as little of this as they need.
type App struct {
	Config    config.Config
	Metrics   *telemetry.Metrics
	Cache     cache.Cache
	Provider  *provider.Client
	Store     persistence.Store // nil when no DSN is configured
	Hub       *server.Hub
	Backtests *service.BacktestService
	Screens   *service.ScreenService
	Server    *server.Server
	Scheduler *scheduler.Scheduler
}

// New builds the full application from configuration. A missing database
// DSN disables persistence rather than failing startup.
func New(cfg config.Config) (*App, error) {
	metrics := telemetry.New()
	c := cache.New(cfg.Cache.RedisAddr)
	client := provider.NewClient(cfg.Provider, c)

	var store persistence.Store
	if cfg.Database.DSN != "" {
		var err error
		store, err = persistence.NewPostgresStore(cfg.Database.DSN, cfg.Database.Timeout.Std())
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("no database configured, runs will not be persisted")
	}

	hub := server.NewHub()
	backtests := service.NewBacktestService(cfg, client, store, metrics, hub)
	screens := service.NewScreenService(cfg, client, metrics)

	return &App{
		Config:    cfg,
		Metrics:   metrics,
		Cache:     c,
		Provider:  client,
		Store:     store,
		Hub:       hub,
		Backtests: backtests,
		Screens:   screens,
		Server:    server.NewServer(cfg.Server, backtests, screens, store, metrics, hub),
		Scheduler: scheduler.New(cfg.Scheduler, backtests, screens),
	}, nil
}

// Serve starts the scheduler and HTTP server and blocks until the context
// is cancelled, then shuts everything down in reverse order.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- a.Server.Start() }()

	select {
	case err := <-errc:
		a.Scheduler.Stop()
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	a.Scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	return a.Close()
}

// Close releases resources not tied to Serve.
func (a *App) Close() error {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			return err
		}
	}
	return nil
}
