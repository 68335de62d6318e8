package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"truckpress/internal/api"
	"truckpress/internal/compose"
	"truckpress/internal/config"
	"truckpress/internal/dedup"
	"truckpress/internal/filter"
	"truckpress/internal/infrastructure/database"
	"truckpress/internal/infrastructure/delivery"
	"truckpress/internal/infrastructure/feeds"
	"truckpress/internal/infrastructure/scheduler"
	"truckpress/internal/infrastructure/storage"
	"truckpress/internal/scanner"
	"truckpress/internal/usecase"
)

// Application wires configuration into components and owns their lifecycle.
type Application struct {
	cfg          config.Config
	log          zerolog.Logger
	db           *database.DB
	orchestrator *usecase.Orchestrator
	ticker       *scheduler.IntervalScheduler
	server       *http.Server
}

// New builds the full runnable application. Storage or migration failures
// are fatal; everything downstream assumes a reachable database.
func New(cfg config.Config, log zerolog.Logger) (*Application, error) {
	db, err := database.New(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	articles := storage.NewArticleRepository(db)
	posts := storage.NewPostRepository(db)

	registry := scanner.NewRegistry()
	registry.Register(feeds.NewRSSScanner(nil))
	registry.Register(feeds.NewHTMLScanner(nil))
	source := feeds.NewStrategySource(registry, cfg.Feeds, log.With().Str("component", "feeds").Logger())

	orchestrator := usecase.New(usecase.Deps{
		Source:   source,
		Articles: articles,
		Posts:    posts,
		Delivery: delivery.NewClient(cfg.Delivery),
		Filter:   filter.New(cfg.Filter, log.With().Str("component", "filter").Logger()),
		Dedup:    dedup.New(cfg.Similarity),
		Composer: compose.New(cfg.Compose),
		Logger:   log.With().Str("component", "orchestrator").Logger(),
	}, cfg.Pipeline)

	ticker := scheduler.NewIntervalScheduler(log.With().Str("component", "scheduler").Logger())
	ticker.Every("ingest", cfg.Pipeline.IngestInterval, orchestrator.IngestTick)
	ticker.Every("publish", cfg.Pipeline.PublishInterval, orchestrator.PublishTick)
	ticker.Every("metrics", cfg.Pipeline.MetricsInterval, orchestrator.MetricsTick)
	ticker.Every("cleanup", cfg.Pipeline.CleanupInterval, orchestrator.CleanupTick)

	router := api.NewRouter(orchestrator, articles, posts, db.HealthCheck,
		log.With().Str("component", "api").Logger())

	return &Application{
		cfg:          cfg,
		log:          log,
		db:           db,
		orchestrator: orchestrator,
		ticker:       ticker,
		server: &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: router,
		},
	}, nil
}

// Run reconciles crash leftovers, starts the schedulers and the control
// surface, and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.orchestrator.Recover(ctx); err != nil {
		return fmt.Errorf("recover posting state: %w", err)
	}

	if err := a.ticker.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("control surface listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	return a.shutdown()
}

func (a *Application) shutdown() error {
	a.log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown")
	}
	if err := a.ticker.Stop(ctx); err != nil {
		a.log.Warn().Err(err).Msg("scheduler shutdown")
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("database close")
	}
	return nil
}
