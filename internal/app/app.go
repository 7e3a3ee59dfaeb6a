package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"TrialSync/internal/config"
	"TrialSync/internal/infrastructure/analyzer"
	"TrialSync/internal/infrastructure/embedding"
	"TrialSync/internal/infrastructure/httpapi"
	"TrialSync/internal/infrastructure/index"
	"TrialSync/internal/infrastructure/objectstore"
	"TrialSync/internal/infrastructure/scheduler"
	"TrialSync/internal/infrastructure/storage"
	"TrialSync/internal/logging"
	"TrialSync/internal/usecase"
	"TrialSync/pkg/retry"
)

// Application wires configs to the sync engine and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db    *sql.DB
	sched *usecase.Scheduler
	api   *http.Server
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	gateway, err := objectstore.New(cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	tracking := storage.NewPostgresTrackingStore(db)
	embedder := embedding.NewOpenAIEmbedder(cfg.Embedding)
	semanticIndex := index.NewPgvectorIndex(db, embedder, cfg.Embedding.Dimensions,
		baseLogger.With("component", "index"))

	engine := usecase.NewReconciler(usecase.ReconcilerDeps{
		Gateway:  gateway,
		Tracking: tracking,
		Index:    semanticIndex,
		Analyzer: analyzer.NewClient(cfg.Analyzer),
		WorkDir:  cfg.Sync.WorkDir,
		Retry: retry.Policy{
			Attempts:  cfg.Sync.RetryAttempts,
			BaseDelay: cfg.Sync.RetryBaseDuration(),
			MaxDelay:  cfg.Sync.RetryMaxDuration(),
		},
		Logger: baseLogger.With("component", "reconciler"),
	})

	driver := scheduler.NewIntervalDriver(cfg.Sync.IntervalDuration(), cfg.Sync.RunImmediatelyEnabled())
	sched := usecase.NewScheduler(driver, engine, cfg.Sync.IntervalDuration(),
		baseLogger.With("component", "scheduler"))

	api := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: httpapi.NewServer(sched, tracking, semanticIndex, baseLogger.With("component", "api")),
	}

	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		db:     db,
		sched:  sched,
		api:    api,
	}, nil
}

// Run starts the sync loop and the operator API, then blocks until the
// context is canceled and everything has shut down.
func (a *Application) Run(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := a.db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("sync loop started",
		"interval", a.cfg.Sync.IntervalDuration(),
		"bucket", a.cfg.Storage.Bucket)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("operator api listening", "addr", a.api.Addr)
		if err := a.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		a.shutdown()
		return fmt.Errorf("operator api: %w", err)
	case <-ctx.Done():
		a.logger.Info("shutting down")
		a.shutdown()
		return nil
	}
}

func (a *Application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.api.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("api shutdown failed", "error", err)
	}
	if err := a.sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}
}
