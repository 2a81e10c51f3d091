// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 5:27:33 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/common"
	"github.com/ternarybob/imprimo/internal/handlers"
	"github.com/ternarybob/imprimo/internal/interfaces"
	"github.com/ternarybob/imprimo/internal/queue"
	"github.com/ternarybob/imprimo/internal/services/cleanup"
	"github.com/ternarybob/imprimo/internal/services/render"
	"github.com/ternarybob/imprimo/internal/services/safety"
	"github.com/ternarybob/imprimo/internal/storage/badger"
	"github.com/ternarybob/imprimo/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// URL safety
	Validator *safety.Validator
	Redirects *safety.RedirectChecker

	// Job pipeline
	QueueService   interfaces.QueueService
	Renderer       interfaces.Renderer
	Worker         *worker.Worker
	CleanupService *cleanup.Service

	// HTTP handlers
	JobHandler *handlers.JobHandler
	APIHandler *handlers.APIHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badger.NewManager(logger, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.Validator = safety.NewValidator(logger)
	a.Redirects = safety.NewRedirectChecker(a.Validator, logger)

	a.QueueService = queue.NewService(storageManager, cfg, logger)

	renderer, err := render.NewChromeRenderer(render.Options{
		Headless:   cfg.Render.Headless,
		NoSandbox:  cfg.Render.NoSandbox,
		UserAgent:  cfg.Render.UserAgent,
		SettleTime: time.Duration(cfg.Render.SettleMilliseconds) * time.Millisecond,
	}, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}
	a.Renderer = renderer

	a.Worker = worker.NewWorker(
		a.QueueService,
		storageManager.HeartbeatStorage(),
		a.Renderer,
		a.Validator,
		a.Redirects,
		cfg,
		logger,
	)

	a.CleanupService = cleanup.NewService(
		storageManager,
		time.Duration(cfg.Cleanup.IntervalSeconds)*time.Second,
		time.Duration(cfg.Cleanup.FileAgeSeconds)*time.Second,
		logger,
	)

	a.JobHandler = handlers.NewJobHandler(a.QueueService, storageManager.JobStorage(), a.Validator, logger)
	a.APIHandler = handlers.NewAPIHandler(storageManager, cfg.Worker.WorkerID, logger)

	logger.Info().
		Str("db_path", cfg.Storage.DBPath).
		Str("pdf_path", cfg.Storage.PDFPath).
		Msg("Application initialized")

	return a, nil
}

// Start launches the worker and cleanup loops
func (a *App) Start(ctx context.Context) error {
	if err := a.Worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	if err := a.CleanupService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cleanup: %w", err)
	}
	return nil
}

// Close shuts down components in reverse dependency order
func (a *App) Close() error {
	if a.CleanupService != nil {
		a.CleanupService.Stop()
	}
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Renderer != nil {
		if err := a.Renderer.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close renderer")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
