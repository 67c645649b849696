package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/common"
	"github.com/tessari/passport/internal/handlers"
	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/services/events"
	"github.com/tessari/passport/internal/services/identity"
	"github.com/tessari/passport/internal/services/jobs"
	"github.com/tessari/passport/internal/services/prevalidate"
	"github.com/tessari/passport/internal/services/reconciler"
	"github.com/tessari/passport/internal/services/staging"
	storage "github.com/tessari/passport/internal/storage/badger"
	"github.com/tessari/passport/internal/storage/files"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB                 *storage.BadgerDB
	JobStore           interfaces.JobStore
	PendingEntityStore interfaces.PendingEntityStore

	// Services
	EventService      interfaces.EventService
	Verifier          interfaces.TokenVerifier
	StagingService    *staging.Service
	JobService        *jobs.Service
	ReconcilerService *reconciler.Service
	PrevalidateSvc    *prevalidate.Service

	// WebSocket
	Registry *handlers.Registry
	Hub      *handlers.Hub

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	ValidateHandler *handlers.ValidateHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	db, err := storage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.JobStore = storage.NewJobStorage(db, logger)
	app.PendingEntityStore = storage.NewPendingEntityStorage(db, logger)

	app.EventService = events.NewService(logger)
	app.Verifier = identity.NewStaticVerifier(&cfg.Auth, logger)

	sampler := files.NewLocalSampler(cfg.Import.UploadDir, logger)
	app.PrevalidateSvc = prevalidate.NewService(&cfg.Import, sampler, logger)

	app.StagingService = staging.NewService(app.PendingEntityStore, logger)
	app.JobService = jobs.NewService(app.JobStore, app.StagingService, app.EventService, logger)

	app.ReconcilerService = reconciler.NewService(app.JobStore, app.EventService, &cfg.Reconciler, logger)
	app.JobService.SetStaleChecker(app.ReconcilerService)

	app.Registry = handlers.NewRegistry()
	app.Hub = handlers.NewHub(app.EventService, app.Verifier, app.JobService, app.Registry, &cfg.WebSocket, logger)

	app.APIHandler = handlers.NewAPIHandler()
	app.JobHandler = handlers.NewJobHandler(app.JobService, app.StagingService, app.PrevalidateSvc, logger)
	app.ValidateHandler = handlers.NewValidateHandler(app.PrevalidateSvc, logger)

	logger.Info().Msg("Application initialized")
	return app, nil
}

// Start launches the background components
func (a *App) Start() error {
	if err := a.ReconcilerService.Start(); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	a.Hub.StartHeartbeat()
	return nil
}

// Close closes all application resources. Order matters: stop producers
// before consumers, and the database last.
func (a *App) Close() error {
	if a.ReconcilerService != nil {
		a.ReconcilerService.Stop()
		a.Logger.Info().Msg("Reconciler stopped")
	}

	if a.Hub != nil {
		a.Hub.Stop()
		a.Logger.Info().Msg("WebSocket hub stopped")
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
			return err
		}
		a.Logger.Info().Msg("Database closed")
	}

	return nil
}
