package app

import (
	"context"
	"fmt"

	"github.com/opsdeck/workstream/config"
	"github.com/opsdeck/workstream/middleware"
	"github.com/opsdeck/workstream/repositories"
	"github.com/opsdeck/workstream/repositories/postgres"
	"github.com/opsdeck/workstream/services/audit"
	"github.com/opsdeck/workstream/services/bulk"
	"github.com/opsdeck/workstream/services/permissions"
	"github.com/opsdeck/workstream/services/statemachine"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repositories
	Entities  repositories.EntityStore
	AuditLogs repositories.AuditRepository
	TxManager repositories.TransactionManager

	// Services
	AuditService *audit.Service
	Evaluator    repositories.PermissionEvaluator
	Dispatcher   *statemachine.Dispatcher
	Machines     *statemachine.Registry
	BulkService  *bulk.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initServices(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	repos := postgres.NewRepositories(db, d.Logger)
	d.Entities = repos.Entities
	d.AuditLogs = repos.AuditLogs
	d.TxManager = repos.TxManager

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices wires the audit service, machines, and the bulk service.
func (d *Dependencies) initServices(cfg *config.Config) {
	redactor := audit.NewRedactor(cfg.Audit.ExtraRedactionPatterns)
	d.AuditService = audit.NewService(d.AuditLogs, redactor, cfg.Audit.Retention, d.Logger)

	d.Evaluator = permissions.NewDefaultEvaluator(d.Logger)

	d.Dispatcher = statemachine.NewDispatcher(d.Logger, statemachine.DispatcherConfig{
		BufferSize:  cfg.Bulk.HookBuffer,
		WorkerCount: cfg.Bulk.HookWorkers,
	})
	_ = d.Dispatcher.Start()

	machines := []*statemachine.BaseStateMachine{
		statemachine.NewBaseStateMachine(statemachine.NewWorkOrderDefinition(), d.Entities, d.Evaluator, d.AuditService, d.Dispatcher, d.Logger),
		statemachine.NewBaseStateMachine(statemachine.NewTicketDefinition(), d.Entities, d.Evaluator, d.AuditService, d.Dispatcher, d.Logger),
		statemachine.NewBaseStateMachine(statemachine.NewTaskDefinition(), d.Entities, d.Evaluator, d.AuditService, d.Dispatcher, d.Logger),
		statemachine.NewBaseStateMachine(statemachine.NewAttendanceDefinition(), d.Entities, d.Evaluator, d.AuditService, d.Dispatcher, d.Logger),
	}
	d.Machines = statemachine.NewRegistry(machines...)

	d.BulkService = bulk.NewService(d.Machines, d.Entities, d.AuditService, d.Evaluator, d.TxManager, cfg.Bulk.MaxBatchSize, d.Logger)

	d.Logger.Info("services initialized",
		zap.Int("state_machines", len(machines)),
		zap.Int("bulk_max_batch_size", cfg.Bulk.MaxBatchSize))
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	validator := middleware.NewJWTValidator(cfg.Auth)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending post-commit hooks before the pool goes away.
	if d.Dispatcher != nil {
		if err := d.Dispatcher.Stop(d.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain hook dispatcher: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
