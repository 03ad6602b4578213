package container

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/finflow/internal/application/audit"
	"github.com/garyjia/finflow/internal/application/codegen"
	"github.com/garyjia/finflow/internal/application/dispatcher"
	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/application/workflow"
	"github.com/garyjia/finflow/internal/infrastructure/auth"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/finflow/internal/infrastructure/storage"
	"github.com/garyjia/finflow/internal/infrastructure/worker"
	"github.com/garyjia/finflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn  *database.DB
	Store *sqldb.DB
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	FileStorage *storage.LocalFileStorage
	Uploader    *storage.Uploader
}

// ProvideDatabase opens the configured database, applies pending migrations
// and wraps the connection in the transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		if err := database.NewMigrator(conn, logger).Run(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	store := sqldb.NewDB(conn.DB, sqldb.Dialect(conn.Driver()), cfg.TxTimeout, logger)

	return &DatabaseBundle{
		Conn:  conn,
		Store: store,
	}, nil
}

// ProvideRepositories creates all repositories from the transaction manager.
func ProvideRepositories(store *sqldb.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if store == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Workflow: workflow.Repositories{
			CashAdvances:   repository.NewCashAdvanceRepository(store, logger),
			Settlements:    repository.NewSettlementRepository(store, logger),
			Reimbursements: repository.NewReimbursementRepository(store, logger),
			SalesOrders:    repository.NewSalesOrderRepository(store, logger),
			PurchaseOrders: repository.NewPurchaseOrderRepository(store, logger),
			DeliveryOrders: repository.NewDeliveryOrderRepository(store, logger),
			Payables:       repository.NewAccountsPayableRepository(store, logger),
			Ledger:         repository.NewDispatchLedgerRepository(store, logger),
			Idempotency:    repository.NewIdempotencyRepository(store, logger),
		},
		Audit:     repository.NewAuditRepository(store, logger),
		Sequences: repository.NewSequenceRepository(store, logger),
	}, nil
}

// ProvideStorage creates the upload directory, file storage and uploader.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}

	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	files := storage.NewLocalFileStorage(cfg.UploadDir, logger)
	return &StorageBundle{
		FileStorage: files,
		Uploader:    storage.NewUploader(files, cfg.MaxUploadSize, logger),
	}, nil
}

// ProvideIdentity creates the bearer token verifier.
func ProvideIdentity(cfg *AuthConfig, clock port.Clock) (*auth.JWTProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth config is required")
	}
	return auth.NewJWTProvider(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL, clock)
}

// ProvideDispatcher creates the post-commit event dispatcher.
func ProvideDispatcher(logger *zap.Logger, handlerTimeout time.Duration) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("events")}),
		dispatcher.WithHandlerTimeout(handlerTimeout),
	)
	return disp, nil
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Storage    port.FileStorage
	Clock      port.Clock
	Config     *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the engine together with its code generator,
// side-effect dispatcher and audit recorder.
func ProvideWorkflowEngine(deps *WorkflowDeps) (*workflow.Engine, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = port.SystemClock{}
	}
	logger := &zapLoggerAdapter{logger: deps.Logger.Named("workflow")}

	codes := codegen.NewGenerator(deps.Repos.Sequences, clock)
	effects := sideeffect.NewDispatcher(deps.Repos.Workflow.Ledger, clock, logger)
	recorder := audit.NewRecorder(deps.Repos.Audit, clock, logger)

	opts := []workflow.EngineOption{}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}
	if deps.Storage != nil {
		opts = append(opts, workflow.WithFileStorage(deps.Storage))
	}
	if deps.Config != nil {
		opts = append(opts, workflow.WithPaymentTermDays(deps.Config.PaymentTermDays))
	}

	return workflow.NewEngine(deps.Repos.Workflow, deps.TxManager, codes, effects, recorder, clock, logger, opts...), nil
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Engine    *workflow.Engine
	WorkerCfg *WorkerConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates the worker manager with the dispatch reconciler and
// the overdue sweeper registered.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	reconcilerCfg := worker.DefaultReconcilerConfig()
	if deps.WorkerCfg.ReconcileInterval > 0 {
		reconcilerCfg.Interval = deps.WorkerCfg.ReconcileInterval
	}
	if deps.WorkerCfg.ReconcileBatchSize > 0 {
		reconcilerCfg.BatchSize = deps.WorkerCfg.ReconcileBatchSize
	}
	if deps.WorkerCfg.ReconcileTimeout > 0 {
		reconcilerCfg.Timeout = deps.WorkerCfg.ReconcileTimeout
	}
	manager.Register(worker.NewDispatchReconciler(reconcilerCfg, deps.Engine, deps.Logger))

	sweeper, err := worker.NewOverdueSweeper(deps.WorkerCfg.OverdueSchedule, deps.WorkerCfg.OverdueBatchSize, deps.Engine, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create overdue sweeper: %w", err)
	}
	manager.Register(sweeper)

	return manager, nil
}
