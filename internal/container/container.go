package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/finflow/internal/application/dispatcher"
	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/application/workflow"
	"github.com/garyjia/finflow/internal/domain/event"
	"github.com/garyjia/finflow/internal/infrastructure/auth"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/finflow/internal/infrastructure/storage"
	"github.com/garyjia/finflow/internal/infrastructure/worker"
	httpapi "github.com/garyjia/finflow/internal/interfaces/http"
	"github.com/garyjia/finflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Initialization is ordered and teardown runs in reverse.
type Container struct {
	config *Config
	logger *zap.Logger
	clock  port.Clock

	// Infrastructure - Data
	conn         *database.DB
	store        *sqldb.DB
	repositories *RepositoryBundle

	// Infrastructure - Storage and identity
	fileStorage *storage.LocalFileStorage
	uploader    *storage.Uploader
	identity    *auth.JWTProvider

	// Application
	dispatcher dispatcher.Dispatcher
	engine     *workflow.Engine

	// Workers
	workers *worker.WorkerManager

	// Interfaces
	server *httpapi.Server

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Workflow  workflow.Repositories
	Audit     port.AuditRepository
	Sequences port.SequenceRepository
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option customises a Container
type Option func(*Container)

// WithClock replaces the wall clock used by the engine and token verifier
func WithClock(clock port.Clock) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
		clock:  port.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins background processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Storage
// 3. Identity provider
// 4. Event dispatcher and workflow engine
// 5. Workers
// 6. HTTP server (built here, served by the caller)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.conn.Driver()))

	// Step 2: Initialize storage
	if err := c.initStorage(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.logger.Info("Storage initialized", zap.String("upload_dir", c.config.Storage.UploadDir))

	// Step 3: Initialize identity provider
	identity, err := ProvideIdentity(&c.config.Auth, c.clock)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}
	c.identity = identity
	c.logger.Info("Identity provider initialized")

	// Step 4: Initialize dispatcher and workflow engine
	if err := c.initDispatcherAndWorkflow(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	// Step 5: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	// Step 6: Build the HTTP server
	c.initServer()

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	failed := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if failed > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", failed))
		return fmt.Errorf("container closed with %d errors", failed)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized and reports the number of
// components that failed to stop
func (c *Container) teardown() int {
	failed := 0

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			failed++
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	// Step 2: Close dispatcher, waiting for in-flight async handlers
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			failed++
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	// Step 3: Close database
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			failed++
		} else {
			c.logger.Info("Database closed")
		}
		c.conn = nil
	}

	return failed
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	// Check database
	if c.conn != nil {
		if err := c.conn.PingContext(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	} else {
		set("database", false, "not initialized")
	}

	// Check workers
	if c.workers != nil {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	// Check dispatcher
	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	// Check engine
	if c.engine != nil {
		set("workflow", true, "")
	} else {
		set("workflow", false, "not initialized")
	}

	return status
}

// HealthCheck adapts Health to the HTTP health endpoint
func (c *Container) HealthCheck(ctx context.Context) (bool, map[string]string) {
	status := c.Health(ctx)
	components := make(map[string]string, len(status.Components))
	for name, h := range status.Components {
		switch {
		case h.Healthy:
			components[name] = "ok"
		case h.Message != "":
			components[name] = h.Message
		default:
			components[name] = "unhealthy"
		}
	}
	return status.Overall, components
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.conn = bundle.Conn
	c.store = bundle.Store

	repos, err := ProvideRepositories(c.store, c.logger)
	if err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return err
	}

	c.repositories = repos
	return nil
}

// initStorage initializes file storage and the uploader using providers.
func (c *Container) initStorage() error {
	bundle, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return err
	}

	c.fileStorage = bundle.FileStorage
	c.uploader = bundle.Uploader
	return nil
}

// initDispatcherAndWorkflow initializes the event dispatcher and workflow engine using providers.
func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(c.logger, c.config.Worker.EventHandlerTimeout)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	// every committed transition is logged once for operators
	events := c.logger.Named("events")
	disp.SubscribeAll("transition_log", func(ctx context.Context, evt *event.Event) error {
		events.Info("Document event",
			zap.String("event_type", string(evt.Type)),
			zap.String("event_id", evt.ID),
			zap.String("document_code", evt.DocumentCode),
			zap.String("new_status", evt.NewStatus),
			zap.String("actor_code", evt.ActorCode))
		return nil
	})

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.store,
		Dispatcher: c.dispatcher,
		Storage:    c.fileStorage,
		Clock:      c.clock,
		Config:     &c.config.Workflow,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	return nil
}

// initWorkers initializes and starts all background workers using providers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Engine:    c.engine,
		WorkerCfg: &c.config.Worker,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// initServer builds the HTTP adapter over the engine
func (c *Container) initServer() {
	c.server = httpapi.NewServer(
		httpapi.ServerConfig{
			Host:            c.config.Server.Host,
			Port:            c.config.Server.Port,
			ReadTimeout:     c.config.Server.ReadTimeout,
			WriteTimeout:    c.config.Server.WriteTimeout,
			ShutdownTimeout: c.config.Server.ShutdownTimeout,
			Version:         c.config.Version,
		},
		c.engine,
		c.identity,
		c.uploader,
		c.HealthCheck,
		&zapLoggerAdapter{logger: c.logger.Named("http")},
	)
}

// Getters for accessing container components

// Store returns the transaction manager.
func (c *Container) Store() port.TransactionManager {
	return c.store
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// FileStorage returns the file storage.
func (c *Container) FileStorage() port.FileStorage {
	return c.fileStorage
}

// Identity returns the bearer token provider.
func (c *Container) Identity() *auth.JWTProvider {
	return c.identity
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Engine returns the workflow engine.
func (c *Container) Engine() *workflow.Engine {
	return c.engine
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Server returns the HTTP server.
func (c *Container) Server() *httpapi.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the small Logger interfaces of the
// application and interface packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
