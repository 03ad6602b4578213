// Package http exposes the workflow engine over a JSON API.
// This is a thin adapter layer that translates HTTP requests to engine calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/application/workflow"
	"github.com/garyjia/finflow/internal/domain/entity"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Engine is the workflow surface served by the API
type Engine interface {
	CreateDocument(ctx context.Context, docType entity.DocumentType, payload workflow.Payload, actor entity.Actor, idempotencyKey string) (*workflow.CreateResult, error)
	ApplyAction(ctx context.Context, docType entity.DocumentType, code string, action domainwf.Action, payload workflow.Payload, actor entity.Actor) (*workflow.TransitionResult, error)
	GetDocument(ctx context.Context, docType entity.DocumentType, code string) (*workflow.DocumentView, error)
	ListDocuments(ctx context.Context, docType entity.DocumentType, filter port.ListFilter, page workflow.Page) (*workflow.ListResult, error)
	DeleteDocument(ctx context.Context, docType entity.DocumentType, code string, actor entity.Actor) error
	AuditTrail(ctx context.Context, docType entity.DocumentType, code string) ([]*entity.AuditEntry, error)
	Table(docType entity.DocumentType) (*domainwf.Table, error)
}

// Uploader stores proof and receipt files
type Uploader interface {
	Upload(ctx context.Context, category, originalName string, content []byte) (string, error)
	MaxSize() int64
}

// HealthFunc reports component health; ok false turns /health into a 503
type HealthFunc func(ctx context.Context) (ok bool, components map[string]string)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Version         string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Version:         "dev",
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	engine     Engine
	identity   port.IdentityProvider
	uploader   Uploader
	health     HealthFunc
	logger     Logger
}

// NewServer creates a new HTTP server. uploader and health may be nil.
func NewServer(
	config ServerConfig,
	engine Engine,
	identity port.IdentityProvider,
	uploader Uploader,
	health HealthFunc,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		engine:   engine,
		identity: identity,
		uploader: uploader,
		health:   health,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []interface{}{
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		}
		if actor, ok := actorFrom(c); ok {
			fields = append(fields, "actor_code", actor.Code)
		}
		s.logger.Info("HTTP request", fields...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.engine, s.uploader, s.health, s.config.Version, s.logger)

	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api", bearerAuth(s.identity))
	{
		api.GET("/workflows/:type", handlers.GetWorkflow)

		api.POST("/documents/:type", handlers.CreateDocument)
		api.GET("/documents/:type", handlers.ListDocuments)
		api.GET("/documents/:type/:code", handlers.GetDocument)
		api.DELETE("/documents/:type/:code", handlers.DeleteDocument)
		api.POST("/documents/:type/:code/actions/:action", handlers.ApplyAction)
		api.GET("/documents/:type/:code/audit", handlers.AuditTrail)

		api.POST("/uploads", handlers.Upload)
	}
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
