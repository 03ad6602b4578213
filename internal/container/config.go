// Package container provides dependency injection and lifecycle management
// for the finflow document workflow service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/finflow/pkg/database"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Auth configuration
	Auth AuthConfig

	// Storage configuration
	Storage StorageConfig

	// Workflow configuration
	Workflow WorkflowConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig

	// Version reported by /health
	Version string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is the database/sql driver, sqlite3 or pgx
	Driver string

	// Path to SQLite database file
	Path string

	// DSN is the Postgres connection string
	DSN string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long SQLite waits on a locked database
	BusyTimeout time.Duration

	// TxTimeout bounds every unit of work; zero disables it
	TxTimeout time.Duration

	// SkipMigrations leaves the schema untouched at startup
	SkipMigrations bool
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// UploadDir is the base directory for proofs and receipts
	UploadDir string

	// MaxUploadSize caps a single uploaded file in bytes
	MaxUploadSize int64
}

// WorkflowConfig holds engine settings.
type WorkflowConfig struct {
	// PaymentTermDays offsets an invoice's due date from its invoice date
	PaymentTermDays int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// Dispatch reconciler settings
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	ReconcileTimeout   time.Duration

	// Overdue sweeper settings
	OverdueSchedule  string
	OverdueBatchSize int

	// Event subscribers
	EventHandlerTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          database.DriverSQLite,
			Path:            "data/finflow.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
			TxTimeout:       10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:   "finflow",
			TokenTTL: 72 * time.Hour,
		},
		Storage: StorageConfig{
			UploadDir:     "uploads",
			MaxUploadSize: 10 << 20,
		},
		Workflow: WorkflowConfig{
			PaymentTermDays: 30,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			ReconcileInterval:  time.Minute,
			ReconcileBatchSize: 100,
			ReconcileTimeout:   30 * time.Second,
			OverdueSchedule:    "@daily",
			OverdueBatchSize:   500,

			EventHandlerTimeout: 30 * time.Second,
		},
		Version: "dev",
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	// Validate database configuration
	switch c.Database.Driver {
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required")
		}
	case database.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	// Validate auth configuration
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	// Validate storage configuration
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("upload dir is required")
	}

	return nil
}
