package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix namespaces environment overrides, e.g. FINFLOW_SERVER_PORT
const EnvPrefix = "FINFLOW"

// MinJWTSecretLength is the shortest accepted HS256 signing secret
const MinJWTSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite3 or pgx
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// StorageConfig holds proof and receipt upload settings
type StorageConfig struct {
	UploadDir     string `mapstructure:"upload_dir"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
}

// WorkflowConfig holds document workflow settings
type WorkflowConfig struct {
	PaymentTermDays int `mapstructure:"payment_term_days"`
}

// WorkersConfig holds background worker settings
type WorkersConfig struct {
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchSize int           `mapstructure:"reconcile_batch_size"`
	ReconcileTimeout   time.Duration `mapstructure:"reconcile_timeout"`
	OverdueSchedule    string        `mapstructure:"overdue_schedule"`
	OverdueBatchSize   int           `mapstructure:"overdue_batch_size"`

	// EventHandlerTimeout bounds each event subscriber call; zero means none
	EventHandlerTimeout time.Duration `mapstructure:"event_handler_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables already set win; a missing file is not an error.
func LoadEnvFile(path string) error {
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults plus environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "data/finflow.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.tx_timeout", 10*time.Second)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "finflow")
	v.SetDefault("auth.token_ttl", 72*time.Hour)

	// Storage defaults
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.max_upload_size", 10<<20)

	// Workflow defaults
	v.SetDefault("workflow.payment_term_days", 30)

	// Worker defaults
	v.SetDefault("workers.reconcile_interval", time.Minute)
	v.SetDefault("workers.reconcile_batch_size", 100)
	v.SetDefault("workers.reconcile_timeout", 30*time.Second)
	v.SetDefault("workers.overdue_schedule", "@daily")
	v.SetDefault("workers.overdue_batch_size", 500)
	v.SetDefault("workers.event_handler_timeout", 30*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the conventional unprefixed names for secrets
func bindEnvVars(v *viper.Viper) error {
	if err := v.BindEnv("auth.jwt_secret", "FINFLOW_AUTH_JWT_SECRET", "JWT_SECRET"); err != nil {
		return err
	}
	return v.BindEnv("database.dsn", "FINFLOW_DATABASE_DSN", "DATABASE_DSN")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate database
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for pgx")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite3 or pgx, got %q", c.Database.Driver)
	}
	if c.Database.TxTimeout < 0 {
		return fmt.Errorf("database.tx_timeout must not be negative")
	}

	// Validate auth
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	// Validate storage
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage.max_upload_size must be positive")
	}

	if c.Workflow.PaymentTermDays <= 0 {
		return fmt.Errorf("workflow.payment_term_days must be positive")
	}

	// Validate workers
	if c.Workers.ReconcileInterval <= 0 {
		return fmt.Errorf("workers.reconcile_interval must be positive")
	}
	if c.Workers.OverdueSchedule == "" {
		return fmt.Errorf("workers.overdue_schedule is required")
	}
	if c.Workers.EventHandlerTimeout < 0 {
		return fmt.Errorf("workers.event_handler_timeout must not be negative")
	}

	return nil
}
