package config

import (
	"github.com/garyjia/finflow/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig(version string) *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			TxTimeout:       c.Database.TxTimeout,
		},
		Auth: container.AuthConfig{
			JWTSecret: c.Auth.JWTSecret,
			Issuer:    c.Auth.Issuer,
			TokenTTL:  c.Auth.TokenTTL,
		},
		Storage: container.StorageConfig{
			UploadDir:     c.Storage.UploadDir,
			MaxUploadSize: c.Storage.MaxUploadSize,
		},
		Workflow: container.WorkflowConfig{
			PaymentTermDays: c.Workflow.PaymentTermDays,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
		Worker: container.WorkerConfig{
			ReconcileInterval:  c.Workers.ReconcileInterval,
			ReconcileBatchSize: c.Workers.ReconcileBatchSize,
			ReconcileTimeout:   c.Workers.ReconcileTimeout,
			OverdueSchedule:    c.Workers.OverdueSchedule,
			OverdueBatchSize:   c.Workers.OverdueBatchSize,

			EventHandlerTimeout: c.Workers.EventHandlerTimeout,
		},
		Version: version,
	}
}
