package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// IdempotencyRepository implements port.IdempotencyRepository
type IdempotencyRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewIdempotencyRepository creates a new idempotency key repository
func NewIdempotencyRepository(db *sqldb.DB, logger *zap.Logger) port.IdempotencyRepository {
	return &IdempotencyRepository{
		db:     db,
		logger: logger,
	}
}

// Lookup returns the document recorded for key, or empty strings when unseen
func (r *IdempotencyRepository) Lookup(ctx context.Context, key string) (string, string, error) {
	var docType, code string
	err := r.db.QueryRow(ctx,
		`SELECT document_type, document_code FROM idempotency_keys WHERE idempotency_key = ?`,
		key).Scan(&docType, &code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", sqldb.Classify(ctx, err, "failed to look up idempotency key")
	}
	return docType, code, nil
}

// Save records the document produced for key. A concurrent request holding
// the same key surfaces as a conflict.
func (r *IdempotencyRepository) Save(ctx context.Context, key, documentType, documentCode string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO idempotency_keys (idempotency_key, document_type, document_code, created_at) VALUES (?, ?, ?, ?)`,
		key, documentType, documentCode, at)
	if err != nil {
		r.logger.Error("Failed to save idempotency key", zap.String("document_code", documentCode), zap.Error(err))
		return sqldb.Classify(ctx, err, "failed to save idempotency key")
	}
	return nil
}

// Verify interface compliance
var _ port.IdempotencyRepository = (*IdempotencyRepository)(nil)
