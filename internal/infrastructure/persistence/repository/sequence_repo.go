package repository

import (
	"context"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// SequenceRepository implements port.SequenceRepository on document_sequences
type SequenceRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *sqldb.DB, logger *zap.Logger) port.SequenceRepository {
	return &SequenceRepository{
		db:     db,
		logger: logger,
	}
}

// Next increments and returns the counter for (prefix, year) in a single
// statement, so two callers can never observe the same value.
func (r *SequenceRepository) Next(ctx context.Context, prefix string, year int) (int64, error) {
	query := `
		INSERT INTO document_sequences (prefix, year, value) VALUES (?, ?, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET value = document_sequences.value + 1
		RETURNING value
	`

	var value int64
	if err := r.db.QueryRow(ctx, query, prefix, year).Scan(&value); err != nil {
		r.logger.Error("Failed to allocate sequence",
			zap.String("prefix", prefix), zap.Int("year", year), zap.Error(err))
		return 0, sqldb.Classify(ctx, err, "failed to allocate %s sequence", prefix)
	}

	return value, nil
}

// Verify interface compliance
var _ port.SequenceRepository = (*SequenceRepository)(nil)
