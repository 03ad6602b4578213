package repository

import (
	"context"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// DispatchLedgerRepository implements port.DispatchLedger
type DispatchLedgerRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewDispatchLedgerRepository creates a new dispatch ledger repository
func NewDispatchLedgerRepository(db *sqldb.DB, logger *zap.Logger) port.DispatchLedger {
	return &DispatchLedgerRepository{
		db:     db,
		logger: logger,
	}
}

// Claim inserts the ledger row unless it already exists. It reports whether
// this call took the claim.
func (r *DispatchLedgerRepository) Claim(ctx context.Context, documentType, documentCode, effect string, at time.Time) (bool, error) {
	query := `
		INSERT INTO dispatch_ledger (document_type, document_code, effect_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_type, document_code, effect_name) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query, documentType, documentCode, effect, at)
	if err != nil {
		r.logger.Error("Failed to claim dispatch",
			zap.String("document_code", documentCode), zap.String("effect", effect), zap.Error(err))
		return false, sqldb.Classify(ctx, err, "failed to claim %s for %s", effect, documentCode)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, sqldb.Classify(ctx, err, "failed to read affected rows")
	}
	return n == 1, nil
}

// Has reports whether the effect was already applied for the document
func (r *DispatchLedgerRepository) Has(ctx context.Context, documentType, documentCode, effect string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM dispatch_ledger
		WHERE document_type = ? AND document_code = ? AND effect_name = ?
	`

	var n int
	if err := r.db.QueryRow(ctx, query, documentType, documentCode, effect).Scan(&n); err != nil {
		return false, sqldb.Classify(ctx, err, "failed to check %s for %s", effect, documentCode)
	}
	return n > 0, nil
}

// ListByDocument retrieves the ledger rows of a document
func (r *DispatchLedgerRepository) ListByDocument(ctx context.Context, documentType, documentCode string) ([]*entity.DispatchRecord, error) {
	query := `
		SELECT id, document_type, document_code, effect_name, created_at
		FROM dispatch_ledger
		WHERE document_type = ? AND document_code = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, documentType, documentCode)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list dispatches of %s", documentCode)
	}
	defer rows.Close()

	var out []*entity.DispatchRecord
	for rows.Next() {
		var rec entity.DispatchRecord
		if err := rows.Scan(&rec.ID, &rec.DocumentType, &rec.DocumentCode, &rec.EffectName, &rec.CreatedAt); err != nil {
			return nil, sqldb.Classify(ctx, err, "failed to scan dispatch record")
		}
		out = append(out, &rec)
	}

	return out, sqldb.Classify(ctx, rows.Err(), "failed to iterate dispatch records")
}

// Verify interface compliance
var _ port.DispatchLedger = (*DispatchLedgerRepository)(nil)
