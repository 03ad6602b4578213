package repository

import (
	"context"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

// AuditRepository implements port.AuditRepository. It exposes no update or
// delete so audit_log stays append-only.
type AuditRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqldb.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts an audit entry
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	query := `
		INSERT INTO audit_log (
			actor_code, actor_name, action, resource_type, resource_code,
			resource_name, before_state, after_state, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		entry.ActorCode,
		entry.ActorName,
		entry.Action,
		entry.ResourceType,
		entry.ResourceCode,
		entry.ResourceName,
		entry.Before,
		entry.After,
		entry.Notes,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return sqldb.Classify(ctx, err, "failed to append audit entry")
	}

	return nil
}

// ListByResource retrieves the audit trail of a document, oldest first
func (r *AuditRepository) ListByResource(ctx context.Context, resourceType, resourceCode string) ([]*entity.AuditEntry, error) {
	query := `
		SELECT id, actor_code, actor_name, action, resource_type, resource_code,
			resource_name, before_state, after_state, notes, created_at
		FROM audit_log
		WHERE resource_type = ? AND resource_code = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, resourceType, resourceCode)
	if err != nil {
		r.logger.Error("Failed to list audit entries",
			zap.String("resource_code", resourceCode), zap.Error(err))
		return nil, sqldb.Classify(ctx, err, "failed to list audit entries of %s", resourceCode)
	}
	defer rows.Close()

	var out []*entity.AuditEntry
	for rows.Next() {
		var e entity.AuditEntry
		if err := rows.Scan(
			&e.ID,
			&e.ActorCode,
			&e.ActorName,
			&e.Action,
			&e.ResourceType,
			&e.ResourceCode,
			&e.ResourceName,
			&e.Before,
			&e.After,
			&e.Notes,
			&e.CreatedAt,
		); err != nil {
			return nil, sqldb.Classify(ctx, err, "failed to scan audit entry")
		}
		out = append(out, &e)
	}

	return out, sqldb.Classify(ctx, rows.Err(), "failed to iterate audit entries")
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
