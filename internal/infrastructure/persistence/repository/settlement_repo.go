package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const settlementColumns = `cash_advance_code, remaining_amount, refund_proof_path, notes,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason`

var settlementFields = []string{
	"cash_advance_code", "remaining_amount", "refund_proof_path", "notes",
	"approved_by", "approved_at", "rejected_by", "rejected_at", "rejection_reason",
}

// SettlementRepository implements port.SettlementRepository
type SettlementRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *sqldb.DB, logger *zap.Logger) port.SettlementRepository {
	return &SettlementRepository{
		db:     db,
		logger: logger,
	}
}

func settlementValues(s *entity.Settlement) []interface{} {
	return []interface{}{
		s.CashAdvanceCode,
		s.RemainingAmount,
		s.RefundProofPath,
		s.Notes,
		s.ApprovedBy,
		nullTime(s.ApprovedAt),
		s.RejectedBy,
		nullTime(s.RejectedAt),
		s.RejectionReason,
	}
}

type settlementScanner struct {
	s          entity.Settlement
	approvedAt sql.NullTime
	rejectedAt sql.NullTime
}

func (sc *settlementScanner) dest() []interface{} {
	return append(headerDest(&sc.s.DocumentHeader),
		&sc.s.CashAdvanceCode,
		&sc.s.RemainingAmount,
		&sc.s.RefundProofPath,
		&sc.s.Notes,
		&sc.s.ApprovedBy,
		&sc.approvedAt,
		&sc.s.RejectedBy,
		&sc.rejectedAt,
		&sc.s.RejectionReason,
	)
}

func (sc *settlementScanner) result() *entity.Settlement {
	s := sc.s
	s.ApprovedAt = timePtr(sc.approvedAt)
	s.RejectedAt = timePtr(sc.rejectedAt)
	return &s
}

// Create inserts a new settlement
func (r *SettlementRepository) Create(ctx context.Context, s *entity.Settlement) error {
	if err := insertDocument(ctx, r.db, "settlements", &s.DocumentHeader, settlementFields, settlementValues(s)...); err != nil {
		r.logger.Error("Failed to create settlement", zap.String("code", s.Code), zap.Error(err))
		return err
	}
	return nil
}

// Load retrieves a settlement by code
func (r *SettlementRepository) Load(ctx context.Context, code string, forUpdate bool) (*entity.Settlement, error) {
	var sc settlementScanner
	err := r.db.QueryRow(ctx, loadQuery(r.db, "settlements", settlementColumns, forUpdate), code).Scan(sc.dest()...)
	if err != nil {
		return nil, notFoundOr(ctx, err, "settlement", code)
	}
	return sc.result(), nil
}

// Update persists a settlement with a version check
func (r *SettlementRepository) Update(ctx context.Context, s *entity.Settlement) error {
	return updateDocument(ctx, r.db, "settlements", &s.DocumentHeader, settlementFields, settlementValues(s)...)
}

// List retrieves settlements with pagination
func (r *SettlementRepository) List(ctx context.Context, filter port.ListFilter) ([]*entity.Settlement, int, error) {
	page, count, args := listQuery("settlements", settlementColumns, filter)

	total, err := countRows(ctx, r.db, count, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, page, args...)
	if err != nil {
		r.logger.Error("Failed to list settlements", zap.Error(err))
		return nil, 0, sqldb.Classify(ctx, err, "failed to list settlements")
	}
	defer rows.Close()

	var out []*entity.Settlement
	for rows.Next() {
		var sc settlementScanner
		if err := rows.Scan(sc.dest()...); err != nil {
			return nil, 0, sqldb.Classify(ctx, err, "failed to scan settlement")
		}
		out = append(out, sc.result())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, sqldb.Classify(ctx, err, "failed to iterate settlements")
	}

	return out, total, nil
}

// FindOpen returns the submitted settlement of a cash advance, or nil when none is open
func (r *SettlementRepository) FindOpen(ctx context.Context, cashAdvanceCode string, forUpdate bool) (*entity.Settlement, error) {
	query := "SELECT " + headerColumns + ", " + settlementColumns + `
		FROM settlements
		WHERE cash_advance_code = ? AND status = ? AND is_deleted = ?
		ORDER BY id DESC
		LIMIT 1` + r.db.ForUpdate(forUpdate)

	var sc settlementScanner
	err := r.db.QueryRow(ctx, query, cashAdvanceCode, "submitted", false).Scan(sc.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to find open settlement of %s", cashAdvanceCode)
	}
	return sc.result(), nil
}

// Verify interface compliance
var _ port.SettlementRepository = (*SettlementRepository)(nil)
