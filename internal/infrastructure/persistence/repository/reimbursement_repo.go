package repository

import (
	"context"
	"database/sql"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const reimbursementColumns = `title, total_amount, bank_account_code,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason`

var reimbursementFields = []string{
	"title", "total_amount", "bank_account_code",
	"approved_by", "approved_at", "rejected_by", "rejected_at", "rejection_reason",
}

// ReimbursementRepository implements port.ReimbursementRepository
type ReimbursementRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewReimbursementRepository creates a new reimbursement repository
func NewReimbursementRepository(db *sqldb.DB, logger *zap.Logger) port.ReimbursementRepository {
	return &ReimbursementRepository{
		db:     db,
		logger: logger,
	}
}

func reimbursementValues(rb *entity.Reimbursement) []interface{} {
	return []interface{}{
		rb.Title,
		rb.TotalAmount,
		rb.BankAccountCode,
		rb.ApprovedBy,
		nullTime(rb.ApprovedAt),
		rb.RejectedBy,
		nullTime(rb.RejectedAt),
		rb.RejectionReason,
	}
}

type reimbursementScanner struct {
	rb         entity.Reimbursement
	approvedAt sql.NullTime
	rejectedAt sql.NullTime
}

func (s *reimbursementScanner) dest() []interface{} {
	return append(headerDest(&s.rb.DocumentHeader),
		&s.rb.Title,
		&s.rb.TotalAmount,
		&s.rb.BankAccountCode,
		&s.rb.ApprovedBy,
		&s.approvedAt,
		&s.rb.RejectedBy,
		&s.rejectedAt,
		&s.rb.RejectionReason,
	)
}

func (s *reimbursementScanner) result() *entity.Reimbursement {
	rb := s.rb
	rb.ApprovedAt = timePtr(s.approvedAt)
	rb.RejectedAt = timePtr(s.rejectedAt)
	return &rb
}

// Create inserts a reimbursement together with its items
func (r *ReimbursementRepository) Create(ctx context.Context, rb *entity.Reimbursement) error {
	if err := insertDocument(ctx, r.db, "reimbursements", &rb.DocumentHeader, reimbursementFields, reimbursementValues(rb)...); err != nil {
		r.logger.Error("Failed to create reimbursement", zap.String("code", rb.Code), zap.Error(err))
		return err
	}

	query := `
		INSERT INTO reimbursement_items (
			reimbursement_code, description, amount, category_code, expense_date
		) VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	for _, item := range rb.Items {
		item.ReimbursementCode = rb.Code
		err := r.db.QueryRow(ctx, query,
			item.ReimbursementCode,
			item.Description,
			item.Amount,
			item.CategoryCode,
			item.ExpenseDate,
		).Scan(&item.ID)
		if err != nil {
			return sqldb.Classify(ctx, err, "failed to insert item of %s", rb.Code)
		}
	}

	return nil
}

// Load retrieves a reimbursement by code
func (r *ReimbursementRepository) Load(ctx context.Context, code string, forUpdate bool) (*entity.Reimbursement, error) {
	var s reimbursementScanner
	err := r.db.QueryRow(ctx, loadQuery(r.db, "reimbursements", reimbursementColumns, forUpdate), code).Scan(s.dest()...)
	if err != nil {
		return nil, notFoundOr(ctx, err, "reimbursement", code)
	}
	return s.result(), nil
}

// Update persists a reimbursement with a version check
func (r *ReimbursementRepository) Update(ctx context.Context, rb *entity.Reimbursement) error {
	return updateDocument(ctx, r.db, "reimbursements", &rb.DocumentHeader, reimbursementFields, reimbursementValues(rb)...)
}

// List retrieves reimbursements with pagination
func (r *ReimbursementRepository) List(ctx context.Context, filter port.ListFilter) ([]*entity.Reimbursement, int, error) {
	page, count, args := listQuery("reimbursements", reimbursementColumns, filter)

	total, err := countRows(ctx, r.db, count, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, page, args...)
	if err != nil {
		r.logger.Error("Failed to list reimbursements", zap.Error(err))
		return nil, 0, sqldb.Classify(ctx, err, "failed to list reimbursements")
	}
	defer rows.Close()

	var out []*entity.Reimbursement
	for rows.Next() {
		var s reimbursementScanner
		if err := rows.Scan(s.dest()...); err != nil {
			return nil, 0, sqldb.Classify(ctx, err, "failed to scan reimbursement")
		}
		out = append(out, s.result())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, sqldb.Classify(ctx, err, "failed to iterate reimbursements")
	}

	return out, total, nil
}

// ListItems retrieves the expense lines of a reimbursement
func (r *ReimbursementRepository) ListItems(ctx context.Context, code string) ([]*entity.ReimbursementItem, error) {
	query := `
		SELECT id, reimbursement_code, description, amount, category_code, expense_date
		FROM reimbursement_items
		WHERE reimbursement_code = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, code)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list items of %s", code)
	}
	defer rows.Close()

	var out []*entity.ReimbursementItem
	for rows.Next() {
		var item entity.ReimbursementItem
		if err := rows.Scan(
			&item.ID,
			&item.ReimbursementCode,
			&item.Description,
			&item.Amount,
			&item.CategoryCode,
			&item.ExpenseDate,
		); err != nil {
			return nil, sqldb.Classify(ctx, err, "failed to scan item")
		}
		out = append(out, &item)
	}

	return out, sqldb.Classify(ctx, rows.Err(), "failed to iterate items")
}

// Verify interface compliance
var _ port.ReimbursementRepository = (*ReimbursementRepository)(nil)
