package repository

import (
	"context"
	"database/sql"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cashAdvanceColumns = `purpose, total_amount, used_amount, remaining_amount,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason`

var cashAdvanceFields = []string{
	"purpose", "total_amount", "used_amount", "remaining_amount",
	"approved_by", "approved_at", "rejected_by", "rejected_at", "rejection_reason",
}

// CashAdvanceRepository implements port.CashAdvanceRepository
type CashAdvanceRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewCashAdvanceRepository creates a new cash advance repository
func NewCashAdvanceRepository(db *sqldb.DB, logger *zap.Logger) port.CashAdvanceRepository {
	return &CashAdvanceRepository{
		db:     db,
		logger: logger,
	}
}

func cashAdvanceValues(ca *entity.CashAdvance) []interface{} {
	return []interface{}{
		ca.Purpose,
		ca.TotalAmount,
		ca.UsedAmount,
		ca.RemainingAmount,
		ca.ApprovedBy,
		nullTime(ca.ApprovedAt),
		ca.RejectedBy,
		nullTime(ca.RejectedAt),
		ca.RejectionReason,
	}
}

// Create inserts a new cash advance
func (r *CashAdvanceRepository) Create(ctx context.Context, ca *entity.CashAdvance) error {
	if err := insertDocument(ctx, r.db, "cash_advances", &ca.DocumentHeader, cashAdvanceFields, cashAdvanceValues(ca)...); err != nil {
		r.logger.Error("Failed to create cash advance", zap.String("code", ca.Code), zap.Error(err))
		return err
	}
	return nil
}

type cashAdvanceScanner struct {
	ca         entity.CashAdvance
	approvedAt sql.NullTime
	rejectedAt sql.NullTime
}

func (s *cashAdvanceScanner) dest() []interface{} {
	return append(headerDest(&s.ca.DocumentHeader),
		&s.ca.Purpose,
		&s.ca.TotalAmount,
		&s.ca.UsedAmount,
		&s.ca.RemainingAmount,
		&s.ca.ApprovedBy,
		&s.approvedAt,
		&s.ca.RejectedBy,
		&s.rejectedAt,
		&s.ca.RejectionReason,
	)
}

func (s *cashAdvanceScanner) result() *entity.CashAdvance {
	ca := s.ca
	ca.ApprovedAt = timePtr(s.approvedAt)
	ca.RejectedAt = timePtr(s.rejectedAt)
	return &ca
}

// Load retrieves a cash advance by code
func (r *CashAdvanceRepository) Load(ctx context.Context, code string, forUpdate bool) (*entity.CashAdvance, error) {
	var s cashAdvanceScanner
	err := r.db.QueryRow(ctx, loadQuery(r.db, "cash_advances", cashAdvanceColumns, forUpdate), code).Scan(s.dest()...)
	if err != nil {
		return nil, notFoundOr(ctx, err, "cash advance", code)
	}
	return s.result(), nil
}

// Update persists status, balances and decision fields with a version check
func (r *CashAdvanceRepository) Update(ctx context.Context, ca *entity.CashAdvance) error {
	return updateDocument(ctx, r.db, "cash_advances", &ca.DocumentHeader, cashAdvanceFields, cashAdvanceValues(ca)...)
}

// List retrieves cash advances with pagination
func (r *CashAdvanceRepository) List(ctx context.Context, filter port.ListFilter) ([]*entity.CashAdvance, int, error) {
	page, count, args := listQuery("cash_advances", cashAdvanceColumns, filter)

	total, err := countRows(ctx, r.db, count, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, page, args...)
	if err != nil {
		r.logger.Error("Failed to list cash advances", zap.Error(err))
		return nil, 0, sqldb.Classify(ctx, err, "failed to list cash advances")
	}
	defer rows.Close()

	var out []*entity.CashAdvance
	for rows.Next() {
		var s cashAdvanceScanner
		if err := rows.Scan(s.dest()...); err != nil {
			return nil, 0, sqldb.Classify(ctx, err, "failed to scan cash advance")
		}
		out = append(out, s.result())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, sqldb.Classify(ctx, err, "failed to iterate cash advances")
	}

	return out, total, nil
}

// AddTransaction inserts a transaction row against a cash advance
func (r *CashAdvanceRepository) AddTransaction(ctx context.Context, txn *entity.CashAdvanceTransaction) error {
	query := `
		INSERT INTO cash_advance_transactions (
			cash_advance_code, amount, description, category_code,
			transaction_date, receipt_path, is_deleted, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		txn.CashAdvanceCode,
		txn.Amount,
		txn.Description,
		txn.CategoryCode,
		txn.TransactionDate,
		txn.ReceiptPath,
		txn.IsDeleted,
		txn.CreatedBy,
		txn.CreatedAt,
	).Scan(&txn.ID)
	if err != nil {
		r.logger.Error("Failed to add cash advance transaction",
			zap.String("cash_advance_code", txn.CashAdvanceCode), zap.Error(err))
		return sqldb.Classify(ctx, err, "failed to add transaction to %s", txn.CashAdvanceCode)
	}

	return nil
}

// ListTransactions retrieves the non-deleted transactions of a cash advance
func (r *CashAdvanceRepository) ListTransactions(ctx context.Context, code string) ([]*entity.CashAdvanceTransaction, error) {
	query := `
		SELECT id, cash_advance_code, amount, description, category_code,
			transaction_date, receipt_path, is_deleted, created_by, created_at
		FROM cash_advance_transactions
		WHERE cash_advance_code = ? AND is_deleted = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, code, false)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list transactions of %s", code)
	}
	defer rows.Close()

	var out []*entity.CashAdvanceTransaction
	for rows.Next() {
		var t entity.CashAdvanceTransaction
		if err := rows.Scan(
			&t.ID,
			&t.CashAdvanceCode,
			&t.Amount,
			&t.Description,
			&t.CategoryCode,
			&t.TransactionDate,
			&t.ReceiptPath,
			&t.IsDeleted,
			&t.CreatedBy,
			&t.CreatedAt,
		); err != nil {
			return nil, sqldb.Classify(ctx, err, "failed to scan transaction")
		}
		out = append(out, &t)
	}

	return out, sqldb.Classify(ctx, rows.Err(), "failed to iterate transactions")
}

// SumTransactions adds up the non-deleted transaction amounts. The sum is
// computed in decimal rather than SQL so TEXT-stored amounts stay exact.
func (r *CashAdvanceRepository) SumTransactions(ctx context.Context, code string) (decimal.Decimal, error) {
	rows, err := r.db.Query(ctx,
		`SELECT amount FROM cash_advance_transactions WHERE cash_advance_code = ? AND is_deleted = ?`,
		code, false)
	if err != nil {
		return decimal.Zero, sqldb.Classify(ctx, err, "failed to sum transactions of %s", code)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, sqldb.Classify(ctx, err, "failed to scan amount")
		}
		sum = sum.Add(amount)
	}

	return sum, sqldb.Classify(ctx, rows.Err(), "failed to iterate amounts")
}

// Verify interface compliance
var _ port.CashAdvanceRepository = (*CashAdvanceRepository)(nil)
