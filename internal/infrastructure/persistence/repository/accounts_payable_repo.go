package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const accountsPayableColumns = `purchase_order_code, supplier_name, amount, invoice_date, due_date, paid_by, paid_at`

var accountsPayableFields = []string{
	"purchase_order_code", "supplier_name", "amount", "invoice_date", "due_date", "paid_by", "paid_at",
}

// AccountsPayableRepository implements port.AccountsPayableRepository
type AccountsPayableRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewAccountsPayableRepository creates a new accounts payable repository
func NewAccountsPayableRepository(db *sqldb.DB, logger *zap.Logger) port.AccountsPayableRepository {
	return &AccountsPayableRepository{
		db:     db,
		logger: logger,
	}
}

func accountsPayableValues(ap *entity.AccountsPayable) []interface{} {
	return []interface{}{
		ap.PurchaseOrderCode,
		ap.SupplierName,
		ap.Amount,
		ap.InvoiceDate,
		ap.DueDate,
		ap.PaidBy,
		nullTime(ap.PaidAt),
	}
}

type accountsPayableScanner struct {
	ap     entity.AccountsPayable
	paidAt sql.NullTime
}

func (s *accountsPayableScanner) dest() []interface{} {
	return append(headerDest(&s.ap.DocumentHeader),
		&s.ap.PurchaseOrderCode,
		&s.ap.SupplierName,
		&s.ap.Amount,
		&s.ap.InvoiceDate,
		&s.ap.DueDate,
		&s.ap.PaidBy,
		&s.paidAt,
	)
}

func (s *accountsPayableScanner) result() *entity.AccountsPayable {
	ap := s.ap
	ap.PaidAt = timePtr(s.paidAt)
	return &ap
}

// Create inserts a new supplier invoice
func (r *AccountsPayableRepository) Create(ctx context.Context, ap *entity.AccountsPayable) error {
	if err := insertDocument(ctx, r.db, "accounts_payables", &ap.DocumentHeader, accountsPayableFields, accountsPayableValues(ap)...); err != nil {
		r.logger.Error("Failed to create accounts payable", zap.String("code", ap.Code), zap.Error(err))
		return err
	}
	return nil
}

// Load retrieves a supplier invoice by code
func (r *AccountsPayableRepository) Load(ctx context.Context, code string, forUpdate bool) (*entity.AccountsPayable, error) {
	var s accountsPayableScanner
	err := r.db.QueryRow(ctx, loadQuery(r.db, "accounts_payables", accountsPayableColumns, forUpdate), code).Scan(s.dest()...)
	if err != nil {
		return nil, notFoundOr(ctx, err, "accounts payable", code)
	}
	return s.result(), nil
}

// Update persists a supplier invoice with a version check
func (r *AccountsPayableRepository) Update(ctx context.Context, ap *entity.AccountsPayable) error {
	return updateDocument(ctx, r.db, "accounts_payables", &ap.DocumentHeader, accountsPayableFields, accountsPayableValues(ap)...)
}

func (r *AccountsPayableRepository) scanAll(ctx context.Context, rows *sql.Rows) ([]*entity.AccountsPayable, error) {
	defer rows.Close()

	var out []*entity.AccountsPayable
	for rows.Next() {
		var s accountsPayableScanner
		if err := rows.Scan(s.dest()...); err != nil {
			return nil, sqldb.Classify(ctx, err, "failed to scan accounts payable")
		}
		out = append(out, s.result())
	}
	return out, sqldb.Classify(ctx, rows.Err(), "failed to iterate accounts payables")
}

// List retrieves supplier invoices with pagination
func (r *AccountsPayableRepository) List(ctx context.Context, filter port.ListFilter) ([]*entity.AccountsPayable, int, error) {
	page, count, args := listQuery("accounts_payables", accountsPayableColumns, filter)

	total, err := countRows(ctx, r.db, count, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, page, args...)
	if err != nil {
		r.logger.Error("Failed to list accounts payables", zap.Error(err))
		return nil, 0, sqldb.Classify(ctx, err, "failed to list accounts payables")
	}

	out, err := r.scanAll(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListByPurchaseOrder retrieves the supplier invoices raised for a purchase order
func (r *AccountsPayableRepository) ListByPurchaseOrder(ctx context.Context, purchaseOrderCode string) ([]*entity.AccountsPayable, error) {
	query := "SELECT " + headerColumns + ", " + accountsPayableColumns + `
		FROM accounts_payables
		WHERE purchase_order_code = ? AND is_deleted = ?
		ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, purchaseOrderCode, false)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list invoices of %s", purchaseOrderCode)
	}
	return r.scanAll(ctx, rows)
}

// ListDueBefore retrieves unpaid invoices whose due date has passed t
func (r *AccountsPayableRepository) ListDueBefore(ctx context.Context, t time.Time, limit int) ([]*entity.AccountsPayable, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + headerColumns + ", " + accountsPayableColumns + `
		FROM accounts_payables
		WHERE status = ? AND is_deleted = ? AND due_date < ?
		ORDER BY due_date ASC
		LIMIT ?`

	rows, err := r.db.Query(ctx, query, "unpaid", false, t, limit)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list overdue invoices")
	}
	return r.scanAll(ctx, rows)
}

// Verify interface compliance
var _ port.AccountsPayableRepository = (*AccountsPayableRepository)(nil)
