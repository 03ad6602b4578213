package port

import (
	"context"
	"time"

	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// ListFilter narrows a document listing
type ListFilter struct {
	Status         string
	CreatedBy      string
	IncludeDeleted bool
	Limit          int
	Offset         int

	// Undispatched keeps only documents without a ledger entry for the effect
	Undispatched *DispatchRef
}

// DispatchRef names a critical side effect of a document type
type DispatchRef struct {
	DocumentType string
	Effect       string
}

// Load returns errs.ErrNotFound when the code does not resolve. forUpdate
// takes a row lock for the rest of the enclosing transaction.
// Update is a compare-and-swap on Version: it fails with errs.ErrConflict when
// the stored version moved, and bumps the document's Version on success.

// CashAdvanceRepository defines persistence operations for CashAdvance
type CashAdvanceRepository interface {
	Create(ctx context.Context, ca *entity.CashAdvance) error
	Load(ctx context.Context, code string, forUpdate bool) (*entity.CashAdvance, error)
	Update(ctx context.Context, ca *entity.CashAdvance) error
	List(ctx context.Context, filter ListFilter) ([]*entity.CashAdvance, int, error)
	AddTransaction(ctx context.Context, txn *entity.CashAdvanceTransaction) error
	ListTransactions(ctx context.Context, code string) ([]*entity.CashAdvanceTransaction, error)
	SumTransactions(ctx context.Context, code string) (decimal.Decimal, error)
}

// SettlementRepository defines persistence operations for Settlement
type SettlementRepository interface {
	Create(ctx context.Context, s *entity.Settlement) error
	Load(ctx context.Context, code string, forUpdate bool) (*entity.Settlement, error)
	Update(ctx context.Context, s *entity.Settlement) error
	List(ctx context.Context, filter ListFilter) ([]*entity.Settlement, int, error)
	// FindOpen returns the submitted, non-deleted settlement of a cash advance, or nil
	FindOpen(ctx context.Context, cashAdvanceCode string, forUpdate bool) (*entity.Settlement, error)
}

// ReimbursementRepository defines persistence operations for Reimbursement
type ReimbursementRepository interface {
	Create(ctx context.Context, r *entity.Reimbursement) error
	Load(ctx context.Context, code string, forUpdate bool) (*entity.Reimbursement, error)
	Update(ctx context.Context, r *entity.Reimbursement) error
	List(ctx context.Context, filter ListFilter) ([]*entity.Reimbursement, int, error)
	ListItems(ctx context.Context, code string) ([]*entity.ReimbursementItem, error)
}

// SalesOrderRepository defines persistence operations for SalesOrder
type SalesOrderRepository interface {
	Create(ctx context.Context, so *entity.SalesOrder) error
	Load(ctx context.Context, code string, forUpdate bool) (*entity.SalesOrder, error)
	Update(ctx context.Context, so *entity.SalesOrder) error
	List(ctx context.Context, filter ListFilter) ([]*entity.SalesOrder, int, error)
}

// PurchaseOrderRepository defines persistence operations for PurchaseOrder
type PurchaseOrderRepository interface {
	Create(ctx context.Context, po *entity.PurchaseOrder) error
	Load(ctx context.Context, code string, forUpdate bool) (*entity.PurchaseOrder, error)
	Update(ctx context.Context, po *entity.PurchaseOrder) error
	List(ctx context.Context, filter ListFilter) ([]*entity.PurchaseOrder, int, error)
	ListItems(ctx context.Context, code string) ([]*entity.PurchaseOrderItem, error)
	// ListBySalesOrder returns the non-deleted purchase orders of a sales order
	ListBySalesOrder(ctx context.Context, salesOrderCode string) ([]*entity.PurchaseOrder, error)
}

// DeliveryOrderRepository defines persistence operations for DeliveryOrder
type DeliveryOrderRepository interface {
	Create(ctx context.Context, do *entity.DeliveryOrder) error
	Load(ctx context.Context, code string, forUpdate bool) (*entity.DeliveryOrder, error)
	Update(ctx context.Context, do *entity.DeliveryOrder) error
	List(ctx context.Context, filter ListFilter) ([]*entity.DeliveryOrder, int, error)
	// ListByPurchaseOrder returns the non-deleted delivery orders referencing a purchase order
	ListByPurchaseOrder(ctx context.Context, purchaseOrderCode string) ([]*entity.DeliveryOrder, error)
}

// AccountsPayableRepository defines persistence operations for AccountsPayable
type AccountsPayableRepository interface {
	Create(ctx context.Context, ap *entity.AccountsPayable) error
	Load(ctx context.Context, code string, forUpdate bool) (*entity.AccountsPayable, error)
	Update(ctx context.Context, ap *entity.AccountsPayable) error
	List(ctx context.Context, filter ListFilter) ([]*entity.AccountsPayable, int, error)
	ListByPurchaseOrder(ctx context.Context, purchaseOrderCode string) ([]*entity.AccountsPayable, error)
	// ListDueBefore returns unpaid invoices whose due date is before t
	ListDueBefore(ctx context.Context, t time.Time, limit int) ([]*entity.AccountsPayable, error)
}

// SequenceRepository allocates per-prefix, per-year counters atomically
type SequenceRepository interface {
	Next(ctx context.Context, prefix string, year int) (int64, error)
}

// DispatchLedger records critical side effects already applied
type DispatchLedger interface {
	// Claim inserts the ledger row; false means another dispatch already holds it
	Claim(ctx context.Context, documentType, documentCode, effect string, at time.Time) (bool, error)
	Has(ctx context.Context, documentType, documentCode, effect string) (bool, error)
	ListByDocument(ctx context.Context, documentType, documentCode string) ([]*entity.DispatchRecord, error)
}

// AuditRepository is append-only: there is no update or delete
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	ListByResource(ctx context.Context, resourceType, resourceCode string) ([]*entity.AuditEntry, error)
}

// IdempotencyRepository remembers which document a create request produced
type IdempotencyRepository interface {
	// Lookup returns the code stored for key, or "" when unseen
	Lookup(ctx context.Context, key string) (documentType, documentCode string, err error)
	Save(ctx context.Context, key, documentType, documentCode string, at time.Time) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
