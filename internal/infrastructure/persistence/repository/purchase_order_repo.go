package repository

import (
	"context"
	"database/sql"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const purchaseOrderColumns = `sales_order_code, supplier_name, total_amount, delivery_status,
	manager_approved_by, manager_approved_at, finance_approved_by, finance_approved_at,
	rejected_by, rejected_at, rejection_reason`

var purchaseOrderFields = []string{
	"sales_order_code", "supplier_name", "total_amount", "delivery_status",
	"manager_approved_by", "manager_approved_at", "finance_approved_by", "finance_approved_at",
	"rejected_by", "rejected_at", "rejection_reason",
}

// PurchaseOrderRepository implements port.PurchaseOrderRepository
type PurchaseOrderRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewPurchaseOrderRepository creates a new purchase order repository
func NewPurchaseOrderRepository(db *sqldb.DB, logger *zap.Logger) port.PurchaseOrderRepository {
	return &PurchaseOrderRepository{
		db:     db,
		logger: logger,
	}
}

func purchaseOrderValues(po *entity.PurchaseOrder) []interface{} {
	return []interface{}{
		po.SalesOrderCode,
		po.SupplierName,
		po.TotalAmount,
		po.DeliveryStatus,
		po.ManagerApprovedBy,
		nullTime(po.ManagerApprovedAt),
		po.FinanceApprovedBy,
		nullTime(po.FinanceApprovedAt),
		po.RejectedBy,
		nullTime(po.RejectedAt),
		po.RejectionReason,
	}
}

type purchaseOrderScanner struct {
	po                entity.PurchaseOrder
	managerApprovedAt sql.NullTime
	financeApprovedAt sql.NullTime
	rejectedAt        sql.NullTime
}

func (s *purchaseOrderScanner) dest() []interface{} {
	return append(headerDest(&s.po.DocumentHeader),
		&s.po.SalesOrderCode,
		&s.po.SupplierName,
		&s.po.TotalAmount,
		&s.po.DeliveryStatus,
		&s.po.ManagerApprovedBy,
		&s.managerApprovedAt,
		&s.po.FinanceApprovedBy,
		&s.financeApprovedAt,
		&s.po.RejectedBy,
		&s.rejectedAt,
		&s.po.RejectionReason,
	)
}

func (s *purchaseOrderScanner) result() *entity.PurchaseOrder {
	po := s.po
	po.ManagerApprovedAt = timePtr(s.managerApprovedAt)
	po.FinanceApprovedAt = timePtr(s.financeApprovedAt)
	po.RejectedAt = timePtr(s.rejectedAt)
	return &po
}

// Create inserts a purchase order together with its items
func (r *PurchaseOrderRepository) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	if po.DeliveryStatus == "" {
		po.DeliveryStatus = entity.DeliveryStatusPending
	}
	if err := insertDocument(ctx, r.db, "purchase_orders", &po.DocumentHeader, purchaseOrderFields, purchaseOrderValues(po)...); err != nil {
		r.logger.Error("Failed to create purchase order", zap.String("code", po.Code), zap.Error(err))
		return err
	}

	query := `
		INSERT INTO purchase_order_items (
			purchase_order_code, description, quantity, unit_price, subtotal
		) VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	for _, item := range po.Items {
		item.PurchaseOrderCode = po.Code
		err := r.db.QueryRow(ctx, query,
			item.PurchaseOrderCode,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal,
		).Scan(&item.ID)
		if err != nil {
			return sqldb.Classify(ctx, err, "failed to insert item of %s", po.Code)
		}
	}

	return nil
}

// Load retrieves a purchase order by code
func (r *PurchaseOrderRepository) Load(ctx context.Context, code string, forUpdate bool) (*entity.PurchaseOrder, error) {
	var s purchaseOrderScanner
	err := r.db.QueryRow(ctx, loadQuery(r.db, "purchase_orders", purchaseOrderColumns, forUpdate), code).Scan(s.dest()...)
	if err != nil {
		return nil, notFoundOr(ctx, err, "purchase order", code)
	}
	return s.result(), nil
}

// Update persists a purchase order with a version check
func (r *PurchaseOrderRepository) Update(ctx context.Context, po *entity.PurchaseOrder) error {
	return updateDocument(ctx, r.db, "purchase_orders", &po.DocumentHeader, purchaseOrderFields, purchaseOrderValues(po)...)
}

func (r *PurchaseOrderRepository) scanAll(ctx context.Context, rows *sql.Rows) ([]*entity.PurchaseOrder, error) {
	defer rows.Close()

	var out []*entity.PurchaseOrder
	for rows.Next() {
		var s purchaseOrderScanner
		if err := rows.Scan(s.dest()...); err != nil {
			return nil, sqldb.Classify(ctx, err, "failed to scan purchase order")
		}
		out = append(out, s.result())
	}
	return out, sqldb.Classify(ctx, rows.Err(), "failed to iterate purchase orders")
}

// List retrieves purchase orders with pagination
func (r *PurchaseOrderRepository) List(ctx context.Context, filter port.ListFilter) ([]*entity.PurchaseOrder, int, error) {
	page, count, args := listQuery("purchase_orders", purchaseOrderColumns, filter)

	total, err := countRows(ctx, r.db, count, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, page, args...)
	if err != nil {
		r.logger.Error("Failed to list purchase orders", zap.Error(err))
		return nil, 0, sqldb.Classify(ctx, err, "failed to list purchase orders")
	}

	out, err := r.scanAll(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListBySalesOrder retrieves the non-deleted purchase orders of a sales order
func (r *PurchaseOrderRepository) ListBySalesOrder(ctx context.Context, salesOrderCode string) ([]*entity.PurchaseOrder, error) {
	query := "SELECT " + headerColumns + ", " + purchaseOrderColumns + `
		FROM purchase_orders
		WHERE sales_order_code = ? AND is_deleted = ?
		ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, salesOrderCode, false)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list purchase orders of %s", salesOrderCode)
	}
	return r.scanAll(ctx, rows)
}

// ListItems retrieves the lines of a purchase order
func (r *PurchaseOrderRepository) ListItems(ctx context.Context, code string) ([]*entity.PurchaseOrderItem, error) {
	query := `
		SELECT id, purchase_order_code, description, quantity, unit_price, subtotal
		FROM purchase_order_items
		WHERE purchase_order_code = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, code)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list items of %s", code)
	}
	defer rows.Close()

	var out []*entity.PurchaseOrderItem
	for rows.Next() {
		var item entity.PurchaseOrderItem
		if err := rows.Scan(
			&item.ID,
			&item.PurchaseOrderCode,
			&item.Description,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
		); err != nil {
			return nil, sqldb.Classify(ctx, err, "failed to scan item")
		}
		out = append(out, &item)
	}

	return out, sqldb.Classify(ctx, rows.Err(), "failed to iterate items")
}

// Verify interface compliance
var _ port.PurchaseOrderRepository = (*PurchaseOrderRepository)(nil)
