package repository

import (
	"context"
	"database/sql"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const deliveryOrderColumns = `sales_order_code, delivered_by, delivered_at`

var deliveryOrderFields = []string{"sales_order_code", "delivered_by", "delivered_at"}

// DeliveryOrderRepository implements port.DeliveryOrderRepository
type DeliveryOrderRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewDeliveryOrderRepository creates a new delivery order repository
func NewDeliveryOrderRepository(db *sqldb.DB, logger *zap.Logger) port.DeliveryOrderRepository {
	return &DeliveryOrderRepository{
		db:     db,
		logger: logger,
	}
}

type deliveryOrderScanner struct {
	do          entity.DeliveryOrder
	deliveredAt sql.NullTime
}

func (s *deliveryOrderScanner) dest() []interface{} {
	return append(headerDest(&s.do.DocumentHeader),
		&s.do.SalesOrderCode,
		&s.do.DeliveredBy,
		&s.deliveredAt,
	)
}

func (s *deliveryOrderScanner) result() *entity.DeliveryOrder {
	do := s.do
	do.DeliveredAt = timePtr(s.deliveredAt)
	return &do
}

// Create inserts a delivery order and its purchase order references
func (r *DeliveryOrderRepository) Create(ctx context.Context, do *entity.DeliveryOrder) error {
	err := insertDocument(ctx, r.db, "delivery_orders", &do.DocumentHeader, deliveryOrderFields,
		do.SalesOrderCode, do.DeliveredBy, nullTime(do.DeliveredAt))
	if err != nil {
		r.logger.Error("Failed to create delivery order", zap.String("code", do.Code), zap.Error(err))
		return err
	}

	for _, poCode := range do.PurchaseOrderCodes {
		_, err := r.db.Exec(ctx,
			`INSERT INTO delivery_order_lines (delivery_order_code, purchase_order_code) VALUES (?, ?)`,
			do.Code, poCode)
		if err != nil {
			return sqldb.Classify(ctx, err, "failed to link %s to %s", poCode, do.Code)
		}
	}

	return nil
}

func (r *DeliveryOrderRepository) loadLines(ctx context.Context, do *entity.DeliveryOrder) error {
	rows, err := r.db.Query(ctx,
		`SELECT purchase_order_code FROM delivery_order_lines WHERE delivery_order_code = ? ORDER BY purchase_order_code`,
		do.Code)
	if err != nil {
		return sqldb.Classify(ctx, err, "failed to load lines of %s", do.Code)
	}
	defer rows.Close()

	do.PurchaseOrderCodes = nil
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return sqldb.Classify(ctx, err, "failed to scan line")
		}
		do.PurchaseOrderCodes = append(do.PurchaseOrderCodes, code)
	}
	return sqldb.Classify(ctx, rows.Err(), "failed to iterate lines")
}

// Load retrieves a delivery order by code
func (r *DeliveryOrderRepository) Load(ctx context.Context, code string, forUpdate bool) (*entity.DeliveryOrder, error) {
	var s deliveryOrderScanner
	err := r.db.QueryRow(ctx, loadQuery(r.db, "delivery_orders", deliveryOrderColumns, forUpdate), code).Scan(s.dest()...)
	if err != nil {
		return nil, notFoundOr(ctx, err, "delivery order", code)
	}

	do := s.result()
	if err := r.loadLines(ctx, do); err != nil {
		return nil, err
	}
	return do, nil
}

// Update persists a delivery order with a version check. The purchase order
// references are fixed at creation.
func (r *DeliveryOrderRepository) Update(ctx context.Context, do *entity.DeliveryOrder) error {
	return updateDocument(ctx, r.db, "delivery_orders", &do.DocumentHeader, deliveryOrderFields,
		do.SalesOrderCode, do.DeliveredBy, nullTime(do.DeliveredAt))
}

func (r *DeliveryOrderRepository) scanAll(ctx context.Context, rows *sql.Rows) ([]*entity.DeliveryOrder, error) {
	var out []*entity.DeliveryOrder
	for rows.Next() {
		var s deliveryOrderScanner
		if err := rows.Scan(s.dest()...); err != nil {
			rows.Close()
			return nil, sqldb.Classify(ctx, err, "failed to scan delivery order")
		}
		out = append(out, s.result())
	}
	err := rows.Err()
	rows.Close()
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to iterate delivery orders")
	}

	// lines are read after the cursor is closed; a transaction holds one connection
	for _, do := range out {
		if err := r.loadLines(ctx, do); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// List retrieves delivery orders with pagination
func (r *DeliveryOrderRepository) List(ctx context.Context, filter port.ListFilter) ([]*entity.DeliveryOrder, int, error) {
	page, count, args := listQuery("delivery_orders", deliveryOrderColumns, filter)

	total, err := countRows(ctx, r.db, count, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, page, args...)
	if err != nil {
		r.logger.Error("Failed to list delivery orders", zap.Error(err))
		return nil, 0, sqldb.Classify(ctx, err, "failed to list delivery orders")
	}

	out, err := r.scanAll(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListByPurchaseOrder retrieves the non-deleted delivery orders referencing a purchase order
func (r *DeliveryOrderRepository) ListByPurchaseOrder(ctx context.Context, purchaseOrderCode string) ([]*entity.DeliveryOrder, error) {
	query := `
		SELECT d.id, d.code, d.status, d.version, d.is_deleted, d.created_by, d.created_by_name,
			d.created_at, d.updated_at, d.sales_order_code, d.delivered_by, d.delivered_at
		FROM delivery_orders d
		JOIN delivery_order_lines l ON l.delivery_order_code = d.code
		WHERE l.purchase_order_code = ? AND d.is_deleted = ?
		ORDER BY d.id ASC
	`

	rows, err := r.db.Query(ctx, query, purchaseOrderCode, false)
	if err != nil {
		return nil, sqldb.Classify(ctx, err, "failed to list delivery orders of %s", purchaseOrderCode)
	}
	return r.scanAll(ctx, rows)
}

// Verify interface compliance
var _ port.DeliveryOrderRepository = (*DeliveryOrderRepository)(nil)
