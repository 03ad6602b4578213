package repository

import (
	"context"
	"database/sql"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"go.uber.org/zap"
)

const salesOrderColumns = `customer_name, total_amount, invoicing_at`

var salesOrderFields = []string{"customer_name", "total_amount", "invoicing_at"}

// SalesOrderRepository implements port.SalesOrderRepository
type SalesOrderRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewSalesOrderRepository creates a new sales order repository
func NewSalesOrderRepository(db *sqldb.DB, logger *zap.Logger) port.SalesOrderRepository {
	return &SalesOrderRepository{
		db:     db,
		logger: logger,
	}
}

type salesOrderScanner struct {
	so          entity.SalesOrder
	invoicingAt sql.NullTime
}

func (s *salesOrderScanner) dest() []interface{} {
	return append(headerDest(&s.so.DocumentHeader),
		&s.so.CustomerName,
		&s.so.TotalAmount,
		&s.invoicingAt,
	)
}

func (s *salesOrderScanner) result() *entity.SalesOrder {
	so := s.so
	so.InvoicingAt = timePtr(s.invoicingAt)
	return &so
}

// Create inserts a new sales order
func (r *SalesOrderRepository) Create(ctx context.Context, so *entity.SalesOrder) error {
	err := insertDocument(ctx, r.db, "sales_orders", &so.DocumentHeader, salesOrderFields,
		so.CustomerName, so.TotalAmount, nullTime(so.InvoicingAt))
	if err != nil {
		r.logger.Error("Failed to create sales order", zap.String("code", so.Code), zap.Error(err))
		return err
	}
	return nil
}

// Load retrieves a sales order by code
func (r *SalesOrderRepository) Load(ctx context.Context, code string, forUpdate bool) (*entity.SalesOrder, error) {
	var s salesOrderScanner
	err := r.db.QueryRow(ctx, loadQuery(r.db, "sales_orders", salesOrderColumns, forUpdate), code).Scan(s.dest()...)
	if err != nil {
		return nil, notFoundOr(ctx, err, "sales order", code)
	}
	return s.result(), nil
}

// Update persists a sales order with a version check
func (r *SalesOrderRepository) Update(ctx context.Context, so *entity.SalesOrder) error {
	return updateDocument(ctx, r.db, "sales_orders", &so.DocumentHeader, salesOrderFields,
		so.CustomerName, so.TotalAmount, nullTime(so.InvoicingAt))
}

// List retrieves sales orders with pagination
func (r *SalesOrderRepository) List(ctx context.Context, filter port.ListFilter) ([]*entity.SalesOrder, int, error) {
	page, count, args := listQuery("sales_orders", salesOrderColumns, filter)

	total, err := countRows(ctx, r.db, count, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, page, args...)
	if err != nil {
		r.logger.Error("Failed to list sales orders", zap.Error(err))
		return nil, 0, sqldb.Classify(ctx, err, "failed to list sales orders")
	}
	defer rows.Close()

	var out []*entity.SalesOrder
	for rows.Next() {
		var s salesOrderScanner
		if err := rows.Scan(s.dest()...); err != nil {
			return nil, 0, sqldb.Classify(ctx, err, "failed to scan sales order")
		}
		out = append(out, s.result())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, sqldb.Classify(ctx, err, "failed to iterate sales orders")
	}

	return out, total, nil
}

// Verify interface compliance
var _ port.SalesOrderRepository = (*SalesOrderRepository)(nil)
