package workflow

import (
	"context"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

func (e *Engine) salesOrderKind() *kind {
	repo := e.repos.SalesOrders
	return &kind{
		docType: entity.TypeSalesOrder,
		table:   domainwf.SalesOrderTable(),
		initial: domainwf.StateOpen,
		load: func(ctx context.Context, code string, forUpdate bool) (entity.Document, error) {
			return repo.Load(ctx, code, forUpdate)
		},
		update: func(ctx context.Context, doc entity.Document) error {
			return repo.Update(ctx, doc.(*entity.SalesOrder))
		},
		list: func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error) {
			items, total, err := repo.List(ctx, filter)
			return documents(items), total, err
		},
		insert: func(ctx context.Context, doc entity.Document) error {
			return repo.Create(ctx, doc.(*entity.SalesOrder))
		},
		build: e.buildSalesOrder,
		expand: func(ctx context.Context, doc entity.Document) error {
			so := doc.(*entity.SalesOrder)
			pos, err := e.repos.PurchaseOrders.ListBySalesOrder(ctx, so.Code)
			if err != nil {
				return err
			}
			so.PurchaseOrders = pos
			return nil
		},
		canDelete: func(ctx context.Context, doc entity.Document) error {
			so := doc.(*entity.SalesOrder)
			pos, err := e.livePurchaseOrders(ctx, so.Code)
			if err != nil {
				return err
			}
			if len(pos) > 0 {
				return errs.Validation("%s still has %d purchase orders", so.Code, len(pos))
			}
			return nil
		},
		name: func(doc entity.Document) string {
			return doc.(*entity.SalesOrder).CustomerName
		},
		actions: map[domainwf.Action]actionFunc{
			domainwf.ActionStartInvoicing: e.startInvoicing,
		},
	}
}

func (e *Engine) buildSalesOrder(ctx context.Context, p Payload) (entity.Document, error) {
	customer, err := p.RequiredText("customer_name")
	if err != nil {
		return nil, err
	}
	total, _, err := p.Decimal("total_amount")
	if err != nil {
		return nil, err
	}
	if total.IsNegative() {
		return nil, errs.Validation("total_amount must not be negative")
	}
	return &entity.SalesOrder{CustomerName: customer, TotalAmount: total}, nil
}

// startInvoicing requires every live purchase order of the sales order to be
// delivered
func (e *Engine) startInvoicing(ctx context.Context, op *operation) error {
	so := op.doc.(*entity.SalesOrder)

	pos, err := e.livePurchaseOrders(ctx, so.Code)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return errs.Validation("%s has no purchase orders to invoice", so.Code)
	}
	for _, po := range pos {
		if po.DeliveryStatus != entity.DeliveryStatusDelivered {
			return errs.Validation("purchase order %s of %s is not delivered", po.Code, so.Code)
		}
	}

	now := op.now
	so.InvoicingAt = &now
	op.derive("purchase_orders", len(pos))
	return nil
}

// livePurchaseOrders returns the purchase orders of a sales order that are
// neither deleted nor rejected
func (e *Engine) livePurchaseOrders(ctx context.Context, salesOrderCode string) ([]*entity.PurchaseOrder, error) {
	pos, err := e.repos.PurchaseOrders.ListBySalesOrder(ctx, salesOrderCode)
	if err != nil {
		return nil, err
	}
	live := pos[:0]
	for _, po := range pos {
		if po.Status != domainwf.StateRejected.String() {
			live = append(live, po)
		}
	}
	return live, nil
}

func (e *Engine) purchaseOrderKind() *kind {
	repo := e.repos.PurchaseOrders
	return &kind{
		docType: entity.TypePurchaseOrder,
		table:   domainwf.PurchaseOrderTable(),
		initial: domainwf.StateDraft,
		load: func(ctx context.Context, code string, forUpdate bool) (entity.Document, error) {
			return repo.Load(ctx, code, forUpdate)
		},
		update: func(ctx context.Context, doc entity.Document) error {
			return repo.Update(ctx, doc.(*entity.PurchaseOrder))
		},
		list: func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error) {
			items, total, err := repo.List(ctx, filter)
			return documents(items), total, err
		},
		insert: func(ctx context.Context, doc entity.Document) error {
			return repo.Create(ctx, doc.(*entity.PurchaseOrder))
		},
		build: e.buildPurchaseOrder,
		expand: func(ctx context.Context, doc entity.Document) error {
			po := doc.(*entity.PurchaseOrder)
			items, err := repo.ListItems(ctx, po.Code)
			if err != nil {
				return err
			}
			po.Items = items
			return nil
		},
		name: func(doc entity.Document) string {
			return doc.(*entity.PurchaseOrder).SupplierName
		},
		actions: map[domainwf.Action]actionFunc{
			domainwf.ActionSubmit:  requireCreator,
			domainwf.ActionApprove: approvePurchaseOrder,
			domainwf.ActionReject:  rejectPurchaseOrder,
		},
	}
}

func (e *Engine) buildPurchaseOrder(ctx context.Context, p Payload) (entity.Document, error) {
	soCode, err := p.RequiredText("sales_order_code")
	if err != nil {
		return nil, err
	}
	supplier, err := p.RequiredText("supplier_name")
	if err != nil {
		return nil, err
	}
	lines, err := p.List("items")
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errs.Validation("a purchase order needs at least one item")
	}

	po := &entity.PurchaseOrder{
		SalesOrderCode: soCode,
		SupplierName:   supplier,
		TotalAmount:    decimal.Zero,
		DeliveryStatus: entity.DeliveryStatusPending,
	}
	for i, line := range lines {
		description, err := line.RequiredText("description")
		if err != nil {
			return nil, itemError(i, err)
		}
		qty, err := line.Amount("quantity")
		if err != nil {
			return nil, itemError(i, err)
		}
		price, _, err := line.Decimal("unit_price")
		if err != nil {
			return nil, itemError(i, err)
		}
		if price.IsNegative() {
			return nil, itemError(i, errs.Validation("unit_price must not be negative"))
		}

		subtotal := qty.Mul(price).Round(amountScale)
		po.Items = append(po.Items, &entity.PurchaseOrderItem{
			Description: description,
			Quantity:    qty,
			UnitPrice:   price,
			Subtotal:    subtotal,
		})
		po.TotalAmount = po.TotalAmount.Add(subtotal)
	}
	if !po.TotalAmount.IsPositive() {
		return nil, errs.Validation("purchase order total must be greater than zero")
	}
	if err := checkAmount("total_amount", po.TotalAmount); err != nil {
		return nil, err
	}

	// locked so the sales order cannot start invoicing underneath a new order
	so, err := e.repos.SalesOrders.Load(ctx, soCode, true)
	if err != nil {
		return nil, err
	}
	if err := notDeleted(so, entity.TypeSalesOrder); err != nil {
		return nil, err
	}
	if so.Status != domainwf.StateOpen.String() {
		return nil, errs.Validation("sales order %s is %s and takes no new purchase orders", soCode, so.Status)
	}

	return po, nil
}

// approvePurchaseOrder records the manager level from submitted and the
// finance level from approved_manager. The two levels need two different
// actors, so a repeated manager approve is refused instead of escalating.
func approvePurchaseOrder(ctx context.Context, op *operation) error {
	po := op.doc.(*entity.PurchaseOrder)
	now := op.now

	switch domainwf.State(po.Status) {
	case domainwf.StateSubmitted:
		po.ManagerApprovedBy = op.actor.Code
		po.ManagerApprovedAt = &now
		op.derive("approval_level", "manager")
	case domainwf.StateApprovedManager:
		if op.actor.Code == po.ManagerApprovedBy {
			return errs.InvalidTransition("%s already approved %s at the manager level", op.actor.Code, po.Code)
		}
		po.FinanceApprovedBy = op.actor.Code
		po.FinanceApprovedAt = &now
		op.derive("approval_level", "finance")
	}
	op.derive("total_amount", po.TotalAmount)
	return nil
}

func rejectPurchaseOrder(ctx context.Context, op *operation) error {
	reason, err := requireReason(op)
	if err != nil {
		return err
	}
	po := op.doc.(*entity.PurchaseOrder)
	now := op.now
	po.RejectedBy = op.actor.Code
	po.RejectedAt = &now
	po.RejectionReason = reason
	return nil
}

func (e *Engine) deliveryOrderKind() *kind {
	repo := e.repos.DeliveryOrders
	return &kind{
		docType: entity.TypeDeliveryOrder,
		table:   domainwf.DeliveryOrderTable(),
		initial: domainwf.StateShipping,
		load: func(ctx context.Context, code string, forUpdate bool) (entity.Document, error) {
			return repo.Load(ctx, code, forUpdate)
		},
		update: func(ctx context.Context, doc entity.Document) error {
			return repo.Update(ctx, doc.(*entity.DeliveryOrder))
		},
		list: func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error) {
			items, total, err := repo.List(ctx, filter)
			return documents(items), total, err
		},
		insert: func(ctx context.Context, doc entity.Document) error {
			return repo.Create(ctx, doc.(*entity.DeliveryOrder))
		},
		build: e.buildDeliveryOrder,
		name: func(doc entity.Document) string {
			return doc.(*entity.DeliveryOrder).SalesOrderCode
		},
		actions: map[domainwf.Action]actionFunc{
			domainwf.ActionDeliver: deliver,
		},
	}
}

// buildDeliveryOrder covers shipments raised by hand; approved purchase
// orders get one automatically
func (e *Engine) buildDeliveryOrder(ctx context.Context, p Payload) (entity.Document, error) {
	soCode, err := p.RequiredText("sales_order_code")
	if err != nil {
		return nil, err
	}
	poCodes, err := p.Strings("purchase_order_codes")
	if err != nil {
		return nil, err
	}
	if len(poCodes) == 0 {
		return nil, errs.Validation("purchase_order_codes is required")
	}

	for _, code := range poCodes {
		po, err := e.repos.PurchaseOrders.Load(ctx, code, false)
		if err != nil {
			return nil, err
		}
		if err := notDeleted(po, entity.TypePurchaseOrder); err != nil {
			return nil, err
		}
		if po.SalesOrderCode != soCode {
			return nil, errs.Validation("purchase order %s belongs to sales order %s, not %s", code, po.SalesOrderCode, soCode)
		}
		if po.Status != domainwf.StateApprovedFinance.String() {
			return nil, errs.Validation("purchase order %s is %s, not approved_finance", code, po.Status)
		}
	}

	return &entity.DeliveryOrder{SalesOrderCode: soCode, PurchaseOrderCodes: poCodes}, nil
}

func deliver(ctx context.Context, op *operation) error {
	do := op.doc.(*entity.DeliveryOrder)
	now := op.now
	do.DeliveredBy = op.actor.Code
	do.DeliveredAt = &now
	op.derive("purchase_order_codes", do.PurchaseOrderCodes)
	return nil
}

func (e *Engine) accountsPayableKind() *kind {
	repo := e.repos.Payables
	return &kind{
		docType: entity.TypeAccountsPayable,
		table:   domainwf.AccountsPayableTable(),
		initial: domainwf.StateUnpaid,
		load: func(ctx context.Context, code string, forUpdate bool) (entity.Document, error) {
			return repo.Load(ctx, code, forUpdate)
		},
		update: func(ctx context.Context, doc entity.Document) error {
			return repo.Update(ctx, doc.(*entity.AccountsPayable))
		},
		list: func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error) {
			items, total, err := repo.List(ctx, filter)
			return documents(items), total, err
		},
		insert: func(ctx context.Context, doc entity.Document) error {
			return repo.Create(ctx, doc.(*entity.AccountsPayable))
		},
		build: e.buildAccountsPayable,
		name: func(doc entity.Document) string {
			return doc.(*entity.AccountsPayable).SupplierName
		},
		actions: map[domainwf.Action]actionFunc{
			domainwf.ActionMarkOverdue: markOverdue,
			domainwf.ActionPay:         pay,
		},
	}
}

// buildAccountsPayable records a further supplier invoice against an
// approved purchase order
func (e *Engine) buildAccountsPayable(ctx context.Context, p Payload) (entity.Document, error) {
	poCode, err := p.RequiredText("purchase_order_code")
	if err != nil {
		return nil, err
	}
	po, err := e.repos.PurchaseOrders.Load(ctx, poCode, false)
	if err != nil {
		return nil, err
	}
	if err := notDeleted(po, entity.TypePurchaseOrder); err != nil {
		return nil, err
	}
	if po.Status != domainwf.StateApprovedFinance.String() {
		return nil, errs.Validation("purchase order %s is %s, not approved_finance", poCode, po.Status)
	}

	amount, err := p.Amount("amount")
	if err != nil {
		return nil, err
	}
	invoiceDate, err := p.Date("invoice_date", e.clock.Now())
	if err != nil {
		return nil, err
	}

	ap := e.newPayable(po, invoiceDate)
	ap.Amount = amount
	if supplier := p.Text("supplier_name"); supplier != "" {
		ap.SupplierName = supplier
	}
	return ap, nil
}

// newPayable drafts the invoice owed for po, due after the payment term
func (e *Engine) newPayable(po *entity.PurchaseOrder, invoiceDate time.Time) *entity.AccountsPayable {
	return &entity.AccountsPayable{
		PurchaseOrderCode: po.Code,
		SupplierName:      po.SupplierName,
		Amount:            po.TotalAmount,
		InvoiceDate:       invoiceDate,
		DueDate:           invoiceDate.AddDate(0, 0, e.paymentTermDays),
	}
}

func markOverdue(ctx context.Context, op *operation) error {
	ap := op.doc.(*entity.AccountsPayable)
	if !op.now.After(ap.DueDate) {
		return errs.Validation("%s is not due until %s", ap.Code, ap.DueDate.Format(dateLayout))
	}
	op.derive("due_date", ap.DueDate.Format(dateLayout))
	return nil
}

func pay(ctx context.Context, op *operation) error {
	ap := op.doc.(*entity.AccountsPayable)
	now := op.now
	ap.PaidBy = op.actor.Code
	ap.PaidAt = &now
	op.derive("amount", ap.Amount)
	return nil
}
