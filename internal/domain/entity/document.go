package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Document is implemented by every workflow document
type Document interface {
	Head() *DocumentHeader
}

// DocumentHeader holds the fields shared by every workflow document
type DocumentHeader struct {
	ID            int64     `json:"-"`
	Code          string    `json:"code"`
	Status        string    `json:"status"`
	Version       int64     `json:"version"`
	IsDeleted     bool      `json:"is_deleted"`
	CreatedBy     string    `json:"created_by"`
	CreatedByName string    `json:"created_by_name"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Head returns the shared header
func (h *DocumentHeader) Head() *DocumentHeader {
	return h
}

// Decision records who approved or rejected a document and when
type Decision struct {
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// CashAdvance is money handed to an employee up front and accounted for later
type CashAdvance struct {
	DocumentHeader
	Decision
	Purpose         string                    `json:"purpose"`
	TotalAmount     decimal.Decimal           `json:"total_amount"`
	UsedAmount      decimal.Decimal           `json:"used_amount"`
	RemainingAmount decimal.Decimal           `json:"remaining_amount"`
	Transactions    []*CashAdvanceTransaction `json:"transactions,omitempty"`
	Settlement      *Settlement               `json:"settlement,omitempty"`
}

// CheckBalance verifies total = used + remaining with neither part negative
func (c *CashAdvance) CheckBalance() error {
	if c.UsedAmount.IsNegative() || c.RemainingAmount.IsNegative() {
		return fmt.Errorf("cash advance %s has a negative balance component", c.Code)
	}
	if !c.TotalAmount.Equal(c.UsedAmount.Add(c.RemainingAmount)) {
		return fmt.Errorf("cash advance %s: total %s != used %s + remaining %s",
			c.Code, c.TotalAmount, c.UsedAmount, c.RemainingAmount)
	}
	return nil
}

// CashAdvanceTransaction is one expense debited from a cash advance
type CashAdvanceTransaction struct {
	ID              int64           `json:"id"`
	CashAdvanceCode string          `json:"cash_advance_code"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	CategoryCode    string          `json:"category_code"`
	TransactionDate time.Time       `json:"transaction_date"`
	ReceiptPath     string          `json:"receipt_path,omitempty"`
	IsDeleted       bool            `json:"is_deleted"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Settlement closes a cash advance, refunding any remaining amount
type Settlement struct {
	DocumentHeader
	Decision
	CashAdvanceCode string          `json:"cash_advance_code"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	RefundProofPath string          `json:"refund_proof_path,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Reimbursement is an employee expense claim paid after approval
type Reimbursement struct {
	DocumentHeader
	Decision
	Title           string               `json:"title"`
	TotalAmount     decimal.Decimal      `json:"total_amount"`
	BankAccountCode string               `json:"bank_account_code,omitempty"`
	Items           []*ReimbursementItem `json:"items,omitempty"`
}

// ReimbursementItem is one expense line of a reimbursement
type ReimbursementItem struct {
	ID                int64           `json:"id"`
	ReimbursementCode string          `json:"reimbursement_code"`
	Description       string          `json:"description"`
	Amount            decimal.Decimal `json:"amount"`
	CategoryCode      string          `json:"category_code"`
	ExpenseDate       time.Time       `json:"expense_date"`
}

// PurchaseOrder buys goods from a supplier for a sales order
type PurchaseOrder struct {
	DocumentHeader
	SalesOrderCode    string               `json:"sales_order_code"`
	SupplierName      string               `json:"supplier_name"`
	TotalAmount       decimal.Decimal      `json:"total_amount"`
	DeliveryStatus    string               `json:"delivery_status"`
	ManagerApprovedBy string               `json:"manager_approved_by,omitempty"`
	ManagerApprovedAt *time.Time           `json:"manager_approved_at,omitempty"`
	FinanceApprovedBy string               `json:"finance_approved_by,omitempty"`
	FinanceApprovedAt *time.Time           `json:"finance_approved_at,omitempty"`
	RejectedBy        string               `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time           `json:"rejected_at,omitempty"`
	RejectionReason   string               `json:"rejection_reason,omitempty"`
	Items             []*PurchaseOrderItem `json:"items,omitempty"`
}

// PurchaseOrderItem is one line of a purchase order
type PurchaseOrderItem struct {
	ID                int64           `json:"id"`
	PurchaseOrderCode string          `json:"purchase_order_code"`
	Description       string          `json:"description"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Subtotal          decimal.Decimal `json:"subtotal"`
}

// DeliveryOrder tracks shipment of approved purchase orders
type DeliveryOrder struct {
	DocumentHeader
	SalesOrderCode     string     `json:"sales_order_code"`
	PurchaseOrderCodes []string   `json:"purchase_order_codes"`
	DeliveredBy        string     `json:"delivered_by,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
}

// SalesOrder is a customer order fulfilled by purchase orders
type SalesOrder struct {
	DocumentHeader
	CustomerName   string           `json:"customer_name"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	InvoicingAt    *time.Time       `json:"invoicing_at,omitempty"`
	PurchaseOrders []*PurchaseOrder `json:"purchase_orders,omitempty"`
}

// AccountsPayable is a supplier invoice owed for an approved purchase order
type AccountsPayable struct {
	DocumentHeader
	PurchaseOrderCode string          `json:"purchase_order_code"`
	SupplierName      string          `json:"supplier_name"`
	Amount            decimal.Decimal `json:"amount"`
	InvoiceDate       time.Time       `json:"invoice_date"`
	DueDate           time.Time       `json:"due_date"`
	PaidBy            string          `json:"paid_by,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
}
