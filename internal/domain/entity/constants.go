package entity

// DocumentType identifies a workflow document kind
type DocumentType string

const (
	TypeCashAdvance     DocumentType = "cash_advance"
	TypeSettlement      DocumentType = "settlement"
	TypeReimbursement   DocumentType = "reimbursement"
	TypePurchaseOrder   DocumentType = "purchase_order"
	TypeDeliveryOrder   DocumentType = "delivery_order"
	TypeSalesOrder      DocumentType = "sales_order"
	TypeAccountsPayable DocumentType = "accounts_payable"
)

var documentPrefixes = map[DocumentType]string{
	TypeCashAdvance:     "CA",
	TypeSettlement:      "STL",
	TypeReimbursement:   "RB",
	TypePurchaseOrder:   "PO",
	TypeDeliveryOrder:   "DO",
	TypeSalesOrder:      "SO",
	TypeAccountsPayable: "AP",
}

// DocumentTypes returns every supported document type
func DocumentTypes() []DocumentType {
	return []DocumentType{
		TypeCashAdvance,
		TypeSettlement,
		TypeReimbursement,
		TypePurchaseOrder,
		TypeDeliveryOrder,
		TypeSalesOrder,
		TypeAccountsPayable,
	}
}

// String returns the string representation of the document type
func (t DocumentType) String() string {
	return string(t)
}

// IsValid checks if the document type is one of the defined constants
func (t DocumentType) IsValid() bool {
	_, ok := documentPrefixes[t]
	return ok
}

// Prefix returns the code prefix for the document type
func (t DocumentType) Prefix() string {
	return documentPrefixes[t]
}

// Delivery sub-status of a purchase order
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
)

// Audit action constants
const (
	AuditActionCreate = "create"
	AuditActionDelete = "delete"
)

// DefaultPaymentTermDays is the AP due-date offset from the invoice date
const DefaultPaymentTermDays = 30
