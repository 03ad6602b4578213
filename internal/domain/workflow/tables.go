package workflow

// CashAdvanceTable is the transition table for cash advances
func CashAdvanceTable() *Table {
	b := NewBuilder("cash_advance",
		StateDraft, StateSubmitted, StateActive, StatePartiallyUsed,
		StateFullyUsed, StateInSettlement, StateCompleted, StateRejected)

	b.Configure(StateDraft).
		Permit(ActionSubmit, StateSubmitted)

	b.Configure(StateSubmitted).
		Permit(ActionApprove, StateActive).
		Permit(ActionReject, StateRejected)

	b.Configure(StateActive).
		PermitIf(ActionRecordTransaction, StatePartiallyUsed, RemainingPositive).
		PermitIf(ActionRecordTransaction, StateFullyUsed, RemainingExhausted).
		Permit(ActionSettle, StateInSettlement)

	b.Configure(StatePartiallyUsed).
		PermitIf(ActionRecordTransaction, StatePartiallyUsed, RemainingPositive).
		PermitIf(ActionRecordTransaction, StateFullyUsed, RemainingExhausted).
		Permit(ActionSettle, StateInSettlement)

	b.Configure(StateFullyUsed).
		Permit(ActionSettle, StateInSettlement)

	// settlement_reject reopens to active regardless of the sub-state held before settling
	b.Configure(StateInSettlement).
		Permit(ActionSettlementApprove, StateCompleted).
		Permit(ActionSettlementReject, StateActive)

	return b.Table()
}

// SettlementTable is the transition table for cash advance settlements
func SettlementTable() *Table {
	b := NewBuilder("settlement", StateSubmitted, StateApproved, StateRejected)

	b.Configure(StateSubmitted).
		Permit(ActionApprove, StateApproved).
		Permit(ActionReject, StateRejected)

	return b.Table()
}

// ReimbursementTable is the transition table for reimbursements
func ReimbursementTable() *Table {
	b := NewBuilder("reimbursement", StateDraft, StateSubmitted, StateApproved, StateRejected)

	b.Configure(StateDraft).
		Permit(ActionSubmit, StateSubmitted)

	b.Configure(StateSubmitted).
		Permit(ActionApprove, StateApproved).
		Permit(ActionReject, StateRejected)

	return b.Table()
}

// PurchaseOrderTable is the two-level approval table for purchase orders
func PurchaseOrderTable() *Table {
	b := NewBuilder("purchase_order",
		StateDraft, StateSubmitted, StateApprovedManager, StateApprovedFinance, StateRejected)

	b.Configure(StateDraft).
		Permit(ActionSubmit, StateSubmitted)

	b.Configure(StateSubmitted).
		Permit(ActionApprove, StateApprovedManager).
		Permit(ActionReject, StateRejected)

	b.Configure(StateApprovedManager).
		Permit(ActionApprove, StateApprovedFinance).
		Permit(ActionReject, StateRejected)

	return b.Table()
}

// DeliveryOrderTable is the transition table for delivery orders
func DeliveryOrderTable() *Table {
	b := NewBuilder("delivery_order", StateShipping, StateDelivered)

	b.Configure(StateShipping).
		Permit(ActionDeliver, StateDelivered)

	return b.Table()
}

// SalesOrderTable is the transition table for sales orders
func SalesOrderTable() *Table {
	b := NewBuilder("sales_order", StateOpen, StateInvoicing)

	b.Configure(StateOpen).
		Permit(ActionStartInvoicing, StateInvoicing)

	return b.Table()
}

// AccountsPayableTable is the transition table for supplier invoices
func AccountsPayableTable() *Table {
	b := NewBuilder("accounts_payable", StateUnpaid, StateOverdue, StatePaid)

	b.Configure(StateUnpaid).
		Permit(ActionMarkOverdue, StateOverdue).
		Permit(ActionPay, StatePaid)

	b.Configure(StateOverdue).
		Permit(ActionPay, StatePaid)

	return b.Table()
}
