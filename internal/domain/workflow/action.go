package workflow

// Action is a verb requested by an actor that may cause a transition
type Action string

const (
	ActionSubmit            Action = "submit"
	ActionApprove           Action = "approve"
	ActionReject            Action = "reject"
	ActionRecordTransaction Action = "record_transaction"
	ActionSettle            Action = "settle"
	ActionSettlementApprove Action = "settlement_approve"
	ActionSettlementReject  Action = "settlement_reject"
	ActionDeliver           Action = "deliver"
	ActionStartInvoicing    Action = "start_invoicing"
	ActionMarkOverdue       Action = "mark_overdue"
	ActionPay               Action = "pay"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

var allActions = []Action{
	ActionSubmit,
	ActionApprove,
	ActionReject,
	ActionRecordTransaction,
	ActionSettle,
	ActionSettlementApprove,
	ActionSettlementReject,
	ActionDeliver,
	ActionStartInvoicing,
	ActionMarkOverdue,
	ActionPay,
}

// AllActions returns every action known to any workflow table
func AllActions() []Action {
	return append([]Action(nil), allActions...)
}

// IsValid checks if the action is one of the defined constants
func (a Action) IsValid() bool {
	for _, known := range allActions {
		if a == known {
			return true
		}
	}
	return false
}
