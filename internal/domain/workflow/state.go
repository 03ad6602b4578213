package workflow

// State represents a document status in a workflow table
type State string

const (
	StateDraft           State = "draft"
	StateSubmitted       State = "submitted"
	StateActive          State = "active"
	StatePartiallyUsed   State = "partially_used"
	StateFullyUsed       State = "fully_used"
	StateInSettlement    State = "in_settlement"
	StateCompleted       State = "completed"
	StateRejected        State = "rejected"
	StateApproved        State = "approved"
	StateApprovedManager State = "approved_manager"
	StateApprovedFinance State = "approved_finance"
	StateShipping        State = "shipping"
	StateDelivered       State = "delivered"
	StateOpen            State = "open"
	StateInvoicing       State = "invoicing"
	StateUnpaid          State = "unpaid"
	StateOverdue         State = "overdue"
	StatePaid            State = "paid"
)

var validStates = map[State]bool{
	StateDraft:           true,
	StateSubmitted:       true,
	StateActive:          true,
	StatePartiallyUsed:   true,
	StateFullyUsed:       true,
	StateInSettlement:    true,
	StateCompleted:       true,
	StateRejected:        true,
	StateApproved:        true,
	StateApprovedManager: true,
	StateApprovedFinance: true,
	StateShipping:        true,
	StateDelivered:       true,
	StateOpen:            true,
	StateInvoicing:       true,
	StateUnpaid:          true,
	StateOverdue:         true,
	StatePaid:            true,
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state belongs to any workflow vocabulary
func (s State) IsValid() bool {
	return validStates[s]
}
