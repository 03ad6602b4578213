package event

// Type identifies the type of domain event
type Type string

const (
	TypeDocumentCreated      Type = "document.created"
	TypeDocumentTransitioned Type = "document.transitioned"
	TypeDocumentDeleted      Type = "document.deleted"
	TypeSideEffectApplied    Type = "side_effect.applied"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDocumentCreated,
		TypeDocumentTransitioned,
		TypeDocumentDeleted,
		TypeSideEffectApplied:
		return true
	default:
		return false
	}
}
