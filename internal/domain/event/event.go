package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event about a workflow document
type Event struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	DocumentType   string                 `json:"document_type"`
	DocumentCode   string                 `json:"document_code"`
	Action         string                 `json:"action,omitempty"`
	PreviousStatus string                 `json:"previous_status,omitempty"`
	NewStatus      string                 `json:"new_status,omitempty"`
	ActorCode      string                 `json:"actor_code"`
	Payload        map[string]interface{} `json:"payload"`
	Timestamp      time.Time              `json:"timestamp"`
	CorrelationID  string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID
func NewEvent(eventType Type, documentType, documentCode string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, documentType, documentCode, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, documentType, documentCode string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		DocumentType:  documentType,
		DocumentCode:  documentCode,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// NewTransition creates a document.transitioned event
func NewTransition(documentType, documentCode, action, previous, next, actorCode string, at time.Time) *Event {
	e := NewEvent(TypeDocumentTransitioned, documentType, documentCode, nil)
	e.Action = action
	e.PreviousStatus = previous
	e.NewStatus = next
	e.ActorCode = actorCode
	if !at.IsZero() {
		e.Timestamp = at
	}
	return e
}

// NewSideEffectApplied creates a side_effect.applied event for a critical
// effect that ran for the document. Documents lists the codes it created or
// changed.
func NewSideEffectApplied(documentType, documentCode, effect string, documents []string, actorCode string, at time.Time) *Event {
	e := NewEvent(TypeSideEffectApplied, documentType, documentCode, map[string]interface{}{
		"effect":    effect,
		"documents": append([]string(nil), documents...),
	})
	e.ActorCode = actorCode
	if !at.IsZero() {
		e.Timestamp = at
	}
	return e
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
