package entity

import "time"

// AuditEntry is one append-only record of who did what to which document
type AuditEntry struct {
	ID           int64     `json:"id"`
	ActorCode    string    `json:"actor_code"`
	ActorName    string    `json:"actor_name"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceCode string    `json:"resource_code"`
	ResourceName string    `json:"resource_name,omitempty"`
	Before       string    `json:"before,omitempty"`
	After        string    `json:"after,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DispatchRecord marks a critical side effect as applied for a document
type DispatchRecord struct {
	ID           int64     `json:"id"`
	DocumentType string    `json:"document_type"`
	DocumentCode string    `json:"document_code"`
	EffectName   string    `json:"effect_name"`
	CreatedAt    time.Time `json:"created_at"`
}
