// Package audit appends who-did-what records for document changes.
//
// Recording is best-effort and happens after the primary write commits: a
// failed append is logged and never fails the operation it describes, so an
// audit trail may miss an entry for a change that did persist.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Entry describes one audited change. Before and After are snapshots that
// are stored as JSON; strings are stored as-is.
type Entry struct {
	Actor        entity.Actor
	Action       string
	ResourceType string
	ResourceCode string
	ResourceName string
	Before       interface{}
	After        interface{}
	Notes        string
}

// Recorder writes audit entries
type Recorder struct {
	repo   port.AuditRepository
	clock  port.Clock
	logger Logger
}

// NewRecorder creates an audit recorder
func NewRecorder(repo port.AuditRepository, clock port.Clock, logger Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		clock:  clock,
		logger: logger,
	}
}

// Record appends an entry. It reports whether the entry was stored; callers
// are not expected to act on a false result.
func (r *Recorder) Record(ctx context.Context, e Entry) bool {
	entry := &entity.AuditEntry{
		ActorCode:    e.Actor.Code,
		ActorName:    e.Actor.Name,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceCode: e.ResourceCode,
		ResourceName: e.ResourceName,
		Before:       snapshot(e.Before),
		After:        snapshot(e.After),
		Notes:        e.Notes,
		CreatedAt:    r.clock.Now(),
	}

	// the request may already be finished; the append must still go through
	if err := r.repo.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("Failed to record audit entry",
			"action", e.Action,
			"resource_type", e.ResourceType,
			"resource_code", e.ResourceCode,
			"actor_code", e.Actor.Code,
			"error", err,
		)
		return false
	}
	return true
}

// Trail returns the entries of a resource, oldest first
func (r *Recorder) Trail(ctx context.Context, resourceType, resourceCode string) ([]*entity.AuditEntry, error) {
	entries, err := r.repo.ListByResource(ctx, resourceType, resourceCode)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func snapshot(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
