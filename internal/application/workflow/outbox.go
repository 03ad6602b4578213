package workflow

import (
	"context"

	"github.com/garyjia/finflow/internal/application/audit"
	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/event"
)

// outbox collects what must happen after a transaction commits. Nested
// transitions triggered by side effects append to the same outbox.
type outbox struct {
	audits      []audit.Entry
	transitions []sideeffect.Transition
	events      []*event.Event
}

type outboxKey struct{}

func withOutbox(ctx context.Context) (context.Context, *outbox) {
	ob := &outbox{}
	return context.WithValue(ctx, outboxKey{}, ob), ob
}

// outboxFrom returns the outbox of ctx. Calls outside an engine entry point
// get a detached outbox whose contents are dropped.
func outboxFrom(ctx context.Context) *outbox {
	if ob, ok := ctx.Value(outboxKey{}).(*outbox); ok {
		return ob
	}
	return &outbox{}
}

func (ob *outbox) created(k *kind, doc entity.Document, actor entity.Actor, notes string) {
	h := doc.Head()
	ob.audits = append(ob.audits, audit.Entry{
		Actor:        actor,
		Action:       entity.AuditActionCreate,
		ResourceType: k.docType.String(),
		ResourceCode: h.Code,
		ResourceName: k.resourceName(doc),
		After:        doc,
		Notes:        notes,
	})
	evt := event.NewEvent(event.TypeDocumentCreated, k.docType.String(), h.Code, map[string]interface{}{
		"status": h.Status,
	})
	evt.ActorCode = actor.Code
	ob.events = append(ob.events, evt)
}

func (ob *outbox) transitioned(op *operation, t sideeffect.Transition, notes string) {
	after := map[string]interface{}{"status": t.To}
	for key, v := range op.derived {
		after[key] = v
	}

	ob.audits = append(ob.audits, audit.Entry{
		Actor:        op.actor,
		Action:       t.Action.String(),
		ResourceType: t.DocumentType.String(),
		ResourceCode: t.DocumentCode,
		ResourceName: op.kind.resourceName(op.doc),
		Before:       map[string]interface{}{"status": t.From},
		After:        after,
		Notes:        notes,
	})
	ob.transitions = append(ob.transitions, t)
}

// applied queues a side_effect.applied event for every critical effect that
// ran for t
func (ob *outbox) applied(t sideeffect.Transition, effects []sideeffect.SideEffect) {
	for _, eff := range effects {
		if !eff.Critical || eff.Status != sideeffect.StatusApplied {
			continue
		}
		ob.events = append(ob.events, event.NewSideEffectApplied(
			t.DocumentType.String(), t.DocumentCode, eff.Name, eff.Documents, t.Actor.Code, t.At))
	}
}

func (ob *outbox) deleted(k *kind, doc entity.Document, actor entity.Actor) {
	h := doc.Head()
	ob.audits = append(ob.audits, audit.Entry{
		Actor:        actor,
		Action:       entity.AuditActionDelete,
		ResourceType: k.docType.String(),
		ResourceCode: h.Code,
		ResourceName: k.resourceName(doc),
		Before:       map[string]interface{}{"status": h.Status, "is_deleted": false},
		After:        map[string]interface{}{"status": h.Status, "is_deleted": true},
	})
	evt := event.NewEvent(event.TypeDocumentDeleted, k.docType.String(), h.Code, nil)
	evt.ActorCode = actor.Code
	ob.events = append(ob.events, evt)
}

func (ob *outbox) note(entry audit.Entry) {
	ob.audits = append(ob.audits, entry)
}

// flush emits the collected audit entries, non-critical effects and events
func (e *Engine) flush(ctx context.Context, ob *outbox) {
	for _, entry := range ob.audits {
		e.recorder.Record(ctx, entry)
	}
	for _, t := range ob.transitions {
		e.effects.AfterCommit(ctx, t)
	}
	if e.events != nil {
		for _, evt := range ob.events {
			e.events.DispatchAsync(ctx, evt)
		}
	}
}
