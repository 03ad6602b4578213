package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// ApplyAction performs action on the document identified by code. A
// transition that loses a race for the document is retried once.
func (e *Engine) ApplyAction(
	ctx context.Context,
	docType entity.DocumentType,
	code string,
	action domainwf.Action,
	payload Payload,
	actor entity.Actor,
) (*TransitionResult, error) {
	k, err := e.kindOf(docType)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !action.IsValid() {
		return nil, errs.InvalidTransition("unknown action %q", action)
	}

	result, err := e.applyOnce(ctx, k, code, action, payload, actor)
	if errs.KindOf(err) == errs.KindConflict {
		e.logger.Info("Transition lost a concurrent update, retrying",
			"document_type", docType,
			"document_code", code,
			"action", action,
		)
		result, err = e.applyOnce(ctx, k, code, action, payload, actor)
	}
	return result, err
}

func (e *Engine) applyOnce(
	ctx context.Context,
	k *kind,
	code string,
	action domainwf.Action,
	payload Payload,
	actor entity.Actor,
) (*TransitionResult, error) {
	ctx, ob := withOutbox(ctx)

	var result *TransitionResult
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		doc, err := k.load(txCtx, code, true)
		if err != nil {
			return err
		}
		if err := notDeleted(doc, k.docType); err != nil {
			return err
		}

		result, err = e.transition(txCtx, e.newOperation(k, doc, action, payload, actor))
		return err
	})
	if err != nil {
		return nil, err
	}

	e.flush(ctx, ob)
	return result, nil
}

// applyLocked transitions another document inside the caller's transaction
// on behalf of actor
func (e *Engine) applyLocked(ctx context.Context, docType entity.DocumentType, code string, action domainwf.Action, actor entity.Actor) (*TransitionResult, error) {
	k, err := e.kindOf(docType)
	if err != nil {
		return nil, err
	}
	doc, err := k.load(ctx, code, true)
	if err != nil {
		return nil, err
	}
	if err := notDeleted(doc, docType); err != nil {
		return nil, err
	}

	op := e.newOperation(k, doc, action, nil, actor)
	op.cascaded = true
	return e.transition(ctx, op)
}

// transition validates, decides and persists op. The document must be locked
// by the enclosing transaction.
func (e *Engine) transition(ctx context.Context, op *operation) (*TransitionResult, error) {
	h := op.doc.Head()
	from := domainwf.State(h.Status)

	if !op.kind.table.Allows(from, op.action) {
		return nil, errs.InvalidTransition("cannot %s %s in status %s", op.action, describe(op.kind.docType, h.Code), from)
	}

	if handler, ok := op.kind.actions[op.action]; ok {
		if err := handler(ctx, op); err != nil {
			return nil, err
		}
	}

	to, err := op.kind.table.Decide(ctx, from, op.action, op.facts)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInvalidTransition, "cannot %s %s", op.action, describe(op.kind.docType, h.Code))
	}

	h.Status = to.String()
	h.UpdatedAt = op.now
	if err := op.kind.update(ctx, op.doc); err != nil {
		return nil, err
	}

	for _, write := range op.writes {
		if err := write(ctx); err != nil {
			return nil, err
		}
	}

	t := sideeffect.Transition{
		DocumentType: op.kind.docType,
		DocumentCode: h.Code,
		Action:       op.action,
		From:         from,
		To:           to,
		Actor:        op.actor,
		At:           op.now,
	}
	effects, err := e.effects.OnTransition(ctx, t)
	if err != nil {
		return nil, err
	}

	notes := op.payload.Text("reason")
	if notes == "" {
		notes = op.payload.Text("notes")
	}
	ob := outboxFrom(ctx)
	ob.transitioned(op, t, notes)
	ob.applied(t, effects)

	return &TransitionResult{
		Code:           h.Code,
		PreviousStatus: from.String(),
		NewStatus:      to.String(),
		DerivedFields:  op.derived,
		SideEffects:    effects,
	}, nil
}

// CreateDocument validates payload and inserts a new document in the type's
// initial state. A non-empty idempotencyKey that was seen before returns the
// document created the first time without inserting again.
func (e *Engine) CreateDocument(
	ctx context.Context,
	docType entity.DocumentType,
	payload Payload,
	actor entity.Actor,
	idempotencyKey string,
) (*CreateResult, error) {
	k, err := e.kindOf(docType)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if k.build == nil {
		return nil, errs.Validation("%s documents are created by the workflow, not directly", docType)
	}
	if payload == nil {
		payload = Payload{}
	}

	result, err := e.createOnce(ctx, k, payload, actor, idempotencyKey)
	if idempotencyKey != "" && errs.KindOf(err) == errs.KindConflict {
		// a concurrent request may have stored the key first
		result, err = e.createOnce(ctx, k, payload, actor, idempotencyKey)
	}
	return result, err
}

func (e *Engine) createOnce(ctx context.Context, k *kind, payload Payload, actor entity.Actor, key string) (*CreateResult, error) {
	ctx, ob := withOutbox(ctx)

	var result *CreateResult
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if key != "" {
			prevType, prevCode, err := e.repos.Idempotency.Lookup(txCtx, key)
			if err != nil {
				return err
			}
			if prevCode != "" {
				if prevType != k.docType.String() {
					return errs.Conflict("idempotency key was already used for %s", describe(entity.DocumentType(prevType), prevCode))
				}
				doc, err := k.load(txCtx, prevCode, false)
				if err != nil {
					return err
				}
				result = &CreateResult{DocumentType: k.docType, Code: prevCode, Status: doc.Head().Status, Replayed: true}
				return nil
			}
		}

		doc, err := k.build(txCtx, payload)
		if err != nil {
			return err
		}
		if err := e.insert(txCtx, k, doc, actor, payload.Text("notes")); err != nil {
			return err
		}

		h := doc.Head()
		if key != "" {
			if err := e.repos.Idempotency.Save(txCtx, key, k.docType.String(), h.Code, h.CreatedAt); err != nil {
				return err
			}
		}

		result = &CreateResult{DocumentType: k.docType, Code: h.Code, Status: h.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		e.logger.Info("Document created",
			"document_type", k.docType,
			"document_code", result.Code,
			"actor_code", actor.Code,
		)
	}
	e.flush(ctx, ob)
	return result, nil
}

// insert assigns a code and header to doc and stores it in the type's
// initial state
func (e *Engine) insert(ctx context.Context, k *kind, doc entity.Document, actor entity.Actor, notes string) error {
	code, err := e.codes.Next(ctx, k.docType.Prefix())
	if err != nil {
		return err
	}

	now := e.clock.Now()
	h := doc.Head()
	h.Code = code
	h.Status = k.initial.String()
	h.Version = 1
	h.IsDeleted = false
	h.CreatedBy = actor.Code
	h.CreatedByName = actor.Name
	h.CreatedAt = now
	h.UpdatedAt = now

	if err := k.insert(ctx, doc); err != nil {
		return err
	}

	outboxFrom(ctx).created(k, doc, actor, notes)
	return nil
}

// DeleteDocument soft-deletes a document. Only draft, rejected and open
// documents may be deleted.
func (e *Engine) DeleteDocument(ctx context.Context, docType entity.DocumentType, code string, actor entity.Actor) error {
	k, err := e.kindOf(docType)
	if err != nil {
		return err
	}
	if err := requireActor(actor); err != nil {
		return err
	}

	ctx, ob := withOutbox(ctx)
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		doc, err := k.load(txCtx, code, true)
		if err != nil {
			return err
		}
		if err := notDeleted(doc, docType); err != nil {
			return err
		}

		h := doc.Head()
		if !k.deletable(domainwf.State(h.Status)) {
			return errs.InvalidTransition("cannot delete %s in status %s", describe(docType, code), h.Status)
		}
		if k.canDelete != nil {
			if err := k.canDelete(txCtx, doc); err != nil {
				return err
			}
		}

		h.IsDeleted = true
		h.UpdatedAt = e.clock.Now()
		if err := k.update(txCtx, doc); err != nil {
			return err
		}

		outboxFrom(txCtx).deleted(k, doc, actor)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", describe(docType, code), err)
	}

	e.flush(ctx, ob)
	return nil
}
