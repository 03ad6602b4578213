package workflow

import (
	"context"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// ReplayPendingEffects re-dispatches critical side effects for documents that
// sit in a triggering status without a dispatch ledger entry. Candidates are
// selected by their missing ledger row, so every pass makes progress on a
// backlog larger than limit. It returns the number of documents replayed.
func (e *Engine) ReplayPendingEffects(ctx context.Context, limit int) (int, error) {
	replayed := 0

	for _, trigger := range e.effects.Triggers() {
		k, err := e.kindOf(trigger.DocumentType)
		if err != nil {
			return replayed, err
		}

		seen := make(map[string]bool)
		for _, effect := range e.effects.CriticalEffects(trigger.DocumentType, trigger.Status) {
			docs, _, err := k.list(ctx, port.ListFilter{
				Status: trigger.Status.String(),
				Limit:  limit,
				Undispatched: &port.DispatchRef{
					DocumentType: trigger.DocumentType.String(),
					Effect:       effect,
				},
			})
			if err != nil {
				return replayed, err
			}

			for _, doc := range docs {
				code := doc.Head().Code
				if seen[code] {
					continue
				}
				seen[code] = true

				pending, err := e.replay(ctx, k, code, trigger.Status)
				if err != nil {
					e.logger.Error("Failed to replay side effects",
						"document_type", trigger.DocumentType,
						"document_code", code,
						"effect", effect,
						"error", err,
					)
					continue
				}
				if len(pending) == 0 {
					continue
				}
				replayed++
				e.logger.Info("Replayed side effects",
					"document_type", trigger.DocumentType,
					"document_code", code,
					"effects", pending,
				)
			}
		}
	}

	return replayed, nil
}

// replay dispatches the critical effects of status for a locked document and
// returns the effects that were still pending under the lock
func (e *Engine) replay(ctx context.Context, k *kind, code string, status domainwf.State) ([]string, error) {
	ctx, ob := withOutbox(ctx)

	var pending []string
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		doc, err := k.load(txCtx, code, true)
		if err != nil {
			return err
		}
		if doc.Head().IsDeleted || doc.Head().Status != status.String() {
			return nil
		}

		pending, err = e.effects.Pending(txCtx, k.docType, status, code)
		if err != nil || len(pending) == 0 {
			return err
		}

		t := sideeffect.Transition{
			DocumentType: k.docType,
			DocumentCode: code,
			From:         status,
			To:           status,
			Actor:        entity.SystemActor,
			At:           e.clock.Now(),
		}
		effects, err := e.effects.OnTransition(txCtx, t)
		if err != nil {
			return err
		}
		outboxFrom(txCtx).applied(t, effects)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.flush(ctx, ob)
	return pending, nil
}

// SweepOverdue marks unpaid invoices past their due date as overdue. It
// returns the number of invoices marked.
func (e *Engine) SweepOverdue(ctx context.Context, limit int) (int, error) {
	due, err := e.repos.Payables.ListDueBefore(ctx, e.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, ap := range due {
		_, err := e.ApplyAction(ctx, entity.TypeAccountsPayable, ap.Code, domainwf.ActionMarkOverdue, nil, entity.SystemActor)
		switch errs.KindOf(err) {
		case "":
			marked++
		case errs.KindInvalidTransition, errs.KindValidationFailed:
			// paid or re-dated since the listing
		default:
			e.logger.Error("Failed to mark invoice overdue", "document_code", ap.Code, "error", err)
		}
	}

	if marked > 0 {
		e.logger.Info("Marked invoices overdue", "count", marked)
	}
	return marked, nil
}
