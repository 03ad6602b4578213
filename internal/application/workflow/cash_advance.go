package workflow

import (
	"context"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

func (e *Engine) cashAdvanceKind() *kind {
	repo := e.repos.CashAdvances
	return &kind{
		docType: entity.TypeCashAdvance,
		table:   domainwf.CashAdvanceTable(),
		initial: domainwf.StateDraft,
		load: func(ctx context.Context, code string, forUpdate bool) (entity.Document, error) {
			return repo.Load(ctx, code, forUpdate)
		},
		update: func(ctx context.Context, doc entity.Document) error {
			return repo.Update(ctx, doc.(*entity.CashAdvance))
		},
		list: func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error) {
			items, total, err := repo.List(ctx, filter)
			return documents(items), total, err
		},
		insert: func(ctx context.Context, doc entity.Document) error {
			return repo.Create(ctx, doc.(*entity.CashAdvance))
		},
		build:  e.buildCashAdvance,
		expand: e.expandCashAdvance,
		name: func(doc entity.Document) string {
			return doc.(*entity.CashAdvance).Purpose
		},
		actions: map[domainwf.Action]actionFunc{
			domainwf.ActionSubmit:            requireCreator,
			domainwf.ActionApprove:           approveCashAdvance,
			domainwf.ActionReject:            rejectCashAdvance,
			domainwf.ActionRecordTransaction: e.recordTransaction,
			domainwf.ActionSettle:            e.settle,
			domainwf.ActionSettlementApprove: e.closeSettlementOf,
			domainwf.ActionSettlementReject:  e.closeSettlementOf,
		},
	}
}

func (e *Engine) buildCashAdvance(ctx context.Context, p Payload) (entity.Document, error) {
	purpose, err := p.RequiredText("purpose")
	if err != nil {
		return nil, err
	}
	total, err := p.Amount("total_amount")
	if err != nil {
		return nil, err
	}

	return &entity.CashAdvance{
		Purpose:         purpose,
		TotalAmount:     total,
		UsedAmount:      decimal.Zero,
		RemainingAmount: total,
	}, nil
}

func (e *Engine) expandCashAdvance(ctx context.Context, doc entity.Document) error {
	ca := doc.(*entity.CashAdvance)

	txns, err := e.repos.CashAdvances.ListTransactions(ctx, ca.Code)
	if err != nil {
		return err
	}
	ca.Transactions = txns

	stl, err := e.repos.Settlements.FindOpen(ctx, ca.Code, false)
	if err != nil {
		return err
	}
	ca.Settlement = stl
	return nil
}

func requireCreator(ctx context.Context, op *operation) error {
	h := op.doc.Head()
	if h.CreatedBy != op.actor.Code {
		return errs.Validation("only the creator of %s may %s it", h.Code, op.action)
	}
	return nil
}

func requireReason(op *operation) (string, error) {
	reason := op.payload.Text("reason")
	if reason == "" {
		return "", errs.Validation("a rejection reason is required")
	}
	return reason, nil
}

func approveCashAdvance(ctx context.Context, op *operation) error {
	ca := op.doc.(*entity.CashAdvance)
	now := op.now
	ca.ApprovedBy = op.actor.Code
	ca.ApprovedAt = &now
	op.derive("remaining_amount", ca.RemainingAmount)
	return nil
}

func rejectCashAdvance(ctx context.Context, op *operation) error {
	reason, err := requireReason(op)
	if err != nil {
		return err
	}
	ca := op.doc.(*entity.CashAdvance)
	now := op.now
	ca.RejectedBy = op.actor.Code
	ca.RejectedAt = &now
	ca.RejectionReason = reason
	return nil
}

// recordTransaction debits an expense from the advance. The new status
// follows from the remaining balance via the table guards.
func (e *Engine) recordTransaction(ctx context.Context, op *operation) error {
	ca := op.doc.(*entity.CashAdvance)

	amount, err := op.payload.Amount("amount")
	if err != nil {
		return err
	}
	if amount.GreaterThan(ca.RemainingAmount) {
		return errs.Validation("amount %s exceeds the remaining %s of %s", amount, ca.RemainingAmount, ca.Code)
	}
	description, err := op.payload.RequiredText("description")
	if err != nil {
		return err
	}
	date, err := op.payload.Date("transaction_date", op.now)
	if err != nil {
		return err
	}
	receipt := op.payload.Text("receipt_path")
	if receipt != "" {
		if err := e.requireFile(ctx, "receipt_path", receipt); err != nil {
			return err
		}
	}

	ca.UsedAmount = ca.UsedAmount.Add(amount)
	ca.RemainingAmount = ca.RemainingAmount.Sub(amount)
	if err := ca.CheckBalance(); err != nil {
		return errs.Wrap(err, errs.KindInternal, "balance check failed")
	}

	op.facts.Remaining = ca.RemainingAmount
	op.derive("amount", amount)
	op.derive("used_amount", ca.UsedAmount)
	op.derive("remaining_amount", ca.RemainingAmount)

	txn := &entity.CashAdvanceTransaction{
		CashAdvanceCode: ca.Code,
		Amount:          amount,
		Description:     description,
		CategoryCode:    op.payload.Text("category_code"),
		TransactionDate: date,
		ReceiptPath:     receipt,
		CreatedBy:       op.actor.Code,
		CreatedAt:       op.now,
	}
	op.afterUpdate(func(ctx context.Context) error {
		if err := e.repos.CashAdvances.AddTransaction(ctx, txn); err != nil {
			return err
		}
		sum, err := e.repos.CashAdvances.SumTransactions(ctx, ca.Code)
		if err != nil {
			return err
		}
		if !sum.Equal(ca.UsedAmount) {
			return errs.New(errs.KindInternal, "used amount %s of %s disagrees with its transactions total %s",
				ca.UsedAmount, ca.Code, sum)
		}
		op.derive("transaction_id", txn.ID)
		return nil
	})
	return nil
}

// settle hands the advance over for settlement and opens a Settlement for
// any refund due
func (e *Engine) settle(ctx context.Context, op *operation) error {
	ca := op.doc.(*entity.CashAdvance)

	if ca.RemainingAmount.IsNegative() {
		return errs.Validation("%s has a negative remaining amount", ca.Code)
	}
	proof := op.payload.Text("refund_proof_path")
	if ca.RemainingAmount.IsPositive() && proof == "" {
		return errs.Validation("a refund proof is required to settle %s with %s remaining", ca.Code, ca.RemainingAmount)
	}
	if proof != "" {
		if err := e.requireFile(ctx, "refund_proof_path", proof); err != nil {
			return err
		}
	}

	stl := &entity.Settlement{
		CashAdvanceCode: ca.Code,
		RemainingAmount: ca.RemainingAmount,
		RefundProofPath: proof,
		Notes:           op.payload.Text("notes"),
	}
	op.derive("remaining_amount", ca.RemainingAmount)
	op.afterUpdate(func(ctx context.Context) error {
		if err := e.insert(ctx, e.kinds[entity.TypeSettlement], stl, op.actor, "opened by "+string(op.action)); err != nil {
			return err
		}
		op.derive("settlement_code", stl.Code)
		return nil
	})
	return nil
}

// closeSettlementOf resolves the open settlement of the advance through the
// settlement's own approve or reject path
func (e *Engine) closeSettlementOf(ctx context.Context, op *operation) error {
	if op.cascaded {
		return nil
	}

	ca := op.doc.(*entity.CashAdvance)
	stl, err := e.repos.Settlements.FindOpen(ctx, ca.Code, true)
	if err != nil {
		return err
	}
	if stl == nil {
		return errs.Validation("%s has no open settlement", ca.Code)
	}

	action := domainwf.ActionApprove
	if op.action == domainwf.ActionSettlementReject {
		action = domainwf.ActionReject
	}

	sub := e.newOperation(e.kinds[entity.TypeSettlement], stl, action, op.payload, op.actor)
	sub.cascaded = true
	op.derive("settlement_code", stl.Code)
	op.afterUpdate(func(ctx context.Context) error {
		_, err := e.transition(ctx, sub)
		return err
	})
	return nil
}

func (e *Engine) settlementKind() *kind {
	repo := e.repos.Settlements
	return &kind{
		docType: entity.TypeSettlement,
		table:   domainwf.SettlementTable(),
		initial: domainwf.StateSubmitted,
		load: func(ctx context.Context, code string, forUpdate bool) (entity.Document, error) {
			return repo.Load(ctx, code, forUpdate)
		},
		update: func(ctx context.Context, doc entity.Document) error {
			return repo.Update(ctx, doc.(*entity.Settlement))
		},
		list: func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error) {
			items, total, err := repo.List(ctx, filter)
			return documents(items), total, err
		},
		insert: func(ctx context.Context, doc entity.Document) error {
			return repo.Create(ctx, doc.(*entity.Settlement))
		},
		name: func(doc entity.Document) string {
			return doc.(*entity.Settlement).CashAdvanceCode
		},
		actions: map[domainwf.Action]actionFunc{
			domainwf.ActionApprove: e.decideSettlement,
			domainwf.ActionReject:  e.decideSettlement,
		},
	}
}

// decideSettlement is the single path for approving or rejecting a
// settlement, whether requested on the settlement or on its cash advance.
// Approval completes the advance; rejection reopens it as active.
func (e *Engine) decideSettlement(ctx context.Context, op *operation) error {
	stl := op.doc.(*entity.Settlement)
	approve := op.action == domainwf.ActionApprove

	reason := op.payload.Text("reason")
	if !approve && !op.cascaded && reason == "" {
		return errs.Validation("a rejection reason is required")
	}

	now := op.now
	if approve {
		stl.ApprovedBy = op.actor.Code
		stl.ApprovedAt = &now
	} else {
		stl.RejectedBy = op.actor.Code
		stl.RejectedAt = &now
		stl.RejectionReason = reason
	}
	op.derive("cash_advance_code", stl.CashAdvanceCode)
	op.derive("remaining_amount", stl.RemainingAmount)

	if op.cascaded {
		return nil
	}

	caAction := domainwf.ActionSettlementApprove
	if !approve {
		caAction = domainwf.ActionSettlementReject
	}
	caKind := e.kinds[entity.TypeCashAdvance]
	ca, err := caKind.load(ctx, stl.CashAdvanceCode, true)
	if err != nil {
		return err
	}
	if err := notDeleted(ca, entity.TypeCashAdvance); err != nil {
		return err
	}
	if !caKind.table.Allows(domainwf.State(ca.Head().Status), caAction) {
		return errs.InvalidTransition("cannot %s %s in status %s", caAction, describe(entity.TypeCashAdvance, stl.CashAdvanceCode), ca.Head().Status)
	}

	sub := e.newOperation(caKind, ca, caAction, op.payload, op.actor)
	sub.cascaded = true
	op.afterUpdate(func(ctx context.Context) error {
		res, err := e.transition(ctx, sub)
		if err != nil {
			return err
		}
		op.derive("cash_advance_status", res.NewStatus)
		return nil
	})
	return nil
}
