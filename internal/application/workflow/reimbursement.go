package workflow

import (
	"context"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

func (e *Engine) reimbursementKind() *kind {
	repo := e.repos.Reimbursements
	return &kind{
		docType: entity.TypeReimbursement,
		table:   domainwf.ReimbursementTable(),
		initial: domainwf.StateDraft,
		load: func(ctx context.Context, code string, forUpdate bool) (entity.Document, error) {
			return repo.Load(ctx, code, forUpdate)
		},
		update: func(ctx context.Context, doc entity.Document) error {
			return repo.Update(ctx, doc.(*entity.Reimbursement))
		},
		list: func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error) {
			items, total, err := repo.List(ctx, filter)
			return documents(items), total, err
		},
		insert: func(ctx context.Context, doc entity.Document) error {
			return repo.Create(ctx, doc.(*entity.Reimbursement))
		},
		build: e.buildReimbursement,
		expand: func(ctx context.Context, doc entity.Document) error {
			rb := doc.(*entity.Reimbursement)
			items, err := repo.ListItems(ctx, rb.Code)
			if err != nil {
				return err
			}
			rb.Items = items
			return nil
		},
		name: func(doc entity.Document) string {
			return doc.(*entity.Reimbursement).Title
		},
		actions: map[domainwf.Action]actionFunc{
			domainwf.ActionSubmit:  requireCreator,
			domainwf.ActionApprove: approveReimbursement,
			domainwf.ActionReject:  rejectReimbursement,
		},
	}
}

func (e *Engine) buildReimbursement(ctx context.Context, p Payload) (entity.Document, error) {
	title, err := p.RequiredText("title")
	if err != nil {
		return nil, err
	}
	lines, err := p.List("items")
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errs.Validation("a reimbursement needs at least one item")
	}

	now := e.clock.Now()
	rb := &entity.Reimbursement{Title: title, TotalAmount: decimal.Zero}
	for i, line := range lines {
		description, err := line.RequiredText("description")
		if err != nil {
			return nil, itemError(i, err)
		}
		amount, err := line.Amount("amount")
		if err != nil {
			return nil, itemError(i, err)
		}
		date, err := line.Date("expense_date", now)
		if err != nil {
			return nil, itemError(i, err)
		}

		rb.Items = append(rb.Items, &entity.ReimbursementItem{
			Description:  description,
			Amount:       amount,
			CategoryCode: line.Text("category_code"),
			ExpenseDate:  date,
		})
		rb.TotalAmount = rb.TotalAmount.Add(amount)
	}
	if err := checkAmount("total_amount", rb.TotalAmount); err != nil {
		return nil, err
	}

	return rb, nil
}

func approveReimbursement(ctx context.Context, op *operation) error {
	account, err := op.payload.RequiredText("bank_account_code")
	if err != nil {
		return err
	}
	rb := op.doc.(*entity.Reimbursement)
	now := op.now
	rb.BankAccountCode = account
	rb.ApprovedBy = op.actor.Code
	rb.ApprovedAt = &now
	op.derive("bank_account_code", account)
	op.derive("total_amount", rb.TotalAmount)
	return nil
}

func rejectReimbursement(ctx context.Context, op *operation) error {
	reason, err := requireReason(op)
	if err != nil {
		return err
	}
	rb := op.doc.(*entity.Reimbursement)
	now := op.now
	rb.RejectedBy = op.actor.Code
	rb.RejectedAt = &now
	rb.RejectionReason = reason
	return nil
}

// itemError prefixes a line validation error with its 1-based position
func itemError(i int, err error) error {
	return errs.Validation("item %d: %s", i+1, errs.Message(err))
}
