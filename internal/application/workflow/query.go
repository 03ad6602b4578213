package workflow

import (
	"context"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// GetDocument returns a document with its child records, the actions its
// current status permits and the critical side effects already applied
func (e *Engine) GetDocument(ctx context.Context, docType entity.DocumentType, code string) (*DocumentView, error) {
	k, err := e.kindOf(docType)
	if err != nil {
		return nil, err
	}

	doc, err := k.load(ctx, code, false)
	if err != nil {
		return nil, err
	}
	if err := notDeleted(doc, docType); err != nil {
		return nil, err
	}

	if k.expand != nil {
		if err := k.expand(ctx, doc); err != nil {
			return nil, err
		}
	}

	dispatched, err := e.repos.Ledger.ListByDocument(ctx, docType.String(), code)
	if err != nil {
		return nil, err
	}

	return &DocumentView{
		DocumentType:     docType,
		Document:         doc,
		PermittedActions: k.table.Actions(domainwf.State(doc.Head().Status)),
		Dispatched:       dispatched,
	}, nil
}

// ListDocuments returns one page of documents of a type, newest first
func (e *Engine) ListDocuments(ctx context.Context, docType entity.DocumentType, filter port.ListFilter, page Page) (*ListResult, error) {
	k, err := e.kindOf(docType)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" && !k.table.Has(domainwf.State(filter.Status)) {
		return nil, errs.Validation("%q is not a %s status", filter.Status, docType)
	}

	page = page.normalize()
	filter.Limit = page.Size
	filter.Offset = (page.Number - 1) * page.Size

	items, total, err := k.list(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Items: items,
		Pagination: Pagination{
			Page:       page.Number,
			PageSize:   page.Size,
			Total:      total,
			TotalPages: (total + page.Size - 1) / page.Size,
		},
	}, nil
}

// AuditTrail returns the audit entries of a document, oldest first. The
// trail of a deleted document stays readable.
func (e *Engine) AuditTrail(ctx context.Context, docType entity.DocumentType, code string) ([]*entity.AuditEntry, error) {
	k, err := e.kindOf(docType)
	if err != nil {
		return nil, err
	}
	if _, err := k.load(ctx, code, false); err != nil {
		return nil, err
	}
	return e.recorder.Trail(ctx, docType.String(), code)
}
