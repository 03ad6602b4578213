// Package workflow drives business documents through their transition tables.
//
// Every mutating call runs in one store transaction: the document is loaded
// under lock, the requested action is checked against the document type's
// table, action preconditions are validated before anything is written, and
// the new status, derived fields, child rows and critical side effects are
// persisted together. Audit entries and events are emitted only after commit.
package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/finflow/internal/application/audit"
	"github.com/garyjia/finflow/internal/application/codegen"
	"github.com/garyjia/finflow/internal/application/dispatcher"
	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Repositories groups the stores the engine reads and writes
type Repositories struct {
	CashAdvances   port.CashAdvanceRepository
	Settlements    port.SettlementRepository
	Reimbursements port.ReimbursementRepository
	SalesOrders    port.SalesOrderRepository
	PurchaseOrders port.PurchaseOrderRepository
	DeliveryOrders port.DeliveryOrderRepository
	Payables       port.AccountsPayableRepository
	Ledger         port.DispatchLedger
	Idempotency    port.IdempotencyRepository
}

// Engine applies actions to workflow documents
type Engine struct {
	repos    Repositories
	tx       port.TransactionManager
	codes    *codegen.Generator
	effects  *sideeffect.Dispatcher
	recorder *audit.Recorder
	clock    port.Clock
	logger   Logger

	events          dispatcher.Dispatcher
	storage         port.FileStorage
	paymentTermDays int

	kinds map[entity.DocumentType]*kind
}

// EngineOption configures the workflow engine
type EngineOption func(*Engine)

// WithDispatcher publishes document events to d after each commit
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *Engine) {
		e.events = d
	}
}

// WithFileStorage enables proof and receipt paths, which must exist in fs
func WithFileStorage(fs port.FileStorage) EngineOption {
	return func(e *Engine) {
		e.storage = fs
	}
}

// WithPaymentTermDays sets the offset between an invoice date and its due date
func WithPaymentTermDays(days int) EngineOption {
	return func(e *Engine) {
		if days > 0 {
			e.paymentTermDays = days
		}
	}
}

// NewEngine creates a workflow engine and registers its side effects on effects
func NewEngine(
	repos Repositories,
	tx port.TransactionManager,
	codes *codegen.Generator,
	effects *sideeffect.Dispatcher,
	recorder *audit.Recorder,
	clock port.Clock,
	logger Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		repos:           repos,
		tx:              tx,
		codes:           codes,
		effects:         effects,
		recorder:        recorder,
		clock:           clock,
		logger:          logger,
		paymentTermDays: entity.DefaultPaymentTermDays,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.kinds = map[entity.DocumentType]*kind{
		entity.TypeCashAdvance:     e.cashAdvanceKind(),
		entity.TypeSettlement:      e.settlementKind(),
		entity.TypeReimbursement:   e.reimbursementKind(),
		entity.TypeSalesOrder:      e.salesOrderKind(),
		entity.TypePurchaseOrder:   e.purchaseOrderKind(),
		entity.TypeDeliveryOrder:   e.deliveryOrderKind(),
		entity.TypeAccountsPayable: e.accountsPayableKind(),
	}
	e.registerEffects()

	return e
}

// Table returns the transition table of a document type
func (e *Engine) Table(docType entity.DocumentType) (*domainwf.Table, error) {
	k, err := e.kindOf(docType)
	if err != nil {
		return nil, err
	}
	return k.table, nil
}

func (e *Engine) kindOf(docType entity.DocumentType) (*kind, error) {
	k, ok := e.kinds[docType]
	if !ok {
		return nil, errs.Validation("unknown document type %q", docType)
	}
	return k, nil
}

func requireActor(actor entity.Actor) error {
	if actor.Code == "" {
		return errs.Unauthorized("an authenticated actor is required")
	}
	return nil
}

// requireFile checks that an uploaded proof or receipt exists
func (e *Engine) requireFile(ctx context.Context, field, path string) error {
	if e.storage == nil {
		return errs.New(errs.KindDependencyUnavailable, "file storage is not configured")
	}
	if !e.storage.Exists(ctx, path) {
		return errs.Validation("%s %q does not refer to an uploaded file", field, path)
	}
	return nil
}

// CreateResult is returned by CreateDocument
type CreateResult struct {
	DocumentType entity.DocumentType `json:"document_type"`
	Code         string              `json:"code"`
	Status       string              `json:"status"`
	// Replayed is set when an idempotency key matched an earlier create
	Replayed bool `json:"replayed"`
}

// TransitionResult is returned by ApplyAction
type TransitionResult struct {
	Code           string                  `json:"code"`
	PreviousStatus string                  `json:"previous_status"`
	NewStatus      string                  `json:"new_status"`
	DerivedFields  map[string]interface{}  `json:"derived_fields,omitempty"`
	SideEffects    []sideeffect.SideEffect `json:"side_effects,omitempty"`
}

// DocumentView is a read-only projection of a document with its children
type DocumentView struct {
	DocumentType     entity.DocumentType      `json:"document_type"`
	Document         entity.Document          `json:"document"`
	PermittedActions []domainwf.Action        `json:"permitted_actions"`
	Dispatched       []*entity.DispatchRecord `json:"dispatched,omitempty"`
}

// Page selects a slice of a listing; Number starts at 1
type Page struct {
	Number int
	Size   int
}

// Pagination describes the slice returned by ListDocuments
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ListResult is one page of documents
type ListResult struct {
	Items      []entity.Document `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func notDeleted(doc entity.Document, docType entity.DocumentType) error {
	h := doc.Head()
	if h.IsDeleted {
		return errs.NotFound("%s %s not found", docType, h.Code)
	}
	return nil
}

func describe(docType entity.DocumentType, code string) string {
	return fmt.Sprintf("%s %s", docType, code)
}
