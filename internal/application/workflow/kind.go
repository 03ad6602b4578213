package workflow

import (
	"context"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// kind binds a document type to its table, store and action handlers
type kind struct {
	docType entity.DocumentType
	table   *domainwf.Table
	initial domainwf.State

	load   func(ctx context.Context, code string, forUpdate bool) (entity.Document, error)
	update func(ctx context.Context, doc entity.Document) error
	list   func(ctx context.Context, filter port.ListFilter) ([]entity.Document, int, error)
	insert func(ctx context.Context, doc entity.Document) error

	// build validates a create payload without writing; nil means the type is
	// only ever created by the workflow itself
	build func(ctx context.Context, p Payload) (entity.Document, error)
	// expand loads child records for a read projection
	expand func(ctx context.Context, doc entity.Document) error
	// canDelete adds type-specific delete checks beyond the state rule
	canDelete func(ctx context.Context, doc entity.Document) error
	name      func(doc entity.Document) string

	actions map[domainwf.Action]actionFunc
}

// actionFunc validates an action and stages its effects on op. It may read
// but must defer writes to op.afterUpdate.
type actionFunc func(ctx context.Context, op *operation) error

// deletableStates are the states a document may be soft-deleted from
var deletableStates = []domainwf.State{
	domainwf.StateDraft,
	domainwf.StateRejected,
	domainwf.StateOpen,
}

func (k *kind) deletable(state domainwf.State) bool {
	for _, s := range deletableStates {
		if s == state && k.table.Has(s) {
			return true
		}
	}
	return false
}

func (k *kind) resourceName(doc entity.Document) string {
	if k.name == nil {
		return ""
	}
	return k.name(doc)
}

// operation is one action being applied to one locked document
type operation struct {
	kind    *kind
	doc     entity.Document
	action  domainwf.Action
	payload Payload
	actor   entity.Actor
	now     time.Time

	// cascaded marks a transition performed on behalf of another document's
	// transition in the same transaction
	cascaded bool

	facts   domainwf.Facts
	derived map[string]interface{}
	writes  []func(ctx context.Context) error
}

func (e *Engine) newOperation(k *kind, doc entity.Document, action domainwf.Action, p Payload, actor entity.Actor) *operation {
	if p == nil {
		p = Payload{}
	}
	return &operation{
		kind:    k,
		doc:     doc,
		action:  action,
		payload: p,
		actor:   actor,
		now:     e.clock.Now(),
		derived: make(map[string]interface{}),
	}
}

func (op *operation) derive(key string, value interface{}) {
	op.derived[key] = value
}

// afterUpdate queues a write to run once the document itself is persisted
func (op *operation) afterUpdate(fn func(ctx context.Context) error) {
	op.writes = append(op.writes, fn)
}

func documents[T entity.Document](items []T) []entity.Document {
	out := make([]entity.Document, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
