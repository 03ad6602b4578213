package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/finflow/internal/application/audit"
	"github.com/garyjia/finflow/internal/application/codegen"
	"github.com/garyjia/finflow/internal/application/dispatcher"
	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/garyjia/finflow/internal/domain/event"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/finflow/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	employee = entity.Actor{Code: "EMP-1", Name: "Dana Ortiz"}
	manager  = entity.Actor{Code: "MGR-1", Name: "Lee Park"}
	finance  = entity.Actor{Code: "FIN-1", Name: "Sam Okafor"}
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memStorage) Save(ctx context.Context, path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	return nil
}

func (m *memStorage) Read(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, errs.NotFound("file %s not found", path)
	}
	return data, nil
}

func (m *memStorage) Exists(ctx context.Context, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *memStorage) GetFullPath(relativePath string) string {
	return "/uploads/" + relativePath
}

type harness struct {
	db      *sqldb.DB
	engine  *Engine
	repos   Repositories
	clock   *testutil.FixedClock
	files   *memStorage
	effects *sideeffect.Dispatcher
	events  dispatcher.Dispatcher
	audits  port.AuditRepository

	mu        sync.Mutex
	published []*event.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewSQLite(t)
	logger := zap.NewNop()
	clock := &testutil.FixedClock{T: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	repos := Repositories{
		CashAdvances:   repository.NewCashAdvanceRepository(db, logger),
		Settlements:    repository.NewSettlementRepository(db, logger),
		Reimbursements: repository.NewReimbursementRepository(db, logger),
		SalesOrders:    repository.NewSalesOrderRepository(db, logger),
		PurchaseOrders: repository.NewPurchaseOrderRepository(db, logger),
		DeliveryOrders: repository.NewDeliveryOrderRepository(db, logger),
		Payables:       repository.NewAccountsPayableRepository(db, logger),
		Ledger:         repository.NewDispatchLedgerRepository(db, logger),
		Idempotency:    repository.NewIdempotencyRepository(db, logger),
	}
	audits := repository.NewAuditRepository(db, logger)

	h := &harness{
		db:     db,
		repos:  repos,
		clock:  clock,
		files:  &memStorage{files: make(map[string][]byte)},
		audits: audits,
		events: dispatcher.NewDispatcher(),
	}
	h.events.SubscribeAll("collector", func(ctx context.Context, evt *event.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.published = append(h.published, evt)
		return nil
	})
	t.Cleanup(func() { _ = h.events.Close() })

	h.effects = sideeffect.NewDispatcher(repos.Ledger, clock, nopLogger{})
	h.engine = NewEngine(
		repos,
		db,
		codegen.NewGenerator(repository.NewSequenceRepository(db, logger), clock),
		h.effects,
		audit.NewRecorder(audits, clock, nopLogger{}),
		clock,
		nopLogger{},
		WithDispatcher(h.events),
		WithFileStorage(h.files),
	)
	return h
}

func (h *harness) create(t *testing.T, docType entity.DocumentType, p Payload, actor entity.Actor) string {
	t.Helper()
	res, err := h.engine.CreateDocument(context.Background(), docType, p, actor, "")
	require.NoError(t, err)
	return res.Code
}

func (h *harness) apply(t *testing.T, docType entity.DocumentType, code string, action domainwf.Action, p Payload, actor entity.Actor) *TransitionResult {
	t.Helper()
	res, err := h.engine.ApplyAction(context.Background(), docType, code, action, p, actor)
	require.NoError(t, err)
	return res
}

func (h *harness) cashAdvance(t *testing.T, code string) *entity.CashAdvance {
	t.Helper()
	ca, err := h.repos.CashAdvances.Load(context.Background(), code, false)
	require.NoError(t, err)
	require.NoError(t, ca.CheckBalance())
	return ca
}

func amount(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// activeAdvance walks a new cash advance of total to active
func (h *harness) activeAdvance(t *testing.T, total string) string {
	t.Helper()
	code := h.create(t, entity.TypeCashAdvance, Payload{"purpose": "site visit", "total_amount": total}, employee)
	h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSubmit, nil, employee)
	h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionApprove, nil, manager)
	return code
}

func TestCashAdvanceLifecycle(t *testing.T) {
	h := newHarness(t)

	// A: create, submit, approve
	code := h.activeAdvance(t, "1000000")
	assert.Equal(t, "CA-2026-0001", code)

	ca := h.cashAdvance(t, code)
	assert.Equal(t, "active", ca.Status)
	assert.True(t, ca.RemainingAmount.Equal(amount(1000000)))
	assert.Equal(t, manager.Code, ca.ApprovedBy)

	// B: partial use
	res := h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction,
		Payload{"amount": "400000", "description": "hotel"}, employee)
	assert.Equal(t, "active", res.PreviousStatus)
	assert.Equal(t, "partially_used", res.NewStatus)
	assert.True(t, res.DerivedFields["remaining_amount"].(decimal.Decimal).Equal(amount(600000)))

	ca = h.cashAdvance(t, code)
	assert.True(t, ca.UsedAmount.Equal(amount(400000)))
	assert.True(t, ca.RemainingAmount.Equal(amount(600000)))

	// C: exhaust
	res = h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction,
		Payload{"amount": 600000.0, "description": "flights"}, employee)
	assert.Equal(t, "fully_used", res.NewStatus)
	assert.True(t, h.cashAdvance(t, code).RemainingAmount.IsZero())

	// D: settle without proof, then approve the settlement
	res = h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSettle, nil, employee)
	assert.Equal(t, "in_settlement", res.NewStatus)
	assert.Equal(t, "STL-2026-0001", res.DerivedFields["settlement_code"])

	res = h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSettlementApprove, nil, finance)
	assert.Equal(t, "completed", res.NewStatus)

	stl, err := h.repos.Settlements.Load(context.Background(), "STL-2026-0001", false)
	require.NoError(t, err)
	assert.Equal(t, "approved", stl.Status)
	assert.Equal(t, finance.Code, stl.ApprovedBy)

	txns, err := h.repos.CashAdvances.ListTransactions(context.Background(), code)
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	trail, err := h.engine.AuditTrail(context.Background(), entity.TypeCashAdvance, code)
	require.NoError(t, err)
	var actions []string
	for _, entry := range trail {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{"create", "submit", "approve", "record_transaction", "record_transaction", "settle", "settlement_approve"}, actions)
}

func TestRejectRequiresReason(t *testing.T) {
	h := newHarness(t)
	code := h.create(t, entity.TypeCashAdvance, Payload{"purpose": "conference", "total_amount": "5000"}, employee)
	h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSubmit, nil, employee)

	// E: empty reason leaves the status unchanged
	_, err := h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionReject, Payload{"reason": "  "}, manager)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))
	assert.Equal(t, "submitted", h.cashAdvance(t, code).Status)

	res := h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionReject, Payload{"reason": "over budget"}, manager)
	assert.Equal(t, "rejected", res.NewStatus)

	ca := h.cashAdvance(t, code)
	assert.Equal(t, "over budget", ca.RejectionReason)
	assert.Equal(t, manager.Code, ca.RejectedBy)
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t)
	code := h.activeAdvance(t, "1000")

	_, err := h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionApprove, nil, manager)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err), "double approve")

	_, err = h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionDeliver, nil, manager)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err), "action from another table")

	_, err = h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, "teleport", nil, manager)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err), "unknown action")

	_, err = h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, "CA-2026-9999", domainwf.ActionSubmit, nil, employee)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = h.engine.ApplyAction(context.Background(), "invoice", code, domainwf.ActionSubmit, nil, employee)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))

	_, err = h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionSettle, nil, entity.Actor{})
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	assert.Equal(t, int64(3), h.cashAdvance(t, code).Version, "rejected actions must not write")
}

func TestSubmitRequiresCreator(t *testing.T) {
	h := newHarness(t)
	code := h.create(t, entity.TypeCashAdvance, Payload{"purpose": "training", "total_amount": "300"}, employee)

	_, err := h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionSubmit, nil, manager)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))
	assert.Equal(t, "draft", h.cashAdvance(t, code).Status)
}

func TestRecordTransactionValidation(t *testing.T) {
	h := newHarness(t)
	code := h.activeAdvance(t, "1000")

	tests := []struct {
		name    string
		payload Payload
	}{
		{"missing amount", Payload{"description": "taxi"}},
		{"zero amount", Payload{"amount": "0", "description": "taxi"}},
		{"negative amount", Payload{"amount": "-5", "description": "taxi"}},
		{"exceeds remaining", Payload{"amount": "1000.01", "description": "taxi"}},
		{"not a number", Payload{"amount": "ten", "description": "taxi"}},
		{"finer than four decimals", Payload{"amount": "0.00004", "description": "taxi"}},
		{"missing description", Payload{"amount": "10"}},
		{"unknown receipt", Payload{"amount": "10", "description": "taxi", "receipt_path": "receipts/nope.pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction, tt.payload, employee)
			assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err), "%v", err)
		})
	}

	ca := h.cashAdvance(t, code)
	assert.Equal(t, "active", ca.Status)
	assert.True(t, ca.UsedAmount.IsZero())

	require.NoError(t, h.files.Save(context.Background(), "receipts/taxi.pdf", []byte("%PDF")))
	res := h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction,
		Payload{"amount": "1000", "description": "taxi", "receipt_path": "receipts/taxi.pdf", "transaction_date": "2026-03-01"}, employee)
	assert.Equal(t, "fully_used", res.NewStatus)
	assert.NotZero(t, res.DerivedFields["transaction_id"])

	// no transactions once exhausted
	_, err := h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction,
		Payload{"amount": "1", "description": "tip"}, employee)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}

func TestConcurrentRecordTransaction(t *testing.T) {
	h := newHarness(t)
	code := h.activeAdvance(t, "1000")

	const workers = 15
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction,
				Payload{"amount": "100", "description": fmt.Sprintf("expense %d", i)}, employee)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		kind := errs.KindOf(err)
		assert.Contains(t, []errs.Kind{errs.KindValidationFailed, errs.KindInvalidTransition, errs.KindConflict}, kind, "%v", err)
	}
	assert.Equal(t, 10, succeeded)

	ca := h.cashAdvance(t, code)
	assert.Equal(t, "fully_used", ca.Status)
	assert.True(t, ca.UsedAmount.Equal(amount(1000)))
	assert.True(t, ca.RemainingAmount.IsZero())

	sum, err := h.repos.CashAdvances.SumTransactions(context.Background(), code)
	require.NoError(t, err)
	assert.True(t, sum.Equal(ca.UsedAmount))
}

func TestSettlementPaths(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.activeAdvance(t, "1000")
	h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction, Payload{"amount": "250", "description": "meals"}, employee)

	_, err := h.engine.ApplyAction(ctx, entity.TypeCashAdvance, code, domainwf.ActionSettle, nil, employee)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err), "refund proof is required while money remains")

	require.NoError(t, h.files.Save(ctx, "proofs/refund-1.png", []byte("png")))
	res := h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSettle, Payload{"refund_proof_path": "proofs/refund-1.png"}, employee)
	first := res.DerivedFields["settlement_code"].(string)

	stl, err := h.repos.Settlements.Load(ctx, first, false)
	require.NoError(t, err)
	assert.True(t, stl.RemainingAmount.Equal(amount(750)))
	assert.Equal(t, "proofs/refund-1.png", stl.RefundProofPath)

	// rejecting on the settlement needs a reason and reopens the advance
	_, err = h.engine.ApplyAction(ctx, entity.TypeSettlement, first, domainwf.ActionReject, nil, finance)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))

	res = h.apply(t, entity.TypeSettlement, first, domainwf.ActionReject, Payload{"reason": "proof unreadable"}, finance)
	assert.Equal(t, "rejected", res.NewStatus)
	assert.Equal(t, "active", res.DerivedFields["cash_advance_status"])
	assert.Equal(t, "active", h.cashAdvance(t, code).Status)

	// settle again and approve through the cash advance
	res = h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSettle, Payload{"refund_proof_path": "proofs/refund-1.png"}, employee)
	second := res.DerivedFields["settlement_code"].(string)
	assert.NotEqual(t, first, second)

	res = h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSettlementApprove, nil, finance)
	assert.Equal(t, "completed", res.NewStatus)
	assert.Equal(t, second, res.DerivedFields["settlement_code"])

	stl, err = h.repos.Settlements.Load(ctx, second, false)
	require.NoError(t, err)
	assert.Equal(t, "approved", stl.Status)

	// the settlement is closed, so approving it directly is no longer legal
	_, err = h.engine.ApplyAction(ctx, entity.TypeSettlement, second, domainwf.ActionApprove, nil, finance)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}

func TestSettlementRejectFromAdvance(t *testing.T) {
	h := newHarness(t)
	code := h.activeAdvance(t, "100")
	h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction, Payload{"amount": "100", "description": "parts"}, employee)
	res := h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSettle, nil, employee)
	stlCode := res.DerivedFields["settlement_code"].(string)

	res = h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSettlementReject, nil, finance)
	assert.Equal(t, "active", res.NewStatus)

	stl, err := h.repos.Settlements.Load(context.Background(), stlCode, false)
	require.NoError(t, err)
	assert.Equal(t, "rejected", stl.Status)
	assert.Equal(t, finance.Code, stl.RejectedBy)

	_, err = h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionSettlementApprove, nil, finance)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))
}

func TestCreateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := Payload{"purpose": "team offsite", "total_amount": "2000"}

	first, err := h.engine.CreateDocument(ctx, entity.TypeCashAdvance, p, employee, "req-42")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := h.engine.CreateDocument(ctx, entity.TypeCashAdvance, p, employee, "req-42")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Code, second.Code)

	list, err := h.engine.ListDocuments(ctx, entity.TypeCashAdvance, port.ListFilter{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Pagination.Total)

	_, err = h.engine.CreateDocument(ctx, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee, "req-42")
	assert.Equal(t, errs.KindConflict, errs.KindOf(err), "a key belongs to one document type")
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		docType entity.DocumentType
		payload Payload
		kind    errs.Kind
	}{
		{"advance without purpose", entity.TypeCashAdvance, Payload{"total_amount": "10"}, errs.KindValidationFailed},
		{"advance with zero total", entity.TypeCashAdvance, Payload{"purpose": "x", "total_amount": "0"}, errs.KindValidationFailed},
		{"reimbursement without items", entity.TypeReimbursement, Payload{"title": "march"}, errs.KindValidationFailed},
		{"reimbursement with bad item", entity.TypeReimbursement, Payload{"title": "march", "items": []interface{}{
			map[string]interface{}{"description": "lunch", "amount": "-3"},
		}}, errs.KindValidationFailed},
		{"purchase order for unknown sales order", entity.TypePurchaseOrder, Payload{
			"sales_order_code": "SO-2026-0404", "supplier_name": "Parts Co",
			"items": []interface{}{map[string]interface{}{"description": "bolts", "quantity": "10", "unit_price": "2"}},
		}, errs.KindNotFound},
		{"advance total finer than four decimals", entity.TypeCashAdvance, Payload{"purpose": "x", "total_amount": "10.00001"}, errs.KindValidationFailed},
		{"advance total past sixteen integer digits", entity.TypeCashAdvance, Payload{"purpose": "x", "total_amount": "10000000000000000"}, errs.KindValidationFailed},
		{"purchase order total past sixteen integer digits", entity.TypePurchaseOrder, Payload{
			"sales_order_code": "SO-2026-0404", "supplier_name": "Parts Co",
			"items": []interface{}{map[string]interface{}{"description": "bolts", "quantity": "9999999999", "unit_price": "9999999"}},
		}, errs.KindValidationFailed},
		{"settlements come from settle", entity.TypeSettlement, Payload{}, errs.KindValidationFailed},
		{"unknown type", "invoice", Payload{}, errs.KindValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.CreateDocument(ctx, tt.docType, tt.payload, employee, "")
			assert.Equal(t, tt.kind, errs.KindOf(err), "%v", err)
		})
	}

	// nothing consumed a code
	code := h.create(t, entity.TypeCashAdvance, Payload{"purpose": "x", "total_amount": "1"}, employee)
	assert.Equal(t, "CA-2026-0001", code)

	// trailing zeros past the fourth place are not extra precision
	code = h.create(t, entity.TypeCashAdvance, Payload{"purpose": "x", "total_amount": "9999999999999999.99990"}, employee)
	assert.True(t, h.cashAdvance(t, code).TotalAmount.Equal(decimal.RequireFromString("9999999999999999.9999")))
}

func TestReimbursementFlow(t *testing.T) {
	h := newHarness(t)
	code := h.create(t, entity.TypeReimbursement, Payload{
		"title": "client dinner",
		"items": []interface{}{
			map[string]interface{}{"description": "dinner", "amount": "120.50", "category_code": "MEALS", "expense_date": "2026-02-27"},
			map[string]interface{}{"description": "taxi", "amount": 29.5},
		},
	}, employee)
	h.apply(t, entity.TypeReimbursement, code, domainwf.ActionSubmit, nil, employee)

	_, err := h.engine.ApplyAction(context.Background(), entity.TypeReimbursement, code, domainwf.ActionApprove, nil, finance)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err), "bank account is required")

	res := h.apply(t, entity.TypeReimbursement, code, domainwf.ActionApprove, Payload{"bank_account_code": "BANK-01"}, finance)
	assert.Equal(t, "approved", res.NewStatus)

	view, err := h.engine.GetDocument(context.Background(), entity.TypeReimbursement, code)
	require.NoError(t, err)
	rb := view.Document.(*entity.Reimbursement)
	assert.True(t, rb.TotalAmount.Equal(decimal.RequireFromString("150")))
	assert.Equal(t, "BANK-01", rb.BankAccountCode)
	assert.Len(t, rb.Items, 2)
	assert.Empty(t, view.PermittedActions)
}

// purchaseOrder creates a submitted purchase order under soCode
func (h *harness) purchaseOrder(t *testing.T, soCode string) string {
	t.Helper()
	code := h.create(t, entity.TypePurchaseOrder, Payload{
		"sales_order_code": soCode,
		"supplier_name":    "Parts Co",
		"items": []interface{}{
			map[string]interface{}{"description": "bolts", "quantity": "100", "unit_price": "0.25"},
			map[string]interface{}{"description": "nuts", "quantity": "100", "unit_price": "0.15"},
		},
	}, employee)
	h.apply(t, entity.TypePurchaseOrder, code, domainwf.ActionSubmit, nil, employee)
	return code
}

func TestPurchaseOrderApprovalSpawnsDocumentsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme", "total_amount": "100"}, employee)
	po := h.purchaseOrder(t, so)

	res := h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)
	assert.Equal(t, "approved_manager", res.NewStatus)
	assert.Equal(t, "manager", res.DerivedFields["approval_level"])

	// F: finance approval spawns one delivery order and one payable
	res = h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, finance)
	assert.Equal(t, "approved_finance", res.NewStatus)

	var spawned *sideeffect.SideEffect
	for i := range res.SideEffects {
		if res.SideEffects[i].Name == EffectSpawnDeliveryAndPayable {
			spawned = &res.SideEffects[i]
		}
	}
	require.NotNil(t, spawned)
	assert.Equal(t, sideeffect.StatusApplied, spawned.Status)
	assert.Equal(t, []string{"DO-2026-0001", "AP-2026-0001"}, spawned.Documents)

	// a retried dispatch of the same transition creates nothing
	err := h.db.WithTransaction(ctx, func(txCtx context.Context) error {
		again, err := h.effects.OnTransition(txCtx, sideeffect.Transition{
			DocumentType: entity.TypePurchaseOrder,
			DocumentCode: po,
			Action:       domainwf.ActionApprove,
			From:         domainwf.StateApprovedManager,
			To:           domainwf.StateApprovedFinance,
			Actor:        finance,
			At:           h.clock.Now(),
		})
		if err != nil {
			return err
		}
		assert.Equal(t, sideeffect.StatusAlreadyApplied, again[0].Status)
		return nil
	})
	require.NoError(t, err)

	replayed, err := h.engine.ReplayPendingEffects(ctx, 50)
	require.NoError(t, err)
	assert.Zero(t, replayed)

	dos, err := h.repos.DeliveryOrders.ListByPurchaseOrder(ctx, po)
	require.NoError(t, err)
	assert.Len(t, dos, 1)
	assert.Equal(t, "shipping", dos[0].Status)

	aps, err := h.repos.Payables.ListByPurchaseOrder(ctx, po)
	require.NoError(t, err)
	require.Len(t, aps, 1)
	assert.Equal(t, "unpaid", aps[0].Status)
	assert.True(t, aps[0].Amount.Equal(decimal.RequireFromString("40")))
	assert.True(t, aps[0].DueDate.Equal(aps[0].InvoiceDate.AddDate(0, 0, 30)))

	view, err := h.engine.GetDocument(ctx, entity.TypePurchaseOrder, po)
	require.NoError(t, err)
	require.Len(t, view.Dispatched, 1)
	assert.Equal(t, EffectSpawnDeliveryAndPayable, view.Dispatched[0].EffectName)

	applied := h.appliedEvents(t)
	require.Len(t, applied, 1)
	assert.Equal(t, po, applied[0].DocumentCode)
	assert.Equal(t, finance.Code, applied[0].ActorCode)
	assert.Equal(t, EffectSpawnDeliveryAndPayable, applied[0].GetPayloadString("effect"))
	assert.Equal(t, []string{"DO-2026-0001", "AP-2026-0001"}, applied[0].Payload["documents"])
}

// appliedEvents drains the event bus and returns the side_effect.applied
// events it carried
func (h *harness) appliedEvents(t *testing.T) []*event.Event {
	t.Helper()
	require.NoError(t, h.events.Close())

	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*event.Event
	for _, evt := range h.published {
		if evt.Type == event.TypeSideEffectApplied {
			out = append(out, evt)
		}
	}
	return out
}

// forgetSpawn removes the delivery order, payable and ledger row spawned for
// po, leaving it approved_finance as if the effect never committed
func (h *harness) forgetSpawn(t *testing.T, po string) {
	t.Helper()
	ctx := context.Background()
	dos, err := h.repos.DeliveryOrders.ListByPurchaseOrder(ctx, po)
	require.NoError(t, err)

	err = h.db.WithTransaction(ctx, func(txCtx context.Context) error {
		stmts := []string{
			"DELETE FROM delivery_order_lines WHERE purchase_order_code = ?",
			"DELETE FROM accounts_payables WHERE purchase_order_code = ?",
			"DELETE FROM dispatch_ledger WHERE document_code = ?",
		}
		for _, stmt := range stmts {
			if _, err := h.db.Exec(txCtx, stmt, po); err != nil {
				return err
			}
		}
		for _, do := range dos {
			if _, err := h.db.Exec(txCtx, "DELETE FROM delivery_orders WHERE code = ?", do.Code); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestReplayPendingEffectsDrainsBacklog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)

	var pos []string
	for i := 0; i < 4; i++ {
		po := h.purchaseOrder(t, so)
		h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)
		h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, finance)
		pos = append(pos, po)
	}

	// the two oldest sit behind two newer, fully dispatched orders
	h.forgetSpawn(t, pos[0])
	h.forgetSpawn(t, pos[1])

	for pass := 1; pass <= 2; pass++ {
		replayed, err := h.engine.ReplayPendingEffects(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, replayed, "pass %d", pass)
	}
	replayed, err := h.engine.ReplayPendingEffects(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, replayed, "backlog drained")

	for _, po := range pos {
		records, err := h.repos.Ledger.ListByDocument(ctx, entity.TypePurchaseOrder.String(), po)
		require.NoError(t, err)
		assert.Len(t, records, 1, po)

		dos, err := h.repos.DeliveryOrders.ListByPurchaseOrder(ctx, po)
		require.NoError(t, err)
		assert.Len(t, dos, 1, po)

		aps, err := h.repos.Payables.ListByPurchaseOrder(ctx, po)
		require.NoError(t, err)
		assert.Len(t, aps, 1, po)
	}

	var replayedCodes []string
	for _, evt := range h.appliedEvents(t) {
		if evt.ActorCode == entity.SystemActor.Code {
			replayedCodes = append(replayedCodes, evt.DocumentCode)
		}
	}
	assert.ElementsMatch(t, []string{pos[0], pos[1]}, replayedCodes)
}

func TestRepeatedApproveIsRejected(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, h *harness) (entity.DocumentType, string)
		first   entity.Actor
		repeat  entity.Actor
		status  string
	}{
		{
			name: "cash advance",
			prepare: func(t *testing.T, h *harness) (entity.DocumentType, string) {
				code := h.create(t, entity.TypeCashAdvance, Payload{"purpose": "trip", "total_amount": "300"}, employee)
				h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionSubmit, nil, employee)
				return entity.TypeCashAdvance, code
			},
			first:  manager,
			repeat: manager,
			status: "active",
		},
		{
			name: "purchase order manager level by the same actor",
			prepare: func(t *testing.T, h *harness) (entity.DocumentType, string) {
				so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)
				return entity.TypePurchaseOrder, h.purchaseOrder(t, so)
			},
			first:  manager,
			repeat: manager,
			status: "approved_manager",
		},
		{
			name: "purchase order finance level",
			prepare: func(t *testing.T, h *harness) (entity.DocumentType, string) {
				so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)
				po := h.purchaseOrder(t, so)
				h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)
				return entity.TypePurchaseOrder, po
			},
			first:  finance,
			repeat: finance,
			status: "approved_finance",
		},
		{
			name: "reimbursement",
			prepare: func(t *testing.T, h *harness) (entity.DocumentType, string) {
				code := h.create(t, entity.TypeReimbursement, Payload{
					"title": "taxi",
					"items": []interface{}{map[string]interface{}{"description": "taxi", "amount": "20"}},
				}, employee)
				h.apply(t, entity.TypeReimbursement, code, domainwf.ActionSubmit, nil, employee)
				return entity.TypeReimbursement, code
			},
			first:  finance,
			repeat: finance,
			status: "approved",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			docType, code := tt.prepare(t, h)
			approval := Payload{"bank_account_code": "BANK-01"}

			res := h.apply(t, docType, code, domainwf.ActionApprove, approval, tt.first)
			assert.Equal(t, tt.status, res.NewStatus)

			_, err := h.engine.ApplyAction(ctx, docType, code, domainwf.ActionApprove, approval, tt.repeat)
			assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))

			view, err := h.engine.GetDocument(ctx, docType, code)
			require.NoError(t, err)
			assert.Equal(t, tt.status, view.Document.Head().Status, "repeat must not move the document")
		})
	}

	t.Run("purchase order repeat spawns nothing", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)
		po := h.purchaseOrder(t, so)

		h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)
		_, err := h.engine.ApplyAction(ctx, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)
		require.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))

		dos, err := h.repos.DeliveryOrders.ListByPurchaseOrder(ctx, po)
		require.NoError(t, err)
		assert.Empty(t, dos)
		aps, err := h.repos.Payables.ListByPurchaseOrder(ctx, po)
		require.NoError(t, err)
		assert.Empty(t, aps)

		res := h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, finance)
		assert.Equal(t, "approved_finance", res.NewStatus)
	})
}

func TestCriticalEffectFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)
	po := h.purchaseOrder(t, so)
	h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)

	h.effects.Register(entity.TypePurchaseOrder, domainwf.StateApprovedFinance, sideeffect.Effect{
		Name:     "notify_treasury",
		Critical: true,
		Apply: func(ctx context.Context, t sideeffect.Transition) ([]string, error) {
			return nil, errs.New(errs.KindDependencyUnavailable, "treasury gateway down")
		},
	})

	_, err := h.engine.ApplyAction(ctx, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, finance)
	assert.Equal(t, errs.KindDependencyUnavailable, errs.KindOf(err))

	loaded, err := h.repos.PurchaseOrders.Load(ctx, po, false)
	require.NoError(t, err)
	assert.Equal(t, "approved_manager", loaded.Status)

	dos, err := h.repos.DeliveryOrders.ListByPurchaseOrder(ctx, po)
	require.NoError(t, err)
	assert.Empty(t, dos)

	records, err := h.repos.Ledger.ListByDocument(ctx, "purchase_order", po)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeliveryAdvancesSalesOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)
	first := h.purchaseOrder(t, so)
	second := h.purchaseOrder(t, so)

	for _, po := range []string{first, second} {
		h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)
		h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, finance)
	}

	_, err := h.engine.ApplyAction(ctx, entity.TypeSalesOrder, so, domainwf.ActionStartInvoicing, nil, finance)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err), "nothing delivered yet")

	doFirst, err := h.repos.DeliveryOrders.ListByPurchaseOrder(ctx, first)
	require.NoError(t, err)
	doSecond, err := h.repos.DeliveryOrders.ListByPurchaseOrder(ctx, second)
	require.NoError(t, err)

	h.apply(t, entity.TypeDeliveryOrder, doFirst[0].Code, domainwf.ActionDeliver, nil, employee)

	loaded, err := h.repos.PurchaseOrders.Load(ctx, first, false)
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryStatusDelivered, loaded.DeliveryStatus)

	order, err := h.repos.SalesOrders.Load(ctx, so, false)
	require.NoError(t, err)
	assert.Equal(t, "open", order.Status, "one purchase order is still in transit")

	res := h.apply(t, entity.TypeDeliveryOrder, doSecond[0].Code, domainwf.ActionDeliver, nil, employee)
	require.Len(t, res.SideEffects, 2)
	assert.Contains(t, res.SideEffects[0].Documents, so)

	order, err = h.repos.SalesOrders.Load(ctx, so, false)
	require.NoError(t, err)
	assert.Equal(t, "invoicing", order.Status)
	assert.NotNil(t, order.InvoicingAt)

	trail, err := h.engine.AuditTrail(ctx, entity.TypeSalesOrder, so)
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, "start_invoicing", last.Action)
	assert.Equal(t, entity.SystemActor.Code, last.ActorCode)
}

func TestDeleteDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft := h.create(t, entity.TypeCashAdvance, Payload{"purpose": "x", "total_amount": "10"}, employee)
	require.NoError(t, h.engine.DeleteDocument(ctx, entity.TypeCashAdvance, draft, employee))

	_, err := h.engine.GetDocument(ctx, entity.TypeCashAdvance, draft)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	_, err = h.engine.ApplyAction(ctx, entity.TypeCashAdvance, draft, domainwf.ActionSubmit, nil, employee)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	err = h.engine.DeleteDocument(ctx, entity.TypeCashAdvance, draft, employee)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	trail, err := h.engine.AuditTrail(ctx, entity.TypeCashAdvance, draft)
	require.NoError(t, err)
	assert.Equal(t, "delete", trail[len(trail)-1].Action)

	active := h.activeAdvance(t, "10")
	err = h.engine.DeleteDocument(ctx, entity.TypeCashAdvance, active, employee)
	assert.Equal(t, errs.KindInvalidTransition, errs.KindOf(err))

	so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)
	h.purchaseOrder(t, so)
	err = h.engine.DeleteDocument(ctx, entity.TypeSalesOrder, so, employee)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))

	empty := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Globex"}, employee)
	require.NoError(t, h.engine.DeleteDocument(ctx, entity.TypeSalesOrder, empty, employee))

	list, err := h.engine.ListDocuments(ctx, entity.TypeCashAdvance, port.ListFilter{}, Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Pagination.Total)

	list, err = h.engine.ListDocuments(ctx, entity.TypeCashAdvance, port.ListFilter{IncludeDeleted: true}, Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Pagination.Total)
}

func TestListDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.create(t, entity.TypeSalesOrder, Payload{"customer_name": fmt.Sprintf("customer %d", i)}, employee)
	}

	list, err := h.engine.ListDocuments(ctx, entity.TypeSalesOrder, port.ListFilter{Status: "open"}, Page{Number: 2, Size: 2})
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, Pagination{Page: 2, PageSize: 2, Total: 5, TotalPages: 3}, list.Pagination)

	_, err = h.engine.ListDocuments(ctx, entity.TypeSalesOrder, port.ListFilter{Status: "shipping"}, Page{})
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))
}

func TestSweepOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	so := h.create(t, entity.TypeSalesOrder, Payload{"customer_name": "Acme"}, employee)
	po := h.purchaseOrder(t, so)
	h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, manager)
	h.apply(t, entity.TypePurchaseOrder, po, domainwf.ActionApprove, nil, finance)

	marked, err := h.engine.SweepOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, marked)

	_, err = h.engine.ApplyAction(ctx, entity.TypeAccountsPayable, "AP-2026-0001", domainwf.ActionMarkOverdue, nil, finance)
	assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err), "not due yet")

	h.clock.Advance(31 * 24 * time.Hour)
	marked, err = h.engine.SweepOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	res := h.apply(t, entity.TypeAccountsPayable, "AP-2026-0001", domainwf.ActionPay, nil, finance)
	assert.Equal(t, "overdue", res.PreviousStatus)
	assert.Equal(t, "paid", res.NewStatus)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	h := newHarness(t)
	code := h.activeAdvance(t, "500")

	_, err := h.engine.ApplyAction(context.Background(), entity.TypeCashAdvance, code, domainwf.ActionReject, Payload{"reason": "late"}, manager)
	require.Error(t, err)

	require.NoError(t, h.events.Close())

	h.mu.Lock()
	defer h.mu.Unlock()
	var transitions []string
	created := 0
	for _, evt := range h.published {
		switch evt.Type {
		case event.TypeDocumentTransitioned:
			transitions = append(transitions, evt.Action)
		case event.TypeDocumentCreated:
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.ElementsMatch(t, []string{"submit", "approve"}, transitions, "failed actions publish nothing")
}

func TestBalanceHoldsAtEveryStep(t *testing.T) {
	h := newHarness(t)
	code := h.activeAdvance(t, "99.99")

	for _, amt := range []string{"0.01", "33.33", "33.33", "33.32"} {
		h.apply(t, entity.TypeCashAdvance, code, domainwf.ActionRecordTransaction, Payload{"amount": amt, "description": "split"}, employee)
		h.cashAdvance(t, code)
	}
	assert.Equal(t, "fully_used", h.cashAdvance(t, code).Status)
}
