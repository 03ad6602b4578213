package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/finflow/internal/application/audit"
	"github.com/garyjia/finflow/internal/application/codegen"
	"github.com/garyjia/finflow/internal/application/sideeffect"
	"github.com/garyjia/finflow/internal/application/workflow"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/garyjia/finflow/internal/infrastructure/auth"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/finflow/internal/infrastructure/storage"
	"github.com/garyjia/finflow/internal/testutil"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type apiHarness struct {
	handler http.Handler
	tokens  map[string]string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    errs.Kind       `json:"kind"`
}

func newAPI(t *testing.T, health HealthFunc) *apiHarness {
	t.Helper()

	db := testutil.NewSQLite(t)
	logger := zap.NewNop()
	clock := &testutil.FixedClock{T: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	repos := workflow.Repositories{
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
	files := storage.NewLocalFileStorage(t.TempDir(), logger)

	engine := workflow.NewEngine(
		repos,
		db,
		codegen.NewGenerator(repository.NewSequenceRepository(db, logger), clock),
		sideeffect.NewDispatcher(repos.Ledger, clock, nopLogger{}),
		audit.NewRecorder(repository.NewAuditRepository(db, logger), clock, nopLogger{}),
		clock,
		nopLogger{},
		workflow.WithFileStorage(files),
	)

	identity, err := auth.NewJWTProvider("0123456789abcdef0123456789abcdef", "finflow", time.Hour, clock)
	require.NoError(t, err)

	tokens := make(map[string]string)
	for _, actor := range []entity.Actor{{Code: "EMP-1", Name: "Dana Ortiz"}, {Code: "MGR-1", Name: "Lee Park"}} {
		token, err := identity.Issue(actor)
		require.NoError(t, err)
		tokens[actor.Code] = token
	}

	server := NewServer(DefaultServerConfig(), engine, identity, storage.NewUploader(files, 1024, logger), health, nopLogger{})
	return &apiHarness{handler: server.Router(), tokens: tokens}
}

func (a *apiHarness) do(t *testing.T, method, path, actor string, body interface{}, headers ...string) (int, envelope, http.Header) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[actor])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env, w.Header()
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestHealthCheck(t *testing.T) {
	api := newAPI(t, func(ctx context.Context) (bool, map[string]string) {
		return true, map[string]string{"database": "ok"}
	})

	status, env, headers := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.NotEmpty(t, headers.Get("X-Request-ID"))

	var health HealthResponse
	decode(t, env.Data, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Components["database"])

	down := newAPI(t, func(ctx context.Context) (bool, map[string]string) {
		return false, map[string]string{"database": "unreachable"}
	})
	status, env, _ = down.do(t, http.MethodGet, "/health", "", nil, "X-Request-ID", "health-1")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.False(t, env.Success)
}

func TestAuthentication(t *testing.T) {
	api := newAPI(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"invalid token", "Bearer not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := []string{}
			if tt.header != "" {
				headers = append(headers, "Authorization", tt.header)
			}
			status, env, _ := api.do(t, http.MethodGet, "/api/documents/cash_advance", "", nil, headers...)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, errs.KindUnauthorized, env.Kind)
		})
	}
}

func TestCashAdvanceOverHTTP(t *testing.T) {
	api := newAPI(t, nil)

	status, env, _ := api.do(t, http.MethodPost, "/api/documents/cash_advance", "EMP-1",
		map[string]interface{}{"purpose": "site visit", "total_amount": "1000"}, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusCreated, status, env.Error)

	var created workflow.CreateResult
	decode(t, env.Data, &created)
	assert.Equal(t, "CA-2026-0001", created.Code)
	assert.Equal(t, "draft", created.Status)

	status, env, _ = api.do(t, http.MethodPost, "/api/documents/cash_advance", "EMP-1",
		map[string]interface{}{"purpose": "site visit", "total_amount": "1000"}, "Idempotency-Key", "req-1")
	assert.Equal(t, http.StatusOK, status, "replayed create")
	decode(t, env.Data, &created)
	assert.True(t, created.Replayed)

	status, _, _ = api.do(t, http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/submit", "EMP-1", nil)
	require.Equal(t, http.StatusOK, status)
	status, _, _ = api.do(t, http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/approve", "MGR-1", nil)
	require.Equal(t, http.StatusOK, status)

	status, env, _ = api.do(t, http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/record_transaction", "EMP-1",
		`{"amount": 250.10, "description": "hotel"}`)
	require.Equal(t, http.StatusOK, status, env.Error)

	var result struct {
		PreviousStatus string                 `json:"previous_status"`
		NewStatus      string                 `json:"new_status"`
		DerivedFields  map[string]interface{} `json:"derived_fields"`
	}
	decode(t, env.Data, &result)
	assert.Equal(t, "active", result.PreviousStatus)
	assert.Equal(t, "partially_used", result.NewStatus)
	assert.Equal(t, "749.9", result.DerivedFields["remaining_amount"])

	status, env, _ = api.do(t, http.MethodGet, "/api/documents/cash_advance/CA-2026-0001", "MGR-1", nil)
	require.Equal(t, http.StatusOK, status)
	var view struct {
		Document struct {
			Status       string `json:"status"`
			Transactions []struct {
				Amount string `json:"amount"`
			} `json:"transactions"`
		} `json:"document"`
		PermittedActions []string `json:"permitted_actions"`
	}
	decode(t, env.Data, &view)
	assert.Equal(t, "partially_used", view.Document.Status)
	require.Len(t, view.Document.Transactions, 1)
	assert.Equal(t, "250.1", view.Document.Transactions[0].Amount)
	assert.Equal(t, []string{"record_transaction", "settle"}, view.PermittedActions)

	status, env, _ = api.do(t, http.MethodGet, "/api/documents/cash_advance/CA-2026-0001/audit", "MGR-1", nil)
	require.Equal(t, http.StatusOK, status)
	var trail []entity.AuditEntry
	decode(t, env.Data, &trail)
	require.Len(t, trail, 4)
	assert.Equal(t, "approve", trail[2].Action)
	assert.Equal(t, "MGR-1", trail[2].ActorCode)
	assert.Equal(t, "Lee Park", trail[2].ActorName)
}

func TestErrorMapping(t *testing.T) {
	api := newAPI(t, nil)

	status, _, _ := api.do(t, http.MethodPost, "/api/documents/cash_advance", "EMP-1",
		map[string]interface{}{"purpose": "x", "total_amount": "10"})
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		kind   errs.Kind
	}{
		{"unknown document", http.MethodGet, "/api/documents/cash_advance/CA-2026-0404", nil, http.StatusNotFound, errs.KindNotFound},
		{"unknown type", http.MethodGet, "/api/documents/invoice", nil, http.StatusBadRequest, errs.KindValidationFailed},
		{"malformed body", http.MethodPost, "/api/documents/cash_advance", `{"purpose":`, http.StatusBadRequest, errs.KindValidationFailed},
		{"array body", http.MethodPost, "/api/documents/cash_advance", `[1,2]`, http.StatusBadRequest, errs.KindValidationFailed},
		{"missing field", http.MethodPost, "/api/documents/cash_advance", map[string]interface{}{"purpose": "x"}, http.StatusBadRequest, errs.KindValidationFailed},
		{"illegal action", http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/approve", nil, http.StatusConflict, errs.KindInvalidTransition},
		{"unknown action", http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/teleport", nil, http.StatusConflict, errs.KindInvalidTransition},
		{"bad status filter", http.MethodGet, "/api/documents/cash_advance?status=paid", nil, http.StatusBadRequest, errs.KindValidationFailed},
		{"bad page", http.MethodGet, "/api/documents/cash_advance?page=abc", nil, http.StatusBadRequest, errs.KindValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env, _ := api.do(t, tt.method, tt.path, "EMP-1", tt.body)
			assert.Equal(t, tt.status, status, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.kind, env.Kind)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusFor(errs.KindUnauthorized))
	assert.Equal(t, http.StatusNotFound, StatusFor(errs.KindNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusFor(errs.KindValidationFailed))
	assert.Equal(t, http.StatusConflict, StatusFor(errs.KindInvalidTransition))
	assert.Equal(t, http.StatusConflict, StatusFor(errs.KindConflict))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(errs.KindTimeout))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(errs.KindDependencyUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errs.KindInternal))

	status, body := errorResponse(errors.New("pq: relation does not exist"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", body.Error, "internal detail is not exposed")
}

func TestListAndDelete(t *testing.T) {
	api := newAPI(t, nil)
	for _, customer := range []string{"Acme", "Globex", "Initech"} {
		status, _, _ := api.do(t, http.MethodPost, "/api/documents/sales_order", "EMP-1", map[string]interface{}{"customer_name": customer})
		require.Equal(t, http.StatusCreated, status)
	}

	status, env, _ := api.do(t, http.MethodDelete, "/api/documents/sales_order/SO-2026-0002", "EMP-1", nil)
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env, _ = api.do(t, http.MethodGet, "/api/documents/sales_order?page=1&page_size=2", "EMP-1", nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Items      []map[string]interface{} `json:"items"`
		Pagination workflow.Pagination      `json:"pagination"`
	}
	decode(t, env.Data, &list)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, workflow.Pagination{Page: 1, PageSize: 2, Total: 2, TotalPages: 1}, list.Pagination)

	status, env, _ = api.do(t, http.MethodGet, "/api/documents/sales_order?include_deleted=true", "EMP-1", nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, env.Data, &list)
	assert.Equal(t, 3, list.Pagination.Total)

	status, _, _ = api.do(t, http.MethodGet, "/api/documents/sales_order/SO-2026-0002", "EMP-1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env, _ = api.do(t, http.MethodGet, "/api/documents/sales_order/SO-2026-0002/audit", "EMP-1", nil)
	require.Equal(t, http.StatusOK, status, "audit trail survives deletion")
	var trail []entity.AuditEntry
	decode(t, env.Data, &trail)
	assert.Equal(t, "delete", trail[len(trail)-1].Action)
}

func TestGetWorkflow(t *testing.T) {
	api := newAPI(t, nil)

	status, env, _ := api.do(t, http.MethodGet, "/api/workflows/accounts_payable", "EMP-1", nil)
	require.Equal(t, http.StatusOK, status)

	var wf WorkflowResponse
	decode(t, env.Data, &wf)
	assert.Len(t, wf.States, 3)
	assert.Equal(t, "paid", string(wf.Terminal[0]))
	assert.Len(t, wf.Transitions, 3)
}

func multipartBody(t *testing.T, category, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if category != "" {
		require.NoError(t, mw.WriteField("category", category))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadAndSettle(t *testing.T) {
	api := newAPI(t, nil)

	upload := func(category, filename string, content []byte) (int, envelope) {
		body, contentType := multipartBody(t, category, filename, content)
		req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+api.tokens["EMP-1"])
		w := httptest.NewRecorder()
		api.handler.ServeHTTP(w, req)
		var env envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		return w.Code, env
	}

	status, env := upload("proofs", "transfer.pdf", []byte("%PDF-1.7 refund"))
	require.Equal(t, http.StatusCreated, status, env.Error)
	var uploaded UploadResponse
	decode(t, env.Data, &uploaded)
	assert.True(t, strings.HasPrefix(uploaded.Path, "proofs/"))

	status, env = upload("proofs", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errs.KindValidationFailed, env.Kind)

	status, _ = upload("proofs", "big.pdf", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = upload("secrets", "a.pdf", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = api.do(t, http.MethodPost, "/api/documents/cash_advance", "EMP-1", map[string]interface{}{"purpose": "trip", "total_amount": "100"})
	require.Equal(t, http.StatusCreated, status)
	api.do(t, http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/submit", "EMP-1", nil)
	api.do(t, http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/approve", "MGR-1", nil)

	status, env, _ = api.do(t, http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/settle", "EMP-1",
		map[string]interface{}{"refund_proof_path": "proofs/forged.pdf"})
	assert.Equal(t, http.StatusBadRequest, status, "proof must be an uploaded file")

	status, env, _ = api.do(t, http.MethodPost, "/api/documents/cash_advance/CA-2026-0001/actions/settle", "EMP-1",
		map[string]interface{}{"refund_proof_path": uploaded.Path})
	require.Equal(t, http.StatusOK, status, env.Error)
}
