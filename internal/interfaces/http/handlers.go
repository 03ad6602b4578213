package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/application/workflow"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

const headerIdempotencyKey = "Idempotency-Key"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine   Engine
	uploader Uploader
	health   HealthFunc
	version  string
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine Engine, uploader Uploader, health HealthFunc, version string, logger Logger) *Handlers {
	return &Handlers{
		engine:   engine,
		uploader: uploader,
		health:   health,
		version:  version,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// TransitionView is one permitted move of a workflow table
type TransitionView struct {
	From    domainwf.State   `json:"from"`
	Action  domainwf.Action  `json:"action"`
	Targets []domainwf.State `json:"targets"`
}

// WorkflowResponse describes a document type's transition table
type WorkflowResponse struct {
	DocumentType entity.DocumentType `json:"document_type"`
	States       []domainwf.State    `json:"states"`
	Terminal     []domainwf.State    `json:"terminal"`
	Transitions  []TransitionView    `json:"transitions"`
}

// UploadResponse returns the path to reference from a document payload
type UploadResponse struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

// ListDocumentsRequest represents query parameters for listing documents
type ListDocumentsRequest struct {
	Status         string `form:"status"`
	CreatedBy      string `form:"created_by"`
	IncludeDeleted bool   `form:"include_deleted"`
	Page           int    `form:"page"`
	PageSize       int    `form:"page_size"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}

	status := http.StatusOK
	if h.health != nil {
		ok, components := h.health(c.Request.Context())
		response.Components = components
		if !ok {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// GetWorkflow handles GET /api/workflows/:type
func (h *Handlers) GetWorkflow(c *gin.Context) {
	docType := entity.DocumentType(c.Param("type"))
	table, err := h.engine.Table(docType)
	if err != nil {
		h.fail(c, "Failed to get workflow", err)
		return
	}

	response := WorkflowResponse{
		DocumentType: docType,
		States:       table.States(),
		Terminal:     []domainwf.State{},
		Transitions:  []TransitionView{},
	}
	for _, s := range response.States {
		if table.IsTerminal(s) {
			response.Terminal = append(response.Terminal, s)
		}
	}
	for _, p := range table.Pairs() {
		if p.Allowed {
			response.Transitions = append(response.Transitions, TransitionView{From: p.From, Action: p.Action, Targets: p.Targets})
		}
	}

	respond(c, http.StatusOK, response)
}

// CreateDocument handles POST /api/documents/:type
func (h *Handlers) CreateDocument(c *gin.Context) {
	payload, err := decodePayload(c)
	if err != nil {
		h.fail(c, "Invalid request body", err)
		return
	}

	actor, _ := actorFrom(c)
	docType := entity.DocumentType(c.Param("type"))
	result, err := h.engine.CreateDocument(c.Request.Context(), docType, payload, actor, c.GetHeader(headerIdempotencyKey))
	if err != nil {
		h.fail(c, "Failed to create document", err, "document_type", docType)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respond(c, status, result)
}

// ListDocuments handles GET /api/documents/:type
func (h *Handlers) ListDocuments(c *gin.Context) {
	var req ListDocumentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, "Invalid query parameters", errs.Validation("invalid query parameters"))
		return
	}

	filter := port.ListFilter{
		Status:         req.Status,
		CreatedBy:      req.CreatedBy,
		IncludeDeleted: req.IncludeDeleted,
	}
	docType := entity.DocumentType(c.Param("type"))
	result, err := h.engine.ListDocuments(c.Request.Context(), docType, filter, workflow.Page{Number: req.Page, Size: req.PageSize})
	if err != nil {
		h.fail(c, "Failed to list documents", err, "document_type", docType)
		return
	}

	respond(c, http.StatusOK, result)
}

// GetDocument handles GET /api/documents/:type/:code
func (h *Handlers) GetDocument(c *gin.Context) {
	docType := entity.DocumentType(c.Param("type"))
	code := c.Param("code")

	view, err := h.engine.GetDocument(c.Request.Context(), docType, code)
	if err != nil {
		h.fail(c, "Failed to get document", err, "document_type", docType, "document_code", code)
		return
	}

	respond(c, http.StatusOK, view)
}

// DeleteDocument handles DELETE /api/documents/:type/:code
func (h *Handlers) DeleteDocument(c *gin.Context) {
	docType := entity.DocumentType(c.Param("type"))
	code := c.Param("code")
	actor, _ := actorFrom(c)

	if err := h.engine.DeleteDocument(c.Request.Context(), docType, code, actor); err != nil {
		h.fail(c, "Failed to delete document", err, "document_type", docType, "document_code", code)
		return
	}

	respond(c, http.StatusOK, gin.H{"code": code, "deleted": true})
}

// ApplyAction handles POST /api/documents/:type/:code/actions/:action
func (h *Handlers) ApplyAction(c *gin.Context) {
	payload, err := decodePayload(c)
	if err != nil {
		h.fail(c, "Invalid request body", err)
		return
	}

	docType := entity.DocumentType(c.Param("type"))
	code := c.Param("code")
	action := domainwf.Action(c.Param("action"))
	actor, _ := actorFrom(c)

	result, err := h.engine.ApplyAction(c.Request.Context(), docType, code, action, payload, actor)
	if err != nil {
		h.fail(c, "Failed to apply action", err,
			"document_type", docType,
			"document_code", code,
			"action", action,
		)
		return
	}

	respond(c, http.StatusOK, result)
}

// AuditTrail handles GET /api/documents/:type/:code/audit
func (h *Handlers) AuditTrail(c *gin.Context) {
	docType := entity.DocumentType(c.Param("type"))
	code := c.Param("code")

	entries, err := h.engine.AuditTrail(c.Request.Context(), docType, code)
	if err != nil {
		h.fail(c, "Failed to get audit trail", err, "document_type", docType, "document_code", code)
		return
	}
	if entries == nil {
		entries = []*entity.AuditEntry{}
	}

	respond(c, http.StatusOK, entries)
}

// Upload handles POST /api/uploads (multipart: file, category)
func (h *Handlers) Upload(c *gin.Context) {
	if h.uploader == nil {
		h.fail(c, "Upload rejected", errs.New(errs.KindDependencyUnavailable, "file storage is not configured"))
		return
	}

	// room for the multipart envelope around the file
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploader.MaxSize()+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		h.fail(c, "Upload rejected", errs.Validation("a file part is required"))
		return
	}
	if header.Size > h.uploader.MaxSize() {
		h.fail(c, "Upload rejected", errs.Validation("uploaded file exceeds %d bytes", h.uploader.MaxSize()))
		return
	}

	f, err := header.Open()
	if err != nil {
		h.fail(c, "Upload rejected", errs.Wrap(err, errs.KindValidationFailed, "unreadable file part"))
		return
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, h.uploader.MaxSize()+1))
	if err != nil {
		h.fail(c, "Upload rejected", errs.Wrap(err, errs.KindValidationFailed, "unreadable file part"))
		return
	}

	path, err := h.uploader.Upload(c.Request.Context(), c.PostForm("category"), header.Filename, content)
	if err != nil {
		h.fail(c, "Upload rejected", err)
		return
	}

	respond(c, http.StatusCreated, UploadResponse{Path: path, Size: len(content)})
}

// fail logs err with context and writes the error envelope
func (h *Handlers) fail(c *gin.Context, msg string, err error, keysAndValues ...interface{}) {
	status, body := errorResponse(err)
	fields := append([]interface{}{"request_id", c.GetString(requestIDKey), "kind", body.Kind, "error", err}, keysAndValues...)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
	} else {
		h.logger.Info(msg, fields...)
	}
	c.JSON(status, body)
}

// decodePayload reads a JSON object body, keeping numbers exact. An empty
// body is an empty payload.
func decodePayload(c *gin.Context) (workflow.Payload, error) {
	payload := workflow.Payload{}
	if c.Request.Body == nil {
		return payload, nil
	}

	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return workflow.Payload{}, nil
		}
		return nil, errs.Validation("request body must be a JSON object")
	}
	if payload == nil {
		payload = workflow.Payload{}
	}
	return payload, nil
}
