package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/finflow/internal/domain/errs"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    errs.Kind   `json:"kind,omitempty"`
}

// StatusFor maps an error kind to its HTTP status code
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindValidationFailed:
		return http.StatusBadRequest
	case errs.KindInvalidTransition, errs.KindConflict:
		return http.StatusConflict
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// errorResponse hides the detail of internal errors from callers
func errorResponse(err error) (int, Response) {
	kind := errs.KindOf(err)
	message := errs.Message(err)
	if kind == errs.KindInternal {
		message = "internal error"
	}
	return StatusFor(kind), Response{Success: false, Error: message, Kind: kind}
}

func abortWithError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.AbortWithStatusJSON(status, body)
}
