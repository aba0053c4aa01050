package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	directorydomain "github.com/smallbiznis/cooptariff/internal/directory/domain"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
	"github.com/smallbiznis/cooptariff/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrMethodNotAllowed   = errors.New("method_not_allowed")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// kindStatus maps business error kinds to HTTP status codes.
var kindStatus = map[error]int{
	rateledger.ErrValidation:       http.StatusBadRequest,
	rateledger.ErrNotFound:         http.StatusNotFound,
	rateledger.ErrMethodNotAllowed: http.StatusMethodNotAllowed,
	rateledger.ErrDuplicateCode:    http.StatusConflict,
	rateledger.ErrDateConflict:     http.StatusConflict,
	rateledger.ErrProtectedRecord:  http.StatusConflict,
	rateledger.ErrMissingParent:    http.StatusUnprocessableEntity,
	rateledger.ErrInactiveParent:   http.StatusUnprocessableEntity,
	rateledger.ErrNoActiveTariff:   http.StatusUnprocessableEntity,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if kind := rateledger.KindOf(err); kind != nil {
		status, ok := kindStatus[kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, errorPayload{
			Type:    kind.Error(),
			Code:    rateledger.CodeOf(err),
			Message: businessMessage(err, kind),
		}
	}

	switch {
	case isQueryValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "invalid value",
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, errorPayload{
			Type:    "method_not_allowed",
			Message: "method not allowed",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, directorydomain.ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code written to the request log.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	return payload.Type, payload.Code
}

func businessMessage(err error, kind error) string {
	var ledgerErr *rateledger.Error
	if errors.As(err, &ledgerErr) && ledgerErr.Message() != "" {
		return ledgerErr.Message()
	}
	return kind.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isQueryValidationError(err error) bool {
	switch {
	case errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidEntity),
		errors.Is(err, auditdomain.ErrInvalidEntityID):
		return true
	default:
		return false
	}
}
