package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/infra/server/appstate"
	"github.com/gin-gonic/gin"
)

// Error codes
const (
	ErrInternalCode           = "INTERNAL_ERROR"
	ErrBadRequestCode         = "BAD_REQUEST"
	ErrUnauthorizedCode       = "UNAUTHORIZED"
	ErrNotFoundCode           = "NOT_FOUND"
	ErrConflictCode           = "CONFLICT"
	ErrServiceUnavailableCode = "SERVICE_UNAVAILABLE"
)

const ErrMsgAppStateNotInitialized = "application state not initialized"

// RequestError carries the HTTP status chosen for a handler failure.
type RequestError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func NewRequestError(statusCode int, reason string, err error) *RequestError {
	return &RequestError{
		StatusCode: statusCode,
		Reason:     reason,
		Err:        err,
	}
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// GetErrorInfo extracts error information for the standardized response
func (e *RequestError) GetErrorInfo() *ErrorInfo {
	var details string
	if e.Err != nil {
		details = e.Err.Error()
	}
	return &ErrorInfo{
		Code:    codeFor(e.StatusCode),
		Message: e.Reason,
		Details: details,
	}
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrBadRequestCode
	case http.StatusUnauthorized:
		return ErrUnauthorizedCode
	case http.StatusNotFound:
		return ErrNotFoundCode
	case http.StatusConflict:
		return ErrConflictCode
	case http.StatusServiceUnavailable:
		return ErrServiceUnavailableCode
	default:
		return ErrInternalCode
	}
}

// StatusFromError maps engine sentinel errors onto HTTP statuses.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, core.ErrWorkflowNotFound),
		errors.Is(err, core.ErrWorkflowInactive),
		errors.Is(err, core.ErrEntryNotFound),
		errors.Is(err, core.ErrExecutionNotFound),
		errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrClaimConflict), errors.Is(err, core.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, core.ErrMalformedGraph):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GetAppState returns the state attached by appstate.StateMiddleware, or
// writes a 500 and returns nil.
func GetAppState(c *gin.Context) *appstate.State {
	state, err := appstate.GetState(c.Request.Context())
	if err != nil {
		RespondWithError(c, NewRequestError(http.StatusInternalServerError, ErrMsgAppStateNotInitialized, err))
		return nil
	}
	return state
}
