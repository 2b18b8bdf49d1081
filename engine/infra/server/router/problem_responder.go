package router

import (
	"net/http"

	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

const problemContentType = "application/problem+json"

// Problem is the RFC 7807 body written for every handler failure.
type Problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Title  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"details,omitempty"`
}

func (p Problem) normalized() Problem {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	if p.Type == "" {
		p.Type = "about:blank"
	}
	return p
}

// RespondProblem writes p and aborts the chain.
func RespondProblem(c *gin.Context, p Problem) {
	p = p.normalized()
	logProblem(c, p)
	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(p.Status, p)
}

// RespondWithError renders a RequestError as a problem. Internal causes are
// logged, not echoed.
func RespondWithError(c *gin.Context, err *RequestError) {
	info := err.GetErrorInfo()
	detail := info.Message
	if err.StatusCode < http.StatusInternalServerError && info.Details != "" {
		detail = info.Message + ": " + info.Details
	}
	if err.StatusCode >= http.StatusInternalServerError && err.Err != nil {
		logger.FromContext(c.Request.Context()).Error("Request handler failed", "error", err.Err)
	}
	RespondProblem(c, Problem{Status: err.StatusCode, Code: info.Code, Detail: detail})
}

// RespondWithServerError maps err through StatusFromError.
func RespondWithServerError(c *gin.Context, reason string, err error) {
	RespondWithError(c, NewRequestError(StatusFromError(err), reason, err))
}

func logProblem(c *gin.Context, p Problem) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{"status", p.Status, "code", p.Code, "detail", p.Detail, "route", route}
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	log := logger.FromContext(c.Request.Context())
	if p.Status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
		return
	}
	log.Debug("Request failed", fields...)
}
