// Package apperr defines the error taxonomy shared by the integration layer.
// Handlers map codes to HTTP statuses; internal callers branch on Code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeSessionCapExceeded = "SESSION_CAP_EXCEEDED"
	CodeJiraAPI            = "JIRA_API_ERROR"
	CodeGitHubAPI          = "GITHUB_API_ERROR"
	CodeIntegration        = "INTEGRATION_ERROR"
	CodeReportTimeout      = "REPORT_QUERY_TIMEOUT"
	CodeRetryFailed        = "RETRY_FAILED"
	CodeDB                 = "DB_ERROR"
	CodeServer             = "SERVER_ERROR"
)

// Error carries a stable machine code, a short user-facing message and an
// optional wrapped cause for operator diagnosis.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with a formatted message.
func New(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error preserving the underlying cause.
func Wrap(code string, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from an error chain, defaulting to SERVER_ERROR.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeServer
}

// HTTPStatus maps an error code to its response status.
func HTTPStatus(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSessionCapExceeded:
		return http.StatusTooManyRequests
	case CodeJiraAPI, CodeGitHubAPI, CodeIntegration:
		return http.StatusBadGateway
	case CodeReportTimeout:
		return http.StatusGatewayTimeout
	case CodeRetryFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
