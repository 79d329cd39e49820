package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/newsletter/internal/pkg/logger"
)

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeValidationFailed = "validation_failed"
	CodeMissingToken     = "missing_token"
	CodeUnknownToken     = "unknown_token"
	CodeInternal         = "internal_error"
)

// JSON writes a JSON response with the given status code. The data is
// serialized and Content-Type is set automatically.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("httputil: JSON encode failed", "error", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// ErrorWithCode writes a JSON error response with a machine-readable code.
func ErrorWithCode(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// ValidationFailed writes a 400 naming the offending field.
func ValidationFailed(w http.ResponseWriter, field, reason string) {
	ErrorWithCode(w, http.StatusBadRequest, CodeValidationFailed, reason,
		map[string]string{"field": field})
}

// Unauthorized writes a 401 error.
func Unauthorized(w http.ResponseWriter, code, message string) {
	ErrorWithCode(w, http.StatusUnauthorized, code, message, nil)
}

// InternalError writes a 500 error. Logs the real error but returns a
// generic message to the client (never leak internals).
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err)
	ErrorWithCode(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}
