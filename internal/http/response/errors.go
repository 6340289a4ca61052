package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Common error codes
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeUsernameTaken      = "USERNAME_TAKEN"
	CodeAlreadyActive      = "ALREADY_ACTIVE"
	CodeNotCheckedIn       = "NOT_CHECKED_IN"
	CodeInternalError      = "INTERNAL_ERROR"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	WriteErrorWithDetails(w, statusCode, message, code, nil)
}

// WriteErrorWithDetails writes a structured JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, message, code string, details any) {
	JSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// Convenience functions for common errors
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

// ServiceError maps an error from the service layer to its status and code.
// Anything unrecognised is logged and reported as a generic 500.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		var details any
		if len(ve.Rules) > 0 {
			details = domain.PasswordReport{Rules: ve.Rules}
		}
		WriteErrorWithDetails(w, http.StatusBadRequest, ve.Message, CodeInvalidInput, details)
	case errors.Is(err, domain.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid username or password", CodeInvalidCredentials)
	case errors.Is(err, domain.ErrForbidden):
		Unauthorized(w, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		NotFound(w, "not found")
	case errors.Is(err, domain.ErrUsernameTaken):
		WriteError(w, http.StatusConflict, "username already registered", CodeUsernameTaken)
	case errors.Is(err, domain.ErrAlreadyActive):
		WriteError(w, http.StatusConflict, "visitor already has an active pass", CodeAlreadyActive)
	case errors.Is(err, domain.ErrNotCheckedIn):
		WriteError(w, http.StatusConflict, "visitor is not checked in", CodeNotCheckedIn)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		InternalError(w, "internal server error")
	}
}
