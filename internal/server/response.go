package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/session"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeCapacityExceeded  = "CAPACITY_EXCEEDED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeDomainError maps session and platform errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var capErr *session.CapacityError
	switch {
	case errors.As(err, &capErr):
		writeErrorWithDetails(w, http.StatusTooManyRequests, ErrCodeCapacityExceeded, err.Error(),
			map[string]any{"active": capErr.Active, "limit": capErr.Limit})
	case errors.Is(err, session.ErrNotFound), errors.Is(err, platform.ErrPostNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		writeError(w, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, session.ErrNotAllowed):
		writeError(w, http.StatusForbidden, ErrCodePermissionDenied, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
