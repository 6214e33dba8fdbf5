package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes in API error bodies. version_conflict and validation_failed are
// the codes autosave clients classify on.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeVersionConflict  = "version_conflict"
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeBatchTooLarge    = "batch_too_large"
)

// APIError is the error object inside every non-2xx body. RequestID echoes
// X-Request-ID so a client report can be matched to the server log line.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ConflictResponse is the 409 body for a stale single write. ServerVersion is
// absent when the document does not exist.
type ConflictResponse struct {
	Error           APIError `json:"error"`
	ServerVersion   *int64   `json:"server_version,omitempty"`
	ServerUpdatedAt string   `json:"server_updated_at,omitempty"`
}

func apiError(w http.ResponseWriter, code, message string) APIError {
	return APIError{Code: code, Message: message, RequestID: w.Header().Get("X-Request-ID")}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: apiError(w, code, message)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "status", status, "err", err)
	}
}
