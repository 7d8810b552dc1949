package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/scry-batch/internal/redact"
)

// ErrorResponse defines the error response body.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// respondWithJSON writes a JSON response with the given status code and data.
func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondWithErrorAndLog writes a JSON error response and logs the detailed
// error. Only the safe message reaches the client.
//
// 5xx errors are logged at ERROR, everything else at DEBUG.
func respondWithErrorAndLog(
	w http.ResponseWriter,
	r *http.Request,
	logger *slog.Logger,
	status int,
	userMessage string,
	err error,
) {
	requestID := middleware.GetReqID(r.Context())

	attrs := []any{
		"request_id", requestID,
		"path", r.URL.Path,
		"method", r.Method,
		"status_code", status,
	}
	if err != nil {
		attrs = append(attrs, "error", redact.Error(err))
	}

	if status >= http.StatusInternalServerError {
		logger.Error(userMessage, attrs...)
	} else {
		logger.Debug(userMessage, attrs...)
	}

	respondWithJSON(w, logger, status, ErrorResponse{Error: userMessage, RequestID: requestID})
}
