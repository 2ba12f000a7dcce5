package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/logger"
)

// ErrorBody is the structured JSON error body SPEC_FULL.md §7 requires:
// error kind, message, and the request id threaded from chi's RequestID
// middleware.
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondErr maps any error through apperror.As to the right HTTP status
// and a structured body, per SPEC_FULL.md §7's propagation rules.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.ExecutionFailure(err, "unexpected error")
	}

	status := apperror.HTTPStatus(appErr.Kind)
	if status >= 500 {
		logger.Error().Err(err).Str("kind", string(appErr.Kind)).Msg("request failed")
	}

	respondJSON(w, status, ErrorBody{
		Error:     ErrorDetail{Kind: string(appErr.Kind), Message: appErr.Message},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func respondBadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	respondErr(w, r, apperror.Validation(format, args...))
}
