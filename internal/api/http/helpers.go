package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pathlight-learn/pathlight-lms/internal/assessment"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errBody struct {
	Error             string `json:"error"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses with
// enough detail for the client to render a retry path.
func writeEngineError(w http.ResponseWriter, err error) {
	var ne *assessment.NotEligibleError
	switch {
	case errors.As(err, &ne):
		writeJSON(w, http.StatusConflict, errBody{
			Error:             "not_eligible",
			Reason:            ne.Reason,
			RetryAfterSeconds: int(ne.RetryAfter.Seconds()),
		})
	case errors.Is(err, assessment.ErrAlreadyActive):
		writeJSON(w, http.StatusConflict, errBody{Error: "already_active"})
	case errors.Is(err, assessment.ErrSessionExpired):
		writeJSON(w, http.StatusGone, errBody{Error: "session_expired"})
	case errors.Is(err, assessment.ErrSessionNotActive):
		writeJSON(w, http.StatusConflict, errBody{Error: "session_not_active"})
	case errors.Is(err, assessment.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errBody{Error: "session_not_found"})
	case errors.Is(err, assessment.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, errBody{Error: "forbidden"})
	case errors.Is(err, assessment.ErrGradingInvariant):
		writeJSON(w, http.StatusUnprocessableEntity, errBody{Error: "invalid_answers", Reason: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errBody{Error: "internal", Reason: err.Error()})
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
