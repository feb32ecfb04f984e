package helpers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/veltrix/authzcore/internal/apperr"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// ReasonResponse is the structured error body the request boundary
// returns: {reason_key, detail?}.
type ReasonResponse struct {
	ReasonKey string `json:"reason_key"`
	Detail    string `json:"detail,omitempty"`
}

// RespondReason writes the {reason_key, detail?} error body.
func RespondReason(w http.ResponseWriter, status int, reasonKey, detail string) {
	RespondJSON(w, status, ReasonResponse{ReasonKey: reasonKey, Detail: detail})
}

// RespondError writes an error response with the given status code and message.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusForKind maps the fixed error taxonomy to HTTP status codes.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondAppError maps a tagged *apperr.Error (anywhere in err's chain)
// to its HTTP status and {reason_key, detail?} body. Untagged errors
// become Unavailable: internals are logged, never leaked to the client.
func RespondAppError(w http.ResponseWriter, err error) {
	if tagged, ok := apperr.As(err); ok {
		RespondReason(w, statusForKind(tagged.Kind), tagged.ReasonKey, tagged.Detail)
		return
	}
	slog.Error("unhandled internal error", "error", err)
	RespondReason(w, http.StatusServiceUnavailable, apperr.ReasonUnavailable, "")
}
