package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/benjaminclauss/stationboard/registry"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// StatusCode maps a registry error code to an HTTP status. These are deterministic validation
// failures; clients should not retry them.
func StatusCode(code registry.Code) int {
	switch code {
	case registry.CodeStationNotFound, registry.CodeVehicleNotFound:
		return http.StatusNotFound
	case registry.CodeInvalidFormat, registry.CodeOutOfRange, registry.CodeInvalidStatus,
		registry.CodeMissingField, registry.CodeDuplicateInStation, registry.CodeNonTransferableState:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error writing response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		writeJSON(w, StatusCode(regErr.Code), errorResponse{Error: regErr.Message, Code: string(regErr.Code)})
		return
	}

	slog.Error("internal error", "method", r.Method, "path", r.URL.Path, "request_id", RequestID(r.Context()), "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL"})
}
