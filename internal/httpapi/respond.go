// Package httpapi wires the net/http routing and handlers for both
// service processes (§6): the Ingest+Scoring+Blender surface (ingest
// endpoint, admin surface, public reads, subscription channel) and the
// Matching surface (orders, cancel, snapshot, pressure).
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"realitymarket/internal/apperr"
)

// statusFor maps an apperr.Kind to the HTTP status the specification
// names for it (§7, §4.1, §6). Kept in one place so nothing else in
// the codebase hardcodes a status code.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.BadRequest:
		return http.StatusBadRequest
	case apperr.Validation:
		return http.StatusUnprocessableEntity
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and the `{status:"error", error,
// detail?}` body shape of §6.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error("unhandled error", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"status": "error",
		"error":  string(kind),
		"detail": err.Error(),
	})
}
