// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/backhaul/backhaul/internal/backup"
	"github.com/backhaul/backhaul/internal/log"
	"github.com/backhaul/backhaul/internal/machines"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeStoreError maps store error kinds to HTTP status codes.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *machines.ParseError
	switch {
	case errors.Is(err, machines.ErrNotFound):
		writeError(w, http.StatusNotFound, "machine not found")
	case errors.Is(err, machines.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, machines.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &perr):
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("machines file is malformed")
		writeError(w, http.StatusInternalServerError, "machines configuration is malformed")
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeBackupError maps backup failures to HTTP status codes.
func writeBackupError(w http.ResponseWriter, err error) {
	if errors.Is(err, backup.ErrUnknownType) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
}
