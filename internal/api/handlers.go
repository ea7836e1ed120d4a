// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/backhaul/backhaul/internal/log"
	"github.com/backhaul/backhaul/internal/machines"
	"github.com/backhaul/backhaul/internal/metrics"
)

// requiredCreateFields must be present in a create payload. The store itself
// only requires id; the rest is what a machine needs to be backed up at all.
var requiredCreateFields = []string{"id", "name", "host", "ssh_user", "backup_type", "local_backup_dir"}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "backhaul",
		"version": s.version,
	})
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machines": recs})
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": rec})
}

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var rec machines.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	var missing []string
	for _, f := range requiredCreateFields {
		if v, ok := rec[f].(string); !ok || v == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
		return
	}

	created, err := s.store.Create(rec)
	metrics.StoreMutationsTotal.WithLabelValues("create", metrics.MutationResult(err)).Inc()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"machine": created})
}

func (s *Server) handleUpdateMachine(w http.ResponseWriter, r *http.Request) {
	var partial machines.Record
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if len(partial) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	merged, err := s.store.Update(chi.URLParam(r, "id"), partial)
	metrics.StoreMutationsTotal.WithLabelValues("update", metrics.MutationResult(err)).Inc()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": merged})
}

func (s *Server) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.Delete(id)
	metrics.StoreMutationsTotal.WithLabelValues("delete", metrics.MutationResult(err)).Inc()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("machine %s deleted", id),
	})
}

type backupRequest struct {
	MachineID string `json:"machine_id"`
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MachineID == "" {
		writeError(w, http.StatusBadRequest, "machine_id is required")
		return
	}

	machine, err := s.store.Get(req.MachineID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	ctx := log.ContextWithJobID(r.Context(), log.RequestIDFromContext(r.Context()))
	message, err := s.backups.Run(ctx, machine)
	if err != nil {
		writeBackupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

// handleLegacyBackup answers the retired machine-less endpoint.
func (s *Server) handleLegacyBackup(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Warn().Msg("deprecated /backup endpoint called")
	writeJSON(w, http.StatusGone, map[string]string{
		"error":   "this endpoint is deprecated",
		"message": "use /api/backup with machine_id instead",
	})
}
