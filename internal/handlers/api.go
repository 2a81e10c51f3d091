package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imprimo/internal/common"
	"github.com/ternarybob/imprimo/internal/interfaces"
)

// heartbeatStaleAfter marks the worker unhealthy when its last beat is
// older than this
const heartbeatStaleAfter = 30 * time.Second

// APIHandler serves system endpoints: health, version and API 404s
type APIHandler struct {
	storage  interfaces.StorageManager
	workerID string
	logger   arbor.ILogger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(storage interfaces.StorageManager, workerID string, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		storage:  storage,
		workerID: workerID,
		logger:   logger,
	}
}

// HealthHandler handles GET /healthz
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := http.StatusOK
	storageStatus := "ok"
	if err := h.storage.Ping(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Storage ping failed")
		storageStatus = "error"
		status = http.StatusServiceUnavailable
	}

	worker := map[string]interface{}{"status": "missing"}
	hb, err := h.storage.HeartbeatStorage().Get(r.Context(), h.workerID)
	switch {
	case err == nil:
		workerStatus := "healthy"
		if time.Since(hb.LastBeat) > heartbeatStaleAfter {
			workerStatus = "stale"
		}
		worker = map[string]interface{}{
			"status":    workerStatus,
			"state":     hb.State,
			"last_beat": hb.LastBeat.UTC().Format(time.RFC3339),
		}
	case errors.Is(err, interfaces.ErrHeartbeatNotFound):
		// worker has not started yet
	default:
		h.logger.Error().Err(err).Msg("Failed to read worker heartbeat")
		worker = map[string]interface{}{"status": "error"}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	WriteJSON(w, status, map[string]interface{}{
		"status":  overall,
		"version": common.GetVersion(),
		"storage": storageStatus,
		"worker":  worker,
	})
}

// VersionHandler handles GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

// NotFoundHandler handles unmatched API routes
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
