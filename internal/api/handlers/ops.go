package handlers

import (
	"net/http"

	"github.com/aiopslab/task-dispatch/internal/store"
)

// OpsHandler serves the Ops section of SPEC_FULL.md §6: liveness, queue
// depth, and service metadata for the root path.
type OpsHandler struct {
	store   *store.Store
	version string
}

func NewOpsHandler(s *store.Store, version string) *OpsHandler {
	return &OpsHandler{store: s, version: version}
}

// Health handles GET /api/v1/health
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DB().PingContext(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unhealthy",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"database": "connected",
	})
}

// QueueStats handles GET /api/v1/queue/stats
func (h *OpsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.TaskStats(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Root handles GET / with basic service metadata.
func (h *OpsHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "task-queue",
		"version": h.version,
	})
}
