package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/worker"
)

// WorkerHandler serves the Workers + Internal-control sections of
// SPEC_FULL.md §6. It replaces the teacher's separate /admin namespace: the
// same registry backs both external-worker self-service calls (register,
// heartbeat, claim, complete/fail) and the operator-facing scale/start/stop
// controls over the in-process manager.
type WorkerHandler struct {
	store              *store.Store
	registry           *worker.Registry
	manager            *worker.Manager
	defaultWorkerCount int
}

func NewWorkerHandler(s *store.Store, registry *worker.Registry, manager *worker.Manager, defaultWorkerCount int) *WorkerHandler {
	return &WorkerHandler{store: s, registry: registry, manager: manager, defaultWorkerCount: defaultWorkerCount}
}

type registerRequest struct {
	WorkerID     string `json:"worker_id"`
	BackendType  string `json:"backend_type"`
	Capabilities struct {
		MaxParallelTasks  int      `json:"max_parallel_tasks"`
		SupportedProblems []string `json:"supported_problems"`
	} `json:"capabilities"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Register handles POST /api/v1/workers/register
func (h *WorkerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body: %v", err)
		return
	}
	if req.WorkerID == "" || req.BackendType == "" {
		respondBadRequest(w, r, "worker_id and backend_type are required")
		return
	}

	maxParallel := req.Capabilities.MaxParallelTasks
	if maxParallel <= 0 {
		maxParallel = 1
	}

	wk := &store.Worker{
		ID:                req.WorkerID,
		BackendType:       req.BackendType,
		MaxParallelTasks:  maxParallel,
		SupportedProblems: req.Capabilities.SupportedProblems,
		Metadata:          req.Metadata,
	}
	if err := h.registry.Register(r.Context(), wk); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, wk)
}

// List handles GET /api/v1/workers
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	workers, err := h.registry.List(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"workers": workers, "count": len(workers)})
}

// Get handles GET /api/v1/workers/{workerID}
func (h *WorkerHandler) Get(w http.ResponseWriter, r *http.Request) {
	wk, err := h.registry.Get(r.Context(), chi.URLParam(r, "workerID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, wk)
}

type heartbeatRequest struct {
	Status        string  `json:"status,omitempty"`
	CurrentTaskID *string `json:"current_task_id,omitempty"`
}

// Heartbeat handles POST /api/v1/workers/{workerID}/heartbeat
func (h *WorkerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	var req heartbeatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.registry.Heartbeat(r.Context(), workerID, req.Status, req.CurrentTaskID); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"worker_id": workerID, "status": "ok"})
}

// Claim handles POST /api/v1/workers/{workerID}/claim — the HTTP-level claim
// path used by external orchestrator workers that poll over the wire
// instead of running inside this process's Manager.
func (h *WorkerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	wk, err := h.registry.Get(r.Context(), workerID)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	t, err := h.store.ClaimNext(r.Context(), workerID, wk.BackendType, wk.SupportedProblems)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if t == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"task": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task": t})
}

type completeRequest struct {
	Result map[string]interface{} `json:"result"`
}

// Complete handles POST /api/v1/workers/{workerID}/tasks/{taskID}/complete
func (h *WorkerHandler) Complete(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	taskID := chi.URLParam(r, "taskID")

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body: %v", err)
		return
	}

	if err := h.store.CompleteTask(r.Context(), taskID, workerID, req.Result); err != nil {
		respondErr(w, r, err)
		return
	}
	logger.WithTask(taskID).Info().Str("worker_id", workerID).Msg("task completed")
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "status": "completed"})
}

type failRequest struct {
	Error map[string]interface{} `json:"error"`
}

// Fail handles POST /api/v1/workers/{workerID}/tasks/{taskID}/fail
func (h *WorkerHandler) Fail(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	taskID := chi.URLParam(r, "taskID")

	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body: %v", err)
		return
	}

	if err := h.store.FailTask(r.Context(), taskID, workerID, req.Error); err != nil {
		respondErr(w, r, err)
		return
	}
	logger.WithTask(taskID).Warn().Str("worker_id", workerID).Msg("task failed")
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "status": "failed"})
}

// Stats handles GET /api/v1/workers/{workerID}/stats
func (h *WorkerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	wk, err := h.registry.Get(r.Context(), chi.URLParam(r, "workerID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"worker_id":       wk.ID,
		"status":          wk.Status,
		"tasks_completed": wk.TasksCompleted,
		"tasks_failed":    wk.TasksFailed,
		"last_heartbeat":  wk.LastHeartbeat,
	})
}

// InternalStatus handles GET /api/v1/workers/internal/status
func (h *WorkerHandler) InternalStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.Status())
}

// InternalScale handles POST /api/v1/workers/internal/scale?num_workers=N
func (h *WorkerHandler) InternalScale(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("num_workers")
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondErr(w, r, apperror.Validation("num_workers must be an integer, got %q", raw))
		return
	}
	if err := h.manager.SetCount(r.Context(), n); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.manager.Status())
}

// InternalStart handles POST /api/v1/workers/internal/start
func (h *WorkerHandler) InternalStart(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Boot(r.Context(), h.defaultWorkerCount); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.manager.Status())
}

// InternalStop handles POST /api/v1/workers/internal/stop
func (h *WorkerHandler) InternalStop(w http.ResponseWriter, r *http.Request) {
	h.manager.Stop(30 * time.Second)
	respondJSON(w, http.StatusOK, h.manager.Status())
}
