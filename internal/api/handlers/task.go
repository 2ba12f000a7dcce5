package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aiopslab/task-dispatch/internal/events"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/metrics"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/task"
)

// TaskHandler serves the Tasks section of SPEC_FULL.md §6's HTTP surface.
type TaskHandler struct {
	store     *store.Store
	publisher *events.RedisPubSub
	defaults  task.Defaults
}

func NewTaskHandler(s *store.Store, publisher *events.RedisPubSub, defaults task.Defaults) *TaskHandler {
	return &TaskHandler{store: s, publisher: publisher, defaults: defaults}
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req task.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body: %v", err)
		return
	}
	if req.ProblemID == "" {
		respondBadRequest(w, r, "problem_id is required")
		return
	}

	t := task.New(req, h.defaults)
	if err := h.store.InsertTask(r.Context(), t); err != nil {
		respondErr(w, r, err)
		return
	}

	metrics.RecordTaskSubmission(t.ProblemID, t.BackendType)
	logger.WithTask(t.ID).Info().Str("problem_id", t.ProblemID).Msg("task created")
	h.publish(r, events.EventTaskSubmitted, t.ID, t.ProblemID, t.BackendType, nil)

	respondJSON(w, http.StatusCreated, t)
}

// Get handles GET /api/v1/tasks/{taskID}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Cancel handles POST /api/v1/tasks/{taskID}/cancel
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	t, err := h.store.CancelTask(r.Context(), taskID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	logger.WithTask(taskID).Info().Msg("task cancelled")
	h.publish(r, events.EventTaskCancelled, taskID, t.ProblemID, t.BackendType, nil)
	respondJSON(w, http.StatusOK, t)
}

// List handles GET /api/v1/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.ListFilters{
		Status:      task.Status(q.Get("status")),
		ProblemID:   q.Get("problem_id"),
		BackendType: q.Get("backend_type"),
		WorkerID:    q.Get("worker_id"),
	}

	limit := intParam(q, "limit", 50)
	offset := intParam(q, "offset", 0)

	tasks, total, err := h.store.ListTasks(r.Context(), filters, limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":       tasks,
		"total_count": total,
		"limit":       limit,
		"offset":      offset,
	})
}

// Logs handles GET /api/v1/tasks/{taskID}/logs?level=&limit=
func (h *TaskHandler) Logs(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	q := r.URL.Query()
	limit := intParam(q, "limit", 200)

	logs, err := h.store.ListLogs(r.Context(), taskID, task.LogLevel(q.Get("level")), limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

// Stats handles GET /api/v1/tasks/stats
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.TaskStats(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *TaskHandler) publish(r *http.Request, eventType events.EventType, taskID, problemID, backendType string, extra map[string]interface{}) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishTaskEvent(r.Context(), eventType, taskID, problemID, backendType, extra); err != nil {
		logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to publish task event")
	}
}

func intParam(q interface {
	Get(string) string
}, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
