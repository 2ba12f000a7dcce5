//go:build integration
// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiopslab/task-dispatch/internal/api"
	"github.com/aiopslab/task-dispatch/internal/config"
	"github.com/aiopslab/task-dispatch/internal/events"
	"github.com/aiopslab/task-dispatch/internal/executor"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/task"
	"github.com/aiopslab/task-dispatch/internal/worker"
)

func init() {
	logger.Init("error", false)
}

// setupTestServer requires a reachable Postgres instance named by
// TASKQUEUE_TEST_DATABASE_URL; the suite is skipped otherwise.
func setupTestServer(t *testing.T) (*api.Server, func()) {
	dsn := os.Getenv("TASKQUEUE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TASKQUEUE_TEST_DATABASE_URL not set, skipping integration suite")
	}

	s, err := store.Open(dsn, 5*time.Second)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Worker: config.WorkerConfig{
			NumInternalWorkers:     2,
			DefaultMaxSteps:        10,
			DefaultTimeoutMinutes:  5,
			WorkerPollInterval:     50 * time.Millisecond,
			WorkerHeartbeatTimeout: 5 * time.Second,
		},
		Metrics: config.MetricsConfig{Enabled: false},
	}

	var publisher *events.RedisPubSub
	registry := worker.NewRegistry(s, publisher)
	router := executor.NewRouter(executor.NewInternalExecutor(s, nil))
	manager := worker.NewManager(s, registry, router, publisher, "internal", cfg.Worker.WorkerPollInterval, cfg.Worker.WorkerHeartbeatTimeout)

	server := api.NewServer(cfg, s, registry, manager, publisher, "test")

	cleanup := func() {
		manager.Stop(5 * time.Second)
		_ = s.Close()
	}

	return server, cleanup
}

func TestTaskLifecycle_CreateAndGet(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	createReq := task.CreateRequest{ProblemID: "chaos-101"}
	body, _ := json.Marshal(createReq)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var created task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "chaos-101", created.ProblemID)
	assert.Equal(t, task.StatusPending, created.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var fetched task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestTaskLifecycle_Cancel(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	createReq := task.CreateRequest{ProblemID: "cancellable-task"}
	body, _ := json.Marshal(createReq)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created task.Task
	json.Unmarshal(w.Body.Bytes(), &created)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tasks/"+created.ID+"/cancel", nil)
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var cancelled task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, task.StatusCancelled, cancelled.Status)
}

func TestTaskLifecycle_List(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(task.CreateRequest{ProblemID: "list-test"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?problem_id=list-test", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var listResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Contains(t, listResp, "tasks")
	assert.Contains(t, listResp, "total_count")
}

func TestTaskLifecycle_GetNotFound(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nonexistent-id", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpsEndpoints_Health(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "connected", resp["database"])
}

func TestWorkerEndpoints_RegisterAndList(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	reg := map[string]interface{}{
		"worker_id":    "worker-900-itest",
		"backend_type": "orchestrator",
		"capabilities": map[string]interface{}{"max_parallel_tasks": 1},
	}
	body, _ := json.Marshal(reg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workers/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/workers", nil)
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var listResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Contains(t, listResp, "workers")
}

func TestWorkerManager_ScaleUpAndDown(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workers/internal/scale?num_workers=3", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/workers/internal/status", nil)
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.EqualValues(t, 3, status["count"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers/internal/scale?num_workers=0", nil)
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
