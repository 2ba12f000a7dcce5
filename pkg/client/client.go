package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Task mirrors the JSON shape of internal/task.Task without importing the
// service's internal packages, the way a standalone SDK must.
type Task struct {
	ID           string                 `json:"id"`
	ProblemID    string                 `json:"problem_id"`
	Parameters   map[string]interface{} `json:"parameters"`
	Priority     int                    `json:"priority"`
	BackendType  string                 `json:"backend_type"`
	Status       string                 `json:"status"`
	WorkerID     *string                `json:"worker_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	TimeoutAt    *time.Time             `json:"timeout_at,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
}

// CreateTaskRequest is the POST /api/v1/tasks request body.
type CreateTaskRequest struct {
	ProblemID  string                 `json:"problem_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Priority   *int                   `json:"priority,omitempty"`
}

// Worker mirrors internal/store.Worker's public JSON shape.
type Worker struct {
	ID                string     `json:"worker_id"`
	BackendType       string     `json:"backend_type"`
	Status            string     `json:"status"`
	MaxParallelTasks  int        `json:"max_parallel_tasks"`
	SupportedProblems []string   `json:"supported_problems,omitempty"`
	CurrentTaskID     *string    `json:"current_task_id,omitempty"`
	TasksCompleted    int64      `json:"tasks_completed"`
	TasksFailed       int64      `json:"tasks_failed"`
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
}

// RegisterWorkerRequest is the POST /api/v1/workers/register request body.
type RegisterWorkerRequest struct {
	WorkerID     string `json:"worker_id"`
	BackendType  string `json:"backend_type"`
	Capabilities struct {
		MaxParallelTasks  int      `json:"max_parallel_tasks"`
		SupportedProblems []string `json:"supported_problems,omitempty"`
	} `json:"capabilities"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// APIError is returned for any non-2xx response; Kind matches the error
// taxonomy the server reports in its structured error body.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("task-queue: %s (status %d, request_id %s)", e.Message, e.StatusCode, e.RequestID)
}

// TaskQueueClient is a hand-rolled net/http SDK for the task dispatch
// engine's HTTP surface, plus a WebSocket client for live event streaming.
type TaskQueueClient struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new TaskQueueClient pointed at baseURL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) (*TaskQueueClient, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("task-queue: base URL is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &TaskQueueClient{baseURL: baseURL, opts: o}, nil
}

func (c *TaskQueueClient) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("task-queue: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("task-queue: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.opts.applyHeaders()(ctx, req); err != nil {
		return err
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("task-queue: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("task-queue: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.Unmarshal(respBody, &errBody)
		return &APIError{
			StatusCode: resp.StatusCode,
			Kind:       errBody.Error.Kind,
			Message:    errBody.Error.Message,
			RequestID:  errBody.RequestID,
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("task-queue: decode response: %w", err)
	}
	return nil
}

// SubmitTask creates a new task and returns the created record.
func (c *TaskQueueClient) SubmitTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask retrieves a task by id.
func (c *TaskQueueClient) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+taskID, nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CancelTask cancels a pending or running task.
func (c *TaskQueueClient) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/cancel", nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TaskListFilters narrows GET /api/v1/tasks.
type TaskListFilters struct {
	Status      string
	ProblemID   string
	BackendType string
	WorkerID    string
	Limit       int
	Offset      int
}

// TaskListResponse is the GET /api/v1/tasks response envelope.
type TaskListResponse struct {
	Tasks      []Task `json:"tasks"`
	TotalCount int64  `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// ListTasks returns tasks matching the given filters.
func (c *TaskQueueClient) ListTasks(ctx context.Context, f TaskListFilters) (*TaskListResponse, error) {
	q := url.Values{}
	setIfNotEmpty(q, "status", f.Status)
	setIfNotEmpty(q, "problem_id", f.ProblemID)
	setIfNotEmpty(q, "backend_type", f.BackendType)
	setIfNotEmpty(q, "worker_id", f.WorkerID)
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	var resp TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterWorker registers an external worker with the orchestrator backend.
func (c *TaskQueueClient) RegisterWorker(ctx context.Context, req RegisterWorkerRequest) (*Worker, error) {
	var w Worker
	if err := c.do(ctx, http.MethodPost, "/api/v1/workers/register", nil, req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Heartbeat reports worker liveness and current status.
func (c *TaskQueueClient) Heartbeat(ctx context.Context, workerID, status string, currentTaskID *string) error {
	body := map[string]interface{}{"status": status}
	if currentTaskID != nil {
		body["current_task_id"] = *currentTaskID
	}
	return c.do(ctx, http.MethodPost, "/api/v1/workers/"+workerID+"/heartbeat", nil, body, nil)
}

// ClaimTask polls for the next claimable task on behalf of workerID. A nil
// task with a nil error means the queue was empty.
func (c *TaskQueueClient) ClaimTask(ctx context.Context, workerID string) (*Task, error) {
	var resp struct {
		Task *Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/workers/"+workerID+"/claim", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// CompleteTask reports a successful task result.
func (c *TaskQueueClient) CompleteTask(ctx context.Context, workerID, taskID string, result map[string]interface{}) error {
	return c.do(ctx, http.MethodPost, "/api/v1/workers/"+workerID+"/tasks/"+taskID+"/complete", nil, map[string]interface{}{"result": result}, nil)
}

// FailTask reports that a task could not be completed.
func (c *TaskQueueClient) FailTask(ctx context.Context, workerID, taskID string, errDetails map[string]interface{}) error {
	return c.do(ctx, http.MethodPost, "/api/v1/workers/"+workerID+"/tasks/"+taskID+"/fail", nil, map[string]interface{}{"error": errDetails}, nil)
}

// ListWorkers returns all registered workers.
func (c *TaskQueueClient) ListWorkers(ctx context.Context) ([]Worker, error) {
	var resp struct {
		Workers []Worker `json:"workers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/workers", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// CheckHealth checks API server liveness and its database connection.
func (c *TaskQueueClient) CheckHealth(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// QueueStats returns task counts grouped by status.
func (c *TaskQueueClient) QueueStats(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue/stats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ConnectWebSocket establishes a WebSocket connection for real-time events.
func (c *TaskQueueClient) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns a channel that receives WebSocket events. ConnectWebSocket
// must be called first.
func (c *TaskQueueClient) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection.
func (c *TaskQueueClient) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// SubscribeEvents subscribes to specific event types over the open socket.
func (c *TaskQueueClient) SubscribeEvents(eventTypes ...EventType) error {
	if c.ws == nil {
		return fmt.Errorf("task-queue: websocket not connected")
	}
	return c.ws.Subscribe(eventTypes...)
}

func setIfNotEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
