// Package task defines the AIOpsLab problem-run task: its parameter schema,
// state machine, append-only log, and LLM conversation record.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Recognized Parameters keys. Anything else is preserved verbatim and opaque
// to the core.
const (
	ParamBackendType      = "backend_type"
	ParamMaxSteps         = "max_steps"
	ParamTimeoutMinutes   = "timeout_minutes"
	ParamPriority         = "priority"
	ParamAgentConfigModel = "agent_config.model"
)

// BackendInternal is the default backend: an in-process stub handler. Tasks
// of any other backend type are claimed only by workers registered with that
// same backend type.
const BackendInternal = "internal"

// Task is a single AIOpsLab problem run.
type Task struct {
	ID           string                 `json:"id" db:"id"`
	ProblemID    string                 `json:"problem_id" db:"problem_id"`
	Parameters   map[string]interface{} `json:"parameters" db:"parameters"`
	Priority     int                    `json:"priority" db:"priority"`
	BackendType  string                 `json:"backend_type" db:"backend_type"`
	Status       Status                 `json:"status" db:"status"`
	WorkerID     *string                `json:"worker_id,omitempty" db:"worker_id"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	TimeoutAt    *time.Time             `json:"timeout_at,omitempty" db:"timeout_at"`
	Result       map[string]interface{} `json:"result,omitempty" db:"result"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty" db:"error_details"`
}

// CreateRequest is the POST /tasks request body.
type CreateRequest struct {
	ProblemID  string                 `json:"problem_id"`
	Parameters map[string]interface{} `json:"parameters"`
	Priority   *int                   `json:"priority,omitempty"`
}

// Defaults used to fill in a CreateRequest's Parameters when absent.
type Defaults struct {
	BackendType     string
	MaxSteps        int
	TimeoutMinutes  int
	Priority        int
}

// New builds a pending Task from a CreateRequest, applying defaults for any
// recognized parameter the caller omitted.
func New(req CreateRequest, d Defaults) *Task {
	params := req.Parameters
	if params == nil {
		params = make(map[string]interface{})
	} else {
		cloned := make(map[string]interface{}, len(params))
		for k, v := range params {
			cloned[k] = v
		}
		params = cloned
	}

	backendType, _ := params[ParamBackendType].(string)
	if backendType == "" {
		backendType = d.BackendType
		params[ParamBackendType] = backendType
	}
	if _, ok := params[ParamMaxSteps]; !ok {
		params[ParamMaxSteps] = d.MaxSteps
	}
	if _, ok := params[ParamTimeoutMinutes]; !ok {
		params[ParamTimeoutMinutes] = d.TimeoutMinutes
	}

	priority := d.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}

	return &Task{
		ID:          uuid.New().String(),
		ProblemID:   req.ProblemID,
		Parameters:  params,
		Priority:    priority,
		BackendType: backendType,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// TimeoutMinutes reads the effective deadline budget out of Parameters.
func (t *Task) TimeoutMinutes() float64 {
	switch v := t.Parameters[ParamTimeoutMinutes].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// MaxSteps reads the effective step budget out of Parameters.
func (t *Task) MaxSteps() int {
	switch v := t.Parameters[ParamMaxSteps].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
