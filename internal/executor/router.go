package executor

import (
	"context"

	"github.com/aiopslab/task-dispatch/internal/task"
)

// Router dispatches a task to the Executor matching its backend_type,
// implementing the "polymorphism across backends" design note from
// SPEC_FULL.md §9 as a small interface plus concrete implementations
// rather than any inheritance hierarchy.
type Router struct {
	byBackend map[string]Executor
	fallback  Executor
}

func NewRouter(internal Executor) *Router {
	return &Router{byBackend: map[string]Executor{task.BackendInternal: internal}, fallback: internal}
}

// Register binds an Executor to a backend_type. Orchestrator-kind backends
// are registered this way by main.go once ORCHESTRATOR_BIN is known.
func (r *Router) Register(backendType string, e Executor) {
	r.byBackend[backendType] = e
}

func (r *Router) Execute(ctx context.Context, t *task.Task, workerID string) (map[string]interface{}, error) {
	e, ok := r.byBackend[t.BackendType]
	if !ok {
		e = r.fallback
	}
	return e.Execute(ctx, t, workerID)
}

// Cancellable is implemented by executors that support cooperative
// cancellation mid-execution (currently only OrchestratorExecutor).
type Cancellable interface {
	RequestCancel(taskID string)
}

// RequestCancel best-effort notifies every cancellable executor. The task's
// backend_type tells us which one actually owns it, but broadcasting is
// harmless since RequestCancel for an unrelated task id is a no-op.
func (r *Router) RequestCancel(taskID string) {
	for _, e := range r.byBackend {
		if c, ok := e.(Cancellable); ok {
			c.RequestCancel(taskID)
		}
	}
}
