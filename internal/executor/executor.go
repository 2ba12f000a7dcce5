// Package executor implements the Executor Adapter (SPEC_FULL.md §4.5): it
// runs a claimed task to completion, writing logs and LLM conversation
// turns back to the store, without ever blocking the caller's goroutine
// beyond the dispatch call itself.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/task"
)

// Executor is the capability set every backend implements: run a task to
// completion, accept cooperative cancellation, and report whether it
// produced a result or failed.
type Executor interface {
	// Execute runs t until completion, cancellation, or ctx's deadline.
	// Logs and conversation turns are written to the store as they occur.
	// The returned map becomes the task's result on success.
	Execute(ctx context.Context, t *task.Task, workerID string) (map[string]interface{}, error)
}

// Handler is an in-process stub implementation for a problem_id prefix, the
// same shape as the teacher's TaskHandler registry.
type Handler func(ctx context.Context, t *task.Task) (map[string]interface{}, error)

// InternalExecutor dispatches to a registry of in-process handlers keyed by
// problem_id prefix, falling back to a generic success stub so arbitrary
// problem ids still produce a completed task during development/testing.
type InternalExecutor struct {
	store    *store.Store
	handlers map[string]Handler
}

func NewInternalExecutor(s *store.Store, handlers map[string]Handler) *InternalExecutor {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}
	return &InternalExecutor{store: s, handlers: handlers}
}

func (e *InternalExecutor) RegisterHandler(problemPrefix string, h Handler) {
	e.handlers[problemPrefix] = h
}

func (e *InternalExecutor) Execute(ctx context.Context, t *task.Task, workerID string) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithTask(t.ID).Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("internal handler panicked")
			err = apperror.ExecutionFailure(fmt.Errorf("panic: %v", r), "handler panicked")
		}
	}()

	_, _ = e.store.AppendLog(ctx, t.ID, task.LogInfo, "internal executor starting", map[string]interface{}{"worker_id": workerID})

	handler, ok := e.lookup(t.ProblemID)
	if !ok {
		_, _ = e.store.AppendLog(ctx, t.ID, task.LogInfo, "no registered handler, returning stub result", nil)
		return map[string]interface{}{"stub": true, "problem_id": t.ProblemID}, nil
	}

	result, err = handler(ctx, t)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperror.Timeout("task %s exceeded its deadline", t.ID)
		}
		return nil, apperror.ExecutionFailure(err, "handler for %s failed", t.ProblemID)
	}
	_, _ = e.store.AppendLog(ctx, t.ID, task.LogInfo, "internal executor finished", nil)
	return result, nil
}

func (e *InternalExecutor) lookup(problemID string) (Handler, bool) {
	if h, ok := e.handlers[problemID]; ok {
		return h, true
	}
	for prefix, h := range e.handlers {
		if len(problemID) >= len(prefix) && problemID[:len(prefix)] == prefix {
			return h, true
		}
	}
	return nil, false
}
