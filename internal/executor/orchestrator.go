package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/task"
)

// orchestratorEvent is one line of the subprocess's combined stdout, per
// SPEC_FULL.md §4.5: either a log line or a conversation turn.
type orchestratorEvent struct {
	Log              *logEvent  `json:"log,omitempty"`
	ConversationTurn *turnEvent `json:"conversation_turn,omitempty"`
}

type logEvent struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type turnEvent struct {
	ConversationID string        `json:"conversation_id"`
	Model          string        `json:"model"`
	Message        task.Message  `json:"message"`
}

// OrchestratorExecutor shells out to the external problem-orchestrator
// binary and streams its stdout events back into the store. It is meant to
// run on a dedicated goroutine per SPEC_FULL.md §9 — it never multiplexes
// onto a shared event loop.
type OrchestratorExecutor struct {
	store   *store.Store
	bin     string
	args    []string
	cancels chan string // cooperative cancellation signals, keyed by task id
}

func NewOrchestratorExecutor(s *store.Store, bin string, args []string) *OrchestratorExecutor {
	return &OrchestratorExecutor{store: s, bin: bin, args: args, cancels: make(chan string, 16)}
}

// RequestCancel signals that a running task should stop at its next
// cooperative checkpoint. It is best-effort: if the executor has already
// finished, the signal is simply dropped.
func (e *OrchestratorExecutor) RequestCancel(taskID string) {
	select {
	case e.cancels <- taskID:
	default:
	}
}

func (e *OrchestratorExecutor) Execute(ctx context.Context, t *task.Task, workerID string) (map[string]interface{}, error) {
	if e.bin == "" {
		return nil, apperror.ExecutionFailure(nil, "no orchestrator binary configured for task %s", t.ID)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"problem_id": t.ProblemID,
		"parameters": t.Parameters,
		"task_id":    t.ID,
	})
	if err != nil {
		return nil, apperror.ExecutionFailure(err, "marshal orchestrator payload")
	}

	args := append(append([]string{}, e.args...), string(payload))
	cmd := exec.CommandContext(ctx, e.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperror.ExecutionFailure(err, "open orchestrator stdout")
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, apperror.ExecutionFailure(err, "start orchestrator for task %s", t.ID)
	}

	conversation, err := e.store.StartConversation(ctx, t.ID, "", map[string]interface{}{
		"problem_id": t.ProblemID,
		"worker_id":  workerID,
		"cluster_id": task.ClusterID(workerID),
	})
	if err != nil {
		logger.WithTask(t.ID).Warn().Err(err).Msg("failed to start conversation record")
	}

	var result map[string]interface{}
	var finalErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case cancelled := <-e.cancels:
			if cancelled == t.ID {
				_ = cmd.Process.Kill()
				return nil, apperror.Conflict("task %s was cancelled", t.ID)
			}
		default:
		}

		line := scanner.Bytes()
		var ev orchestratorEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		switch {
		case ev.Log != nil:
			_, _ = e.store.AppendLog(ctx, t.ID, task.LogLevel(ev.Log.Level), ev.Log.Message, ev.Log.Context)
		case ev.ConversationTurn != nil && conversation != nil:
			ev.ConversationTurn.Message.Timestamp = time.Now().UTC()
			if err := e.store.AppendMessage(ctx, conversation.ID, ev.ConversationTurn.Message); err != nil {
				logger.WithTask(t.ID).Warn().Err(err).Msg("failed to append conversation turn")
			}
		}
	}

	waitErr := cmd.Wait()
	if conversation != nil {
		_ = e.store.FinalizeConversation(ctx, conversation.ID, 0, 0, 0, waitErr == nil)
	}
	if waitErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperror.Timeout("task %s exceeded its deadline", t.ID)
		}
		return nil, apperror.ExecutionFailure(waitErr, "orchestrator exited with error for task %s", t.ID)
	}

	result = map[string]interface{}{"exit_code": 0}
	return result, finalErr
}
