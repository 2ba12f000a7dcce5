package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/task"
)

// ClaimNext implements the claim algorithm from SPEC_FULL.md §4.2: within a
// single transaction, lock the highest-priority/oldest pending task matching
// the worker's backend, apply the capability hint in application code, and
// atomically flip it to running while marking the worker busy. Returns
// (nil, nil) when there is no claimable candidate.
func (s *Store) ClaimNext(ctx context.Context, workerID, backendType string, supportedProblems []string) (*task.Task, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return withTx(s, ctx, func(tx *sqlx.Tx) (*task.Task, error) {
		var wk struct {
			Status string `db:"status"`
		}
		err := tx.GetContext(ctx, &wk, `SELECT status FROM workers WHERE id = $1 FOR UPDATE`, workerID)
		if isNoRows(err) {
			return nil, apperror.NotFound("worker %s not found", workerID)
		}
		if err != nil {
			return nil, apperror.TransientStore(err, "lock worker %s", workerID)
		}
		if wk.Status == "busy" {
			// Already bound to a task (max_parallel_tasks=1); nothing to claim.
			return nil, nil
		}

		var candidates []taskRow
		err = tx.SelectContext(ctx, &candidates, `
			SELECT * FROM tasks
			WHERE status = 'pending' AND backend_type = $1
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 20`, backendType)
		if err != nil {
			return nil, apperror.TransientStore(err, "select claimable tasks")
		}

		var chosen *taskRow
		for i := range candidates {
			if matchesCapabilities(candidates[i].ProblemID, supportedProblems) {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			// Returning no error makes withTx commit a transaction that changed
			// nothing, which releases the row locks we took on the non-matching
			// rows immediately rather than holding them for the caller's next
			// poll.
			return nil, nil
		}

		now := time.Now().UTC()
		timeoutAt := now.Add(time.Duration(minutesOf(chosen.Parameters)) * time.Minute)

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'running', worker_id = $1, started_at = $2, timeout_at = $3
			WHERE id = $4`, workerID, now, timeoutAt, chosen.ID); err != nil {
			return nil, apperror.TransientStore(err, "claim task %s", chosen.ID)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET status = 'busy', current_task_id = $1, last_heartbeat = $2
			WHERE id = $3`, chosen.ID, now, workerID); err != nil {
			return nil, apperror.TransientStore(err, "mark worker %s busy", workerID)
		}

		chosen.Status = "running"
		chosen.WorkerID.String, chosen.WorkerID.Valid = workerID, true
		chosen.StartedAt.Time, chosen.StartedAt.Valid = now, true
		chosen.TimeoutAt.Time, chosen.TimeoutAt.Valid = timeoutAt, true
		return chosen.toTask()
	})
}

// matchesCapabilities implements the substring capability-matching semantics
// from SPEC_FULL.md §9: an empty hint list accepts any problem id; otherwise
// the worker only claims a task whose problem_id contains at least one
// supported substring.
func matchesCapabilities(problemID string, supported []string) bool {
	if len(supported) == 0 {
		return true
	}
	for _, s := range supported {
		if s != "" && strings.Contains(problemID, s) {
			return true
		}
	}
	return false
}

func minutesOf(rawParams []byte) float64 {
	var params map[string]interface{}
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return 0
	}
	switch v := params[task.ParamTimeoutMinutes].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
