package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/task"
)

type taskRow struct {
	ID           string          `db:"id"`
	ProblemID    string          `db:"problem_id"`
	Parameters   json.RawMessage `db:"parameters"`
	Priority     int             `db:"priority"`
	BackendType  string          `db:"backend_type"`
	Status       string          `db:"status"`
	WorkerID     sql.NullString  `db:"worker_id"`
	CreatedAt    time.Time       `db:"created_at"`
	StartedAt    sql.NullTime    `db:"started_at"`
	CompletedAt  sql.NullTime    `db:"completed_at"`
	TimeoutAt    sql.NullTime    `db:"timeout_at"`
	Result       json.RawMessage `db:"result"`
	ErrorDetails json.RawMessage `db:"error_details"`
}

func (r *taskRow) toTask() (*task.Task, error) {
	t := &task.Task{
		ID:          r.ID,
		ProblemID:   r.ProblemID,
		Priority:    r.Priority,
		BackendType: r.BackendType,
		Status:      task.Status(r.Status),
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Parameters) > 0 {
		if err := json.Unmarshal(r.Parameters, &t.Parameters); err != nil {
			return nil, err
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &t.Result); err != nil {
			return nil, err
		}
	}
	if len(r.ErrorDetails) > 0 {
		if err := json.Unmarshal(r.ErrorDetails, &t.ErrorDetails); err != nil {
			return nil, err
		}
	}
	if r.WorkerID.Valid {
		id := r.WorkerID.String
		t.WorkerID = &id
	}
	if r.StartedAt.Valid {
		t.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		t.CompletedAt = &r.CompletedAt.Time
	}
	if r.TimeoutAt.Valid {
		t.TimeoutAt = &r.TimeoutAt.Time
	}
	return t, nil
}

func marshalOrEmpty(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// InsertTask persists a brand-new pending task.
func (s *Store) InsertTask(ctx context.Context, t *task.Task) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	params, err := marshalOrEmpty(t.Parameters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, problem_id, parameters, priority, backend_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ProblemID, params, t.Priority, t.BackendType, string(t.Status), t.CreatedAt)
	return err
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	// Task ids are UUIDs; anything else cannot name a stored task.
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperror.NotFound("task %s not found", id)
	}

	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, apperror.NotFound("task %s not found", id)
	}
	if err != nil {
		return nil, apperror.TransientStore(err, "get task %s", id)
	}
	return row.toTask()
}

// ListFilters narrows ListTasks results; zero values mean "no filter".
type ListFilters struct {
	Status      task.Status
	ProblemID   string
	BackendType string
	WorkerID    string
}

// ListTasks returns a page of tasks matching filters, newest first, plus the
// total count ignoring pagination.
func (s *Store) ListTasks(ctx context.Context, f ListFilters, limit, offset int) ([]*task.Task, int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	where := "WHERE 1=1"
	args := []interface{}{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		where += clause + "$" + itoa(len(args))
	}
	if f.Status != "" {
		add(" AND status = ", string(f.Status))
	}
	if f.ProblemID != "" {
		add(" AND problem_id = ", f.ProblemID)
	}
	if f.BackendType != "" {
		add(" AND backend_type = ", f.BackendType)
	}
	if f.WorkerID != "" {
		add(" AND worker_id = ", f.WorkerID)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM tasks "+where, args...); err != nil {
		return nil, 0, apperror.TransientStore(err, "count tasks")
	}

	if limit <= 0 {
		limit = 50
	}
	pagedArgs := append(append([]interface{}{}, args...), limit, offset)
	query := "SELECT * FROM tasks " + where +
		" ORDER BY created_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, pagedArgs...); err != nil {
		return nil, 0, apperror.TransientStore(err, "list tasks")
	}

	tasks := make([]*task.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTask()
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, nil
}

// CancelTask moves a pending or running task to cancelled.
func (s *Store) CancelTask(ctx context.Context, id string) (*task.Task, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return withTx(s, ctx, func(tx *sqlx.Tx) (*task.Task, error) {
		var row taskRow
		err := tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1 FOR UPDATE`, id)
		if isNoRows(err) {
			return nil, apperror.NotFound("task %s not found", id)
		}
		if err != nil {
			return nil, apperror.TransientStore(err, "lock task %s", id)
		}

		current := task.Status(row.Status)
		if err := task.CheckTransition(current, task.StatusCancelled); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, completed_at = $2 WHERE id = $3`,
			string(task.StatusCancelled), now, id); err != nil {
			return nil, apperror.TransientStore(err, "cancel task %s", id)
		}

		if row.WorkerID.Valid {
			if _, err := tx.ExecContext(ctx, `
				UPDATE workers SET status = 'idle', current_task_id = NULL
				WHERE id = $1 AND current_task_id = $2`, row.WorkerID.String, id); err != nil {
				return nil, apperror.TransientStore(err, "release worker for task %s", id)
			}
		}

		row.Status = string(task.StatusCancelled)
		row.CompletedAt = sql.NullTime{Time: now, Valid: true}
		return row.toTask()
	})
}

// AppendLog inserts the next log entry for a task, assigning seq atomically.
func (s *Store) AppendLog(ctx context.Context, taskID string, level task.LogLevel, message string, logCtx map[string]interface{}) (*task.Log, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	ctxJSON, err := marshalOrEmpty(logCtx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var seq int64
	err = s.db.GetContext(ctx, &seq, `
		INSERT INTO task_logs (task_id, seq, level, timestamp, message, context)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM task_logs WHERE task_id = $1), 0) + 1, $2, $3, $4, $5)
		RETURNING seq`, taskID, string(level), now, message, ctxJSON)
	if err != nil {
		return nil, apperror.TransientStore(err, "append log for task %s", taskID)
	}

	return &task.Log{TaskID: taskID, Seq: seq, Level: level, Timestamp: now, Message: message, Context: logCtx}, nil
}

// ListLogs returns a task's log entries in seq order, optionally filtered to
// entries of exactly the given level, bounded by limit (0 means no limit).
func (s *Store) ListLogs(ctx context.Context, taskID string, level task.LogLevel, limit int) ([]*task.Log, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	query := `SELECT task_id, seq, level, timestamp, message, context FROM task_logs WHERE task_id = $1`
	args := []interface{}{taskID}
	if level != "" {
		query += " AND level = $2"
		args = append(args, string(level))
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + itoa(len(args))
	}

	type row struct {
		TaskID    string          `db:"task_id"`
		Seq       int64           `db:"seq"`
		Level     string          `db:"level"`
		Timestamp time.Time       `db:"timestamp"`
		Message   string          `db:"message"`
		Context   json.RawMessage `db:"context"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperror.TransientStore(err, "list logs for task %s", taskID)
	}

	logs := make([]*task.Log, 0, len(rows))
	for _, r := range rows {
		l := &task.Log{TaskID: r.TaskID, Seq: r.Seq, Level: task.LogLevel(r.Level), Timestamp: r.Timestamp, Message: r.Message}
		if len(r.Context) > 0 {
			_ = json.Unmarshal(r.Context, &l.Context)
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// CompleteTask finalizes a running task as completed, verifying ownership.
func (s *Store) CompleteTask(ctx context.Context, taskID, workerID string, result map[string]interface{}) error {
	return s.finishTask(ctx, taskID, workerID, task.StatusCompleted, result, nil, true)
}

// FailTask finalizes a running task as failed, verifying ownership.
func (s *Store) FailTask(ctx context.Context, taskID, workerID string, errorDetails map[string]interface{}) error {
	return s.finishTask(ctx, taskID, workerID, task.StatusFailed, nil, errorDetails, false)
}

// TimeoutTask finalizes a running task as timed out, verifying ownership.
// Unlike CompleteTask/FailTask it does not bump either lifetime counter —
// the worker just gets its deadline enforced early, by its own execution
// timer rather than the periodic sweeper — and it writes the same
// level=error log entry ExpireRunning writes, per SPEC_FULL.md §4.6.
func (s *Store) TimeoutTask(ctx context.Context, taskID, workerID string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := withTx(s, ctx, func(tx *sqlx.Tx) (struct{}, error) {
		var row taskRow
		err := tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1 FOR UPDATE`, taskID)
		if isNoRows(err) {
			return struct{}{}, apperror.NotFound("task %s not found", taskID)
		}
		if err != nil {
			return struct{}{}, apperror.TransientStore(err, "lock task %s", taskID)
		}

		current := task.Status(row.Status)
		if !row.WorkerID.Valid || row.WorkerID.String != workerID {
			return struct{}{}, apperror.Conflict("task %s is not owned by worker %s", taskID, workerID)
		}
		if err := task.CheckTransition(current, task.StatusTimeout); err != nil {
			return struct{}{}, err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'timeout', completed_at = $1 WHERE id = $2`, now, taskID); err != nil {
			return struct{}{}, apperror.TransientStore(err, "timeout task %s", taskID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET status = 'idle', current_task_id = NULL WHERE id = $1`, workerID); err != nil {
			return struct{}{}, apperror.TransientStore(err, "release worker %s after timeout", workerID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_logs (task_id, seq, level, timestamp, message, context)
			VALUES ($1, COALESCE((SELECT MAX(seq) FROM task_logs WHERE task_id = $1), 0) + 1, 'error', $2, $3, NULL)`,
			taskID, now, fmt.Sprintf("task %s exceeded its deadline and was timed out by its worker's execution timer", taskID)); err != nil {
			return struct{}{}, apperror.TransientStore(err, "log timeout for task %s", taskID)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Store) finishTask(ctx context.Context, taskID, workerID string, target task.Status, result, errDetails map[string]interface{}, succeeded bool) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := withTx(s, ctx, func(tx *sqlx.Tx) (struct{}, error) {
		var row taskRow
		err := tx.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1 FOR UPDATE`, taskID)
		if isNoRows(err) {
			return struct{}{}, apperror.NotFound("task %s not found", taskID)
		}
		if err != nil {
			return struct{}{}, apperror.TransientStore(err, "lock task %s", taskID)
		}

		current := task.Status(row.Status)
		if !row.WorkerID.Valid || row.WorkerID.String != workerID {
			return struct{}{}, apperror.Conflict("task %s is not owned by worker %s", taskID, workerID)
		}
		if err := task.CheckTransition(current, target); err != nil {
			return struct{}{}, err
		}

		resultJSON, err := marshalOrEmpty(result)
		if err != nil {
			return struct{}{}, err
		}
		errJSON, err := marshalOrEmpty(errDetails)
		if err != nil {
			return struct{}{}, err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, completed_at = $2, result = $3, error_details = $4
			WHERE id = $5`, string(target), now, resultJSON, errJSON, taskID); err != nil {
			return struct{}{}, apperror.TransientStore(err, "finish task %s", taskID)
		}

		counterCol := "tasks_failed"
		if succeeded {
			counterCol = "tasks_completed"
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET status = 'idle', current_task_id = NULL, `+counterCol+` = `+counterCol+` + 1
			WHERE id = $1`, workerID); err != nil {
			return struct{}{}, apperror.TransientStore(err, "update worker %s counters", workerID)
		}
		return struct{}{}, nil
	})
	return err
}

// ExpireRunning flips any running task whose deadline has passed to timeout,
// releases its worker, and writes an explanatory log entry at level=error.
// Idempotent: tasks it has already expired are no longer `running` and
// won't match again.
func (s *Store) ExpireRunning(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return withTx(s, ctx, func(tx *sqlx.Tx) ([]string, error) {
		var rows []taskRow
		if err := tx.SelectContext(ctx, &rows, `
			SELECT * FROM tasks
			WHERE status = 'running' AND timeout_at IS NOT NULL AND timeout_at <= $1
			FOR UPDATE`, now); err != nil {
			return nil, apperror.TransientStore(err, "select expired tasks")
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status = 'timeout', completed_at = $1 WHERE id = $2`, now, row.ID); err != nil {
				return nil, apperror.TransientStore(err, "expire task %s", row.ID)
			}
			if row.WorkerID.Valid {
				if _, err := tx.ExecContext(ctx, `
					UPDATE workers SET status = 'idle', current_task_id = NULL
					WHERE id = $1 AND current_task_id = $2`, row.WorkerID.String, row.ID); err != nil {
					return nil, apperror.TransientStore(err, "release worker after timeout for task %s", row.ID)
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_logs (task_id, seq, level, timestamp, message, context)
				VALUES ($1, COALESCE((SELECT MAX(seq) FROM task_logs WHERE task_id = $1), 0) + 1, 'error', $2, $3, NULL)`,
				row.ID, now, fmt.Sprintf("task %s exceeded its deadline and was expired by the timeout sweeper", row.ID)); err != nil {
				return nil, apperror.TransientStore(err, "log timeout for task %s", row.ID)
			}
			ids = append(ids, row.ID)
		}
		return ids, nil
	})
}

// Stats summarizes the task table for GET /tasks/stats and GET /queue/stats.
type Stats struct {
	ByStatus map[string]int64 `json:"by_status"`
	Total    int64            `json:"total"`
}

func (s *Store) TaskStats(ctx context.Context) (*Stats, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	type row struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM tasks GROUP BY status`); err != nil {
		return nil, apperror.TransientStore(err, "task stats")
	}

	stats := &Stats{ByStatus: make(map[string]int64, len(rows))}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.Count
		stats.Total += r.Count
	}
	return stats, nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
