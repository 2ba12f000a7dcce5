package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"time"

	"github.com/aiopslab/task-dispatch/internal/apperror"
)

// Worker is the persisted row backing SPEC_FULL.md §3's Worker data model.
type Worker struct {
	ID                string                 `json:"worker_id" db:"id"`
	BackendType       string                 `json:"backend_type" db:"backend_type"`
	MaxParallelTasks  int                    `json:"max_parallel_tasks" db:"max_parallel_tasks"`
	SupportedProblems []string               `json:"supported_problems" db:"-"`
	Status            string                 `json:"status" db:"status"`
	LastHeartbeat     time.Time              `json:"last_heartbeat" db:"last_heartbeat"`
	CurrentTaskID     *string                `json:"current_task_id,omitempty" db:"-"`
	TasksCompleted    int64                  `json:"tasks_completed" db:"tasks_completed"`
	TasksFailed       int64                  `json:"tasks_failed" db:"tasks_failed"`
	Metadata          map[string]interface{} `json:"metadata,omitempty" db:"-"`
	RegisteredAt      time.Time              `json:"registered_at" db:"registered_at"`
}

const (
	WorkerIdle    = "idle"
	WorkerBusy    = "busy"
	WorkerOffline = "offline"
)

var workerIDPattern = regexp.MustCompile(`^worker-\d{3}-[a-zA-Z0-9_]+$`)

// ValidateWorkerID enforces the worker-NNN-kind format from SPEC_FULL.md §6.
func ValidateWorkerID(id string) error {
	if !workerIDPattern.MatchString(id) {
		return apperror.Validation("worker id %q does not match worker-NNN-kind", id)
	}
	return nil
}

type workerRow struct {
	ID                string          `db:"id"`
	BackendType       string          `db:"backend_type"`
	MaxParallelTasks  int             `db:"max_parallel_tasks"`
	SupportedProblems json.RawMessage `db:"supported_problems"`
	Status            string          `db:"status"`
	LastHeartbeat     time.Time       `db:"last_heartbeat"`
	CurrentTaskID     sql.NullString  `db:"current_task_id"`
	TasksCompleted    int64           `db:"tasks_completed"`
	TasksFailed       int64           `db:"tasks_failed"`
	Metadata          json.RawMessage `db:"metadata"`
	RegisteredAt      time.Time       `db:"registered_at"`
}

func (r *workerRow) toWorker() (*Worker, error) {
	w := &Worker{
		ID:               r.ID,
		BackendType:      r.BackendType,
		MaxParallelTasks: r.MaxParallelTasks,
		Status:           r.Status,
		LastHeartbeat:    r.LastHeartbeat,
		TasksCompleted:   r.TasksCompleted,
		TasksFailed:      r.TasksFailed,
		RegisteredAt:     r.RegisteredAt,
	}
	if len(r.SupportedProblems) > 0 {
		if err := json.Unmarshal(r.SupportedProblems, &w.SupportedProblems); err != nil {
			return nil, err
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &w.Metadata); err != nil {
			return nil, err
		}
	}
	if r.CurrentTaskID.Valid {
		id := r.CurrentTaskID.String
		w.CurrentTaskID = &id
	}
	return w, nil
}

// RegisterWorker upserts a worker's identity and capabilities.
func (s *Store) RegisterWorker(ctx context.Context, w *Worker) error {
	if err := ValidateWorkerID(w.ID); err != nil {
		return err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	supported, err := marshalOrEmpty(w.SupportedProblems)
	if err != nil {
		return err
	}
	if w.SupportedProblems == nil {
		supported = []byte("[]")
	}
	metadata, err := marshalOrEmpty(w.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (id, backend_type, max_parallel_tasks, supported_problems, status, last_heartbeat, metadata, registered_at)
		VALUES ($1, $2, $3, $4, 'idle', $5, $6, $5)
		ON CONFLICT (id) DO UPDATE SET
			backend_type = EXCLUDED.backend_type,
			max_parallel_tasks = EXCLUDED.max_parallel_tasks,
			supported_problems = EXCLUDED.supported_problems,
			metadata = EXCLUDED.metadata,
			last_heartbeat = EXCLUDED.last_heartbeat`,
		w.ID, w.BackendType, w.MaxParallelTasks, supported, now, metadata)
	if err != nil {
		return apperror.TransientStore(err, "register worker %s", w.ID)
	}
	return nil
}

// Heartbeat refreshes a worker's liveness timestamp and optionally its
// status/current task.
func (s *Store) Heartbeat(ctx context.Context, workerID string, status string, currentTaskID *string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_heartbeat = $1, status = COALESCE(NULLIF($2, ''), status), current_task_id = $3
		WHERE id = $4`, time.Now().UTC(), status, currentTaskID, workerID)
	if err != nil {
		return apperror.TransientStore(err, "heartbeat worker %s", workerID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("worker %s not found", workerID)
	}
	return nil
}

// GetWorker fetches a single worker by id.
func (s *Store) GetWorker(ctx context.Context, id string) (*Worker, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row workerRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM workers WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, apperror.NotFound("worker %s not found", id)
	}
	if err != nil {
		return nil, apperror.TransientStore(err, "get worker %s", id)
	}
	return row.toWorker()
}

// ListWorkers returns every registered worker.
func (s *Store) ListWorkers(ctx context.Context) ([]*Worker, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []workerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM workers ORDER BY id ASC`); err != nil {
		return nil, apperror.TransientStore(err, "list workers")
	}
	workers := make([]*Worker, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toWorker()
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// SweepWorkerLiveness marks any worker that hasn't heartbeat within timeout
// as offline and clears its current-task pointer (the task's own timeout is
// handled separately by ExpireRunning). Returns the ids marked offline.
func (s *Store) SweepWorkerLiveness(ctx context.Context, timeout time.Duration, now time.Time) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE workers SET status = 'offline', current_task_id = NULL
		WHERE status <> 'offline' AND last_heartbeat < $1
		RETURNING id`, now.Add(-timeout))
	if err != nil {
		return nil, apperror.TransientStore(err, "sweep worker liveness")
	}
	return ids, nil
}

// DeregisterWorker removes a worker row.
func (s *Store) DeregisterWorker(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id = $1`, id)
	if err != nil {
		return apperror.TransientStore(err, "deregister worker %s", id)
	}
	return nil
}
