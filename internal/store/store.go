// Package store is the transactional persistence layer for tasks, task
// logs, workers, and LLM conversations. It owns the claim algorithm and
// every invariant-enforcing state transition; nothing above it talks to SQL
// directly.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/aiopslab/task-dispatch/internal/logger"
)

// Store wraps a connection pool to the Postgres-backed schema described in
// SPEC_FULL.md §3.1/§6.
type Store struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

// Open connects to dsn and bootstraps the schema idempotently.
func Open(dsn string, queryTimeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, queryTimeout: queryTimeout}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open sqlx.DB without bootstrapping the schema.
func NewWithDB(db *sqlx.DB, queryTimeout time.Duration) *Store {
	return &Store{db: db, queryTimeout: queryTimeout}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, s.queryTimeout)
}

// initSchema creates the four tables and their indexes if they don't exist
// yet. There is no external migration tool: the schema is small and stable
// enough that an idempotent bootstrap, run once at startup, is sufficient.
func (s *Store) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id             UUID PRIMARY KEY,
	problem_id     TEXT NOT NULL,
	parameters     JSONB NOT NULL DEFAULT '{}',
	priority       INTEGER NOT NULL DEFAULT 0,
	backend_type   TEXT NOT NULL DEFAULT 'internal',
	status         TEXT NOT NULL,
	worker_id      TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	timeout_at     TIMESTAMPTZ,
	result         JSONB,
	error_details  JSONB
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (status, priority DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS task_logs (
	task_id    UUID NOT NULL REFERENCES tasks(id),
	seq        BIGINT NOT NULL,
	level      TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	message    TEXT NOT NULL,
	context    JSONB,
	PRIMARY KEY (task_id, seq)
);

CREATE TABLE IF NOT EXISTS workers (
	id                 TEXT PRIMARY KEY,
	backend_type       TEXT NOT NULL,
	max_parallel_tasks INTEGER NOT NULL DEFAULT 1,
	supported_problems JSONB NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL,
	last_heartbeat     TIMESTAMPTZ NOT NULL,
	current_task_id    UUID,
	tasks_completed    BIGINT NOT NULL DEFAULT 0,
	tasks_failed       BIGINT NOT NULL DEFAULT 0,
	metadata           JSONB NOT NULL DEFAULT '{}',
	registered_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workers_liveness ON workers (status, last_heartbeat);

CREATE TABLE IF NOT EXISTS llm_conversations (
	id                UUID PRIMARY KEY,
	task_id           UUID NOT NULL REFERENCES tasks(id),
	model             TEXT NOT NULL,
	messages          JSONB NOT NULL DEFAULT '[]',
	tokens_prompt     INTEGER NOT NULL DEFAULT 0,
	tokens_completion INTEGER NOT NULL DEFAULT 0,
	cost_estimate     DOUBLE PRECISION NOT NULL DEFAULT 0,
	metadata          JSONB NOT NULL DEFAULT '{}',
	success           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_task ON llm_conversations (task_id);
`
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	logger.WithComponent("store").Info().Msg("schema bootstrap complete")
	return nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
