package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/aiopslab/task-dispatch/internal/apperror"
)

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic, mirroring the begin/defer-rollback/commit
// shape used throughout the persistence layer this package is grounded on.
func withTx[T any](s *Store, ctx context.Context, fn func(tx *sqlx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return zero, apperror.TransientStore(err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, apperror.TransientStore(err, "commit transaction")
	}
	committed = true
	return result, nil
}
