package task

import "github.com/aiopslab/task-dispatch/internal/apperror"

// Status is the lifecycle state of a Task. The set is deliberately small:
// there is no scheduled/retrying/dead-letter state, only a direct path from
// pending through running to one of four terminal outcomes.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return Status(s), true
	default:
		return "", false
	}
}

// IsTerminal reports whether a task in this status can never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the only legal status changes. Anything not
// listed here is rejected with apperror.Conflict by the store layer before
// it ever reaches SQL.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimeout:   true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether moving from s to target is legal.
func (s Status) CanTransition(target Status) bool {
	return validTransitions[s][target]
}

// CheckTransition returns a typed Conflict error when the move is illegal,
// nil otherwise.
func CheckTransition(from, to Status) error {
	if from.IsTerminal() {
		return apperror.Conflict("task is in terminal state %q, cannot move to %q", from, to)
	}
	if !from.CanTransition(to) {
		return apperror.Conflict("illegal transition from %q to %q", from, to)
	}
	return nil
}
