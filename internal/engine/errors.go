package engine

import (
	"errors"

	"github.com/swarmsh/swarmsh/internal/store"
)

// Typed coordination errors. CLI exit codes and span error kinds are
// derived from these via [Kind].
var (
	// ErrValidation reports malformed input: unknown priority, negative
	// capacity, percent outside 0-100, missing required fields.
	ErrValidation = errors.New("invalid request")

	// ErrNoAgentContext reports an operation that requires an agent
	// identity but received none.
	ErrNoAgentContext = errors.New("no agent identity in context")

	// ErrDuplicateAgent reports a registration for an agent ID that is
	// already present in the roster.
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrNotFound reports a work item or agent lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner reports a restricted transition attempted by an agent
	// that does not own the work item.
	ErrNotOwner = errors.New("work item owned by another agent")

	// ErrInvalidTransition reports a status change the work state
	// machine does not permit.
	ErrInvalidTransition = errors.New("illegal status transition")

	// ErrAlreadyTerminal reports a mutation of a completed or failed
	// work item.
	ErrAlreadyTerminal = errors.New("work item already terminal")

	// ErrAgentAtCapacity reports a claim or reassignment that would push
	// an agent past capacity_max, or target an agent not accepting work.
	ErrAgentAtCapacity = errors.New("agent cannot accept more work")

	// ErrCapacityExceeded reports that the system-wide active work cap
	// is reached.
	ErrCapacityExceeded = errors.New("active work limit reached")

	// ErrConflict reports a read-modify-write race lost to a concurrent
	// operation. Retryable.
	ErrConflict = errors.New("work item changed by a concurrent operation")
)

// Span error kinds, one per error taxonomy bucket.
const (
	KindValidation   = "validation"
	KindNotFound     = "not_found"
	KindStateMachine = "state_machine_violation"
	KindOwnership    = "ownership_violation"
	KindCapacity     = "capacity_exceeded"
	KindLockTimeout  = "lock_timeout"
	KindConflict     = "store_conflict"
	KindCorruption   = "store_corruption"
	KindInternal     = "internal"
)

// Kind maps an operation error onto its taxonomy bucket.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNoAgentContext),
		errors.Is(err, ErrDuplicateAgent):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyTerminal):
		return KindStateMachine
	case errors.Is(err, ErrNotOwner):
		return KindOwnership
	case errors.Is(err, ErrAgentAtCapacity),
		errors.Is(err, ErrCapacityExceeded):
		return KindCapacity
	case errors.Is(err, store.ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, store.ErrCorrupted):
		return KindCorruption
	default:
		return KindInternal
	}
}

// Retryable reports whether the engine may transparently retry the
// failed attempt. Lock timeouts and lost races qualify; everything else
// surfaces immediately.
func Retryable(err error) bool {
	return errors.Is(err, store.ErrLockTimeout) || errors.Is(err, ErrConflict)
}
