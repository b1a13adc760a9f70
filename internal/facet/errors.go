package facet

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by every command. Commands return these wrapped
// with context; callers branch with errors.Is.
var (
	// ErrForbidden means a permission predicate rejected the actor.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means the operation contradicts current state, for
	// example claiming an already-owned record.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is a Conflict raised by the assignment state
	// machine; errors.Is matches it against both sentinels.
	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrConflict)

	// ErrNotFound means an unknown record, user, group or facet reference.
	ErrNotFound = errors.New("not found")

	// ErrExpired means the operation targets an expired custom group or
	// access window and specifically requires non-expired state.
	ErrExpired = errors.New("expired")

	// ErrInvalidArgument means malformed input: empty user list, end date
	// before start date, blank identifiers.
	ErrInvalidArgument = errors.New("invalid argument")
)
