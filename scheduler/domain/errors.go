package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies scheduler failures. The supervisor is the only layer
// that decides retry vs terminal based on the kind; the controller only ever
// observes aggregated status.
type ErrorKind int

const (
	// InfeasiblePlacement, no node can satisfy the request. Retried next tick.
	InfeasiblePlacement ErrorKind = iota

	// InsufficientCapacity, a reserve lost the race against another schedule's
	// loop after the planning snapshot went stale. Retried next tick.
	InsufficientCapacity

	// LaunchFailure, the node agent accepted the call but the launch failed.
	// Counted against the instance's attempt budget.
	LaunchFailure

	// AgentUnreachable, the node agent could not be reached. Counted against
	// the instance's attempt budget.
	AgentUnreachable

	// InvariantViolation, internal bookkeeping is corrupt (negative free
	// capacity, duplicate instance id). Fatal to the owning control loop only.
	InvariantViolation
)

func (k ErrorKind) String() string {
	switch k {
	case InfeasiblePlacement:
		return "InfeasiblePlacement"
	case InsufficientCapacity:
		return "InsufficientCapacity"
	case LaunchFailure:
		return "LaunchFailure"
	case AgentUnreachable:
		return "AgentUnreachable"
	case InvariantViolation:
		return "InvariantViolation"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a classified scheduler error.
type Error struct {
	Kind  ErrorKind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

// Cause supports errors.Cause unwrapping.
func (e *Error) Cause() error {
	return e.cause
}

// NewError wraps cause with a scheduler error kind.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// Errorf creates a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, cause: errors.Errorf(format, args...)}
}

// KindOf returns the classification of err, walking wrapped causes.
// Unclassified errors report as AgentUnreachable=false etc via ok=false.
func KindOf(err error) (ErrorKind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return 0, false
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
