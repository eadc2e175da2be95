package api

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a flow node instance id is unknown to the
// ledger. Typed errors below wrap it so callers can match with errors.Is.
var ErrNotFound = errors.New("flow node instance not found")

// NotFoundError carries the id that failed to resolve.
type NotFoundError struct {
	InstanceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flow node instance not found: %s", e.InstanceID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ErrInvalidStateTransition is the sentinel for all rejected lifecycle
// transitions.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// InvalidStateTransitionError reports a lifecycle transition attempted from
// an incompatible state. The previous snapshot remains the latest valid
// state; the caller decides whether to retry or abort.
type InvalidStateTransitionError struct {
	InstanceID string
	From       InstanceState
	Op         string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s instance %s in state %s", e.Op, e.InstanceID, e.From)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// IsInvalidStateTransition reports whether err is a rejected transition.
func IsInvalidStateTransition(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition)
}

// ErrPersistence is the sentinel for failures of the underlying store.
var ErrPersistence = errors.New("persistence failure")

// PersistenceError wraps a store failure surfaced through the ledger. The
// attempted transition has not been applied; callers must re-check the
// current state before retrying a write, since a blind retry could apply a
// transition twice.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ErrValidation is the sentinel for malformed input rejected before any
// store access.
var ErrValidation = errors.New("validation error")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
