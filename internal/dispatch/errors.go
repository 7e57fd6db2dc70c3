package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for dispatch outcome classification.
// Use errors.Is(err, dispatch.ErrTransient) to check.
var (
	ErrTransient = errors.New("dispatch: transient failure")
	ErrPermanent = errors.New("dispatch: permanent failure")
	ErrConflict  = errors.New("dispatch: conflict")
	ErrNoHandler = fmt.Errorf("%w: no handler registered", ErrPermanent)
)

// TransientError is a network or 5xx-class failure. The action stays queued
// and is retried on a later sync run.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("dispatch: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// PermanentError is a 4xx-class or domain rejection. The action is abandoned.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("dispatch: permanent failure in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func (e *PermanentError) Is(target error) bool { return target == ErrPermanent }

// ConflictError reports that the remote record changed after the action was
// queued. ServerModifiedAt is the remote side's last modification time; the
// zero value means the remote did not say.
type ConflictError struct {
	ServerModifiedAt time.Time
	Reason           string
}

func (e *ConflictError) Error() string {
	if e.ServerModifiedAt.IsZero() {
		return "dispatch: conflict: " + e.Reason
	}

	return fmt.Sprintf("dispatch: conflict (server modified %s): %s",
		e.ServerModifiedAt.UTC().Format(time.RFC3339), e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// Conflict builds a ConflictError.
func Conflict(serverModifiedAt time.Time, reason string) error {
	return &ConflictError{ServerModifiedAt: serverModifiedAt, Reason: reason}
}

// Class is the retry classification of a dispatch outcome.
type Class int

// Outcome classes.
const (
	ClassNone Class = iota
	ClassTransient
	ClassPermanent
	ClassConflict
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassConflict:
		return "conflict"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Classify maps a handler error to its retry class. Timeouts and errors that
// carry no classification are transient: they are retried until the action's
// retry ceiling abandons it.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrConflict):
		return ClassConflict
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	default:
		return ClassTransient
	}
}
