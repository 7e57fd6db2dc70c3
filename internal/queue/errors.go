package queue

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, queue.ErrStorage) to check.
var (
	ErrStorage    = errors.New("queue: storage unavailable")
	ErrValidation = errors.New("queue: invalid action")
)

// StorageError reports that the durable medium rejected an operation (disk
// full, corrupted database, closed handle). An Append that fails with a
// StorageError did not queue the action.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("queue: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes every StorageError match ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// ValidationError rejects a malformed action before it reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("queue: invalid %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
