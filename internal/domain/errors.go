// Package domain holds the error taxonomy shared by every aggregate.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a linked account
	// and the user has none.
	ErrNotConnected = errors.New("no linked account for user")

	// ErrSyncInProgress is returned when another sync holds the user's lock.
	ErrSyncInProgress = errors.New("sync already in progress for user")

	// ErrCursorConflict is returned when a batch commit finds a stored cursor
	// different from the one the batch was fetched from.
	ErrCursorConflict = errors.New("stored cursor changed during sync")
)

// PersistenceError reports a failed read or write against the connection store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err as a PersistenceError unless it is nil or already one
// of the sentinel outcomes callers branch on.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrCursorConflict) || errors.Is(err, ErrSyncInProgress) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
