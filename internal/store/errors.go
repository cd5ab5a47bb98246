// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Backend implementations and the components
// built on top of them, following the same errors.New + typed-wrapper
// pattern as the teacher's errors.go.
var (
	// ErrNotFound is returned when an object, snapshot or tag id is unknown
	// to the backend.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an append-only write collides with an
	// existing record at the same id (a genuine hash collision, or a racing
	// writer).
	ErrConflict = errors.New("store: conflict")
)

// BackendUnavailableError wraps a transport/auth failure talking to a cloud
// backend. It is distinct from ErrNotFound: the object may well exist, the
// backend just could not be reached.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("store: backend %q unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// InvariantViolationError marks data that a backend returned successfully
// but which fails a structural invariant the rest of the engine relies on
// (a record of the wrong size, a hash that doesn't match its content).
type InvariantViolationError struct {
	What string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("store: invariant violation: %s", e.What)
}

// DecoratorError wraps a failure in the compress/encrypt pipeline applied
// to blobs on their way to and from a Backend.
type DecoratorError struct {
	Op  string
	Err error
}

func (e *DecoratorError) Error() string {
	return fmt.Sprintf("store: decorator %s: %v", e.Op, e.Err)
}

func (e *DecoratorError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBackendUnavailable reports whether err is or wraps a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var bu *BackendUnavailableError
	return errors.As(err, &bu)
}
