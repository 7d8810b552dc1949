// Package domain defines the core batch entities and errors.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyItemID is returned when an item has no identifier.
	ErrEmptyItemID = errors.New("item ID cannot be empty")

	// ErrInvalidResultStatus is returned when a result status is not valid.
	ErrInvalidResultStatus = errors.New("invalid result status")

	// ErrInputMismatch is returned when a run is resumed against state that was
	// produced from a different input set.
	ErrInputMismatch = errors.New("input set does not match existing run state")

	// ErrRunLocked is returned when another process owns the run state directory.
	ErrRunLocked = errors.New("run state is locked by another process")
)

// InvalidInputError reports why an input set cannot be run. It is fatal to the
// run and is raised before any work is dispatched.
type InvalidInputError struct {
	Reason       string
	DuplicateIDs []string
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	if len(e.DuplicateIDs) == 0 {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Reason, strings.Join(e.DuplicateIDs, ", "))
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *InvalidInputError) Unwrap() error {
	return ErrValidation
}
