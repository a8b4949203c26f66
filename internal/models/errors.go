package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found in the data store
	ErrNotFound = errors.New("entity not found")
	// ErrConflict is returned when a versioned write lost a race.
	ErrConflict = errors.New("version conflict")
	// ErrTransient marks store or cache failures that may succeed on retry,
	// including timeouts.
	ErrTransient = errors.New("transient store failure")
)

// ValidationError describes a rejected campaign payload. No mutation happens
// when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StoreError wraps a backend failure so that errors.Is(err, ErrTransient)
// holds while the driver error stays inspectable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// Transient wraps err as a StoreError for op. Nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
