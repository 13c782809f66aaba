package models

import "fmt"

// ValidationError rejects bad input before any write happens. The caller
// can recover by correcting the input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateConflictError rejects an operation the record's current state
// forbids, such as regenerating a schedule that already has payments.
// No partial mutation occurs.
type StateConflictError struct {
	Msg string
}

func (e *StateConflictError) Error() string { return e.Msg }

// Conflictf builds a StateConflictError.
func Conflictf(format string, args ...any) error {
	return &StateConflictError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown record id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
