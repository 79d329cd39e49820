package subscription

import (
	"errors"
	"fmt"
)

// Sentinel errors for the subscription service layer.
var (
	// ErrTokenNotFound means the token does not resolve to any subscriber.
	// It is an outcome, not an infrastructure failure.
	ErrTokenNotFound = errors.New("confirmation token not found")

	// ErrMissingToken means the confirmation request carried no token.
	ErrMissingToken = errors.New("confirmation token is required")

	// ErrSubscriberNotFound is returned by repositories for unknown ids.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrTransient and ErrConflict match StoreError kinds via errors.Is.
	ErrTransient = errors.New("transient store failure")
	ErrConflict  = errors.New("store conflict")
)

// StoreErrorKind classifies store failures by how the caller should react.
type StoreErrorKind int

const (
	// Transient failures are safe to retry with the same input.
	Transient StoreErrorKind = iota
	// Conflict failures (e.g. duplicate email) will fail again unless the
	// input changes.
	Conflict
)

func (k StoreErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Conflict:
		return "conflict"
	}
	return "unknown"
}

// StoreError wraps a persistence failure with its retry classification.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

// NewTransientError wraps err as a retryable store failure.
func NewTransientError(op string, err error) *StoreError {
	return &StoreError{Kind: Transient, Op: op, Err: err}
}

// NewConflictError wraps err as a non-retryable store conflict.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Kind: Conflict, Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s store error: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets callers test the kind with errors.Is(err, ErrConflict).
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == Transient
	case ErrConflict:
		return e.Kind == Conflict
	}
	return false
}

// Retryable reports whether repeating the operation unchanged may succeed.
func (e *StoreError) Retryable() bool { return e.Kind == Transient }

// NotifyError reports that the confirmation message could not be delivered.
// The subscriber stays pending when this happens.
type NotifyError struct {
	SubscriberID string
	Err          error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify subscriber %s: %v", e.SubscriberID, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }
