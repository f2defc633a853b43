package newsletter

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrValidation    = errors.New("validation failed")
	ErrEmailRequired = fmt.Errorf("%w: email is required", ErrValidation)
	ErrInvalidEmail  = fmt.Errorf("%w: invalid email format", ErrValidation)
)

// State errors.
var (
	ErrAlreadySubscribed  = errors.New("email is already subscribed")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// ErrDuplicateEmail is returned by repositories when an insert hits the
// unique email constraint.
var ErrDuplicateEmail = errors.New("duplicate subscriber email")

// StoreError wraps an unexpected failure of the subscriber store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("newsletter store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
