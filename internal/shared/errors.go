package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input. Never partially applied.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates the target is in a state that forbids the action.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration indicates missing reference data (rates, base currency, mappings).
	ErrConfiguration = errors.New("configuration problem")
)

// Error is a coded domain error that unwraps to one of the kind sentinels.
type Error struct {
	Kind error
	Code string
	Msg  string
}

// NewError declares a coded domain error of the given kind.
func NewError(kind error, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// StateError decorates a state conflict with the state observed at the time of the call.
type StateError struct {
	Err   error
	State string
}

// WithState attaches the current state to err.
func WithState(err error, state string) error {
	return &StateError{Err: err, State: state}
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s (current state: %s)", e.Err.Error(), e.State)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// Invalid wraps a free-form validation message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Missing wraps a free-form not-found message.
func Missing(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// CurrentState extracts the reported state from err, if any.
func CurrentState(err error) (string, bool) {
	var se *StateError
	if errors.As(err, &se) {
		return se.State, true
	}
	return "", false
}

// ErrorCode extracts the code of the first coded error in the chain.
func ErrorCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
