package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError indicates malformed or missing input; it is always caught
// before any store write is attempted.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// PermissionError indicates that the caller lacks rights for the requested
// mutation (e.g. deleting a record that is no longer pending). The operation
// is aborted with no partial state change.
type PermissionError struct {
	message string
}

func NewPermissionError(msg string) error {
	return &PermissionError{message: msg}
}

func (err PermissionError) Error() string {
	return err.message
}

func IsPermission(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

// TransportError indicates a subscription or write that failed due to
// connectivity or the backing store. Read-path failures degrade the affected
// partition to empty-with-warning; write-path failures are surfaced once per
// attempt with no automatic retry.
type TransportError struct {
	Op  string
	Err error
}

func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func (err TransportError) Error() string {
	return err.Op + ": " + err.Err.Error()
}

func (err TransportError) Unwrap() error { return err.Err }

func IsTransport(err error) bool {
	_, ok := errors.Cause(err).(*TransportError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
