// internal/errors/errors.go

// Package errors provides the structured error taxonomy shared by the lending ledger.
package errors

import (
	stderrors "errors"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human readable message, safe to show to callers
	Metadata map[string]string // Additional context (ids, reasons)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the kind of the error code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error carrying context for the caller.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

var (
	ErrBookNotFound     = New(CodeBookNotFound, "book not found")
	ErrUserNotFound     = New(CodeUserNotFound, "user not found")
	ErrNoMatchingRecord = New(CodeNoMatchingRecord, "no matching borrow record")

	ErrNoCopiesAvailable  = New(CodeNoCopiesAvailable, "no copies available for borrowing")
	ErrAlreadyBorrowed    = New(CodeAlreadyBorrowed, "user has already borrowed this book")
	ErrTooManyRetries     = New(CodeTooManyRetries, "book is busy, retry the request")
	ErrTotalBelowBorrowed = New(CodeTotalBelowBorrowed, "total copies cannot be lower than borrowed copies")
	ErrBookHasActiveLoans = New(CodeBookHasActiveLoans, "book has active borrow records")

	ErrDateOutsideMembership = New(CodeDateOutsideMembership, "requested dates fall outside the membership window")
	ErrInvalidMembership     = New(CodeInvalidMembership, "membership expiry must not precede its start")
	ErrInvalidArgument       = New(CodeInvalidArgument, "invalid argument")

	ErrStorageFailure     = New(CodeStorageFailure, "storage failure")
	ErrInvariantViolation = New(CodeInvariantViolation, "book invariant violated")
)

// Invalid returns an INVALID_ARGUMENT error naming the offending field.
func Invalid(field, reason string) *Error {
	return WithMetadata(CodeInvalidArgument, field+": "+reason, map[string]string{"field": field})
}

// StorageFailure wraps a collaborator I/O error.
func StorageFailure(cause error) *Error {
	return Wrap(CodeStorageFailure, "storage failure", cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeUnknown
}
