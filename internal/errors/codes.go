// internal/errors/codes.go
package errors

import "net/http"

// Kind groups codes by how a caller should react to them.
type Kind string

const (
	KindNotFound Kind = "NOT_FOUND"
	KindConflict Kind = "CONFLICT"
	KindInvalid  Kind = "INVALID"
	KindInternal Kind = "INTERNAL"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Not found
	CodeBookNotFound     Code = "BOOK_NOT_FOUND"
	CodeUserNotFound     Code = "USER_NOT_FOUND"
	CodeNoMatchingRecord Code = "NO_MATCHING_RECORD"

	// Lending conflicts
	CodeNoCopiesAvailable  Code = "NO_COPIES_AVAILABLE"
	CodeAlreadyBorrowed    Code = "ALREADY_BORROWED"
	CodeTooManyRetries     Code = "TOO_MANY_RETRIES"
	CodeTotalBelowBorrowed Code = "TOTAL_BELOW_BORROWED"
	CodeBookHasActiveLoans Code = "BOOK_HAS_ACTIVE_LOANS"

	// Validation
	CodeDateOutsideMembership Code = "DATE_OUTSIDE_MEMBERSHIP"
	CodeInvalidMembership     Code = "INVALID_MEMBERSHIP_RANGE"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"

	// Infrastructure
	CodeStorageFailure     Code = "STORAGE_FAILURE"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// Transport
	CodeRateLimited Code = "RATE_LIMITED"
)

// Kind maps a code to its error kind.
func (c Code) Kind() Kind {
	switch c {
	case CodeBookNotFound, CodeUserNotFound, CodeNoMatchingRecord:
		return KindNotFound
	case CodeNoCopiesAvailable,
		CodeAlreadyBorrowed,
		CodeTooManyRetries,
		CodeTotalBelowBorrowed,
		CodeBookHasActiveLoans:
		return KindConflict
	case CodeDateOutsideMembership, CodeInvalidMembership, CodeInvalidArgument:
		return KindInvalid
	default:
		return KindInternal
	}
}

// HTTPStatus maps a code to the status the HTTP layer answers with.
func (c Code) HTTPStatus() int {
	if c == CodeRateLimited {
		return http.StatusTooManyRequests
	}
	switch c.Kind() {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may immediately retry the same request.
func (c Code) Retryable() bool {
	return c == CodeTooManyRetries || c == CodeStorageFailure || c == CodeRateLimited
}
