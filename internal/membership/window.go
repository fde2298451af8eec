// internal/membership/window.go
package membership

import (
	"time"

	"lendingledger/internal/clock"
	apperrors "lendingledger/internal/errors"
)

// Reasons attached to DATE_OUTSIDE_MEMBERSHIP errors under the "reason" metadata key.
const (
	ReasonBeforeMembershipStart = "borrow_date_before_membership_start"
	ReasonBorrowDateInPast      = "borrow_date_in_past"
	ReasonDueAfterExpiry        = "due_date_after_membership_expiry"
	ReasonDueNotAfterBorrow     = "due_date_not_after_borrow_date"
)

// Window decides whether a borrow period fits inside a user's membership.
type Window struct {
	Clock clock.Clock
}

// NewWindow returns a Window evaluating "today" against c.
func NewWindow(c clock.Clock) Window {
	if c == nil {
		c = clock.System{}
	}
	return Window{Clock: c}
}

// IsEligible reports whether borrowDate..dueDate lies inside the user's membership.
func (w Window) IsEligible(user User, borrowDate, dueDate time.Time) bool {
	return w.Check(user, borrowDate, dueDate) == nil
}

// Check is IsEligible returning the failed rule as a DATE_OUTSIDE_MEMBERSHIP error.
//
// Eligible iff borrowDate >= max(start, today), dueDate <= expiry and dueDate > borrowDate,
// all compared as calendar days.
func (w Window) Check(user User, borrowDate, dueDate time.Time) error {
	borrow, due := clock.Date(borrowDate), clock.Date(dueDate)
	start := clock.Date(user.MembershipStartDate)
	today := clock.Today(w.Clock)

	switch {
	case borrow.Before(start):
		return outside(ReasonBeforeMembershipStart, "borrow date precedes membership start", borrow, due)
	case borrow.Before(today):
		return outside(ReasonBorrowDateInPast, "borrow date is before today", borrow, due)
	case due.After(clock.Date(user.MembershipExpiryDate)):
		return outside(ReasonDueAfterExpiry, "due date exceeds membership expiry", borrow, due)
	case !due.After(borrow):
		return outside(ReasonDueNotAfterBorrow, "due date must be after borrow date", borrow, due)
	}
	return nil
}

func outside(reason, message string, borrow, due time.Time) error {
	return apperrors.WithMetadata(apperrors.CodeDateOutsideMembership, message, map[string]string{
		"reason":      reason,
		"borrow_date": borrow.Format(time.DateOnly),
		"due_date":    due.Format(time.DateOnly),
	})
}
