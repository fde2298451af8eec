// internal/membership/domain.go
package membership

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"lendingledger/internal/clock"
	apperrors "lendingledger/internal/errors"
)

// User is a library member as seen by the lending ledger. Read-only to lending.
type User struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	MembershipStartDate  time.Time `json:"membership_start_date"`
	MembershipExpiryDate time.Time `json:"membership_expiry_date"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewUser builds a user with a fresh id. Membership dates are truncated to calendar days.
func NewUser(name, email string, start, expiry time.Time) (User, error) {
	if start.IsZero() {
		return User{}, apperrors.Invalid("membership_start_date", "is required")
	}
	if expiry.IsZero() {
		return User{}, apperrors.Invalid("membership_expiry_date", "is required")
	}
	start, expiry = clock.Date(start), clock.Date(expiry)
	if expiry.Before(start) {
		return User{}, apperrors.WithMetadata(apperrors.CodeInvalidMembership, apperrors.ErrInvalidMembership.Message, map[string]string{
			"membership_start_date":  start.Format(time.DateOnly),
			"membership_expiry_date": expiry.Format(time.DateOnly),
		})
	}

	return User{
		ID:                   uuid.New(),
		Name:                 strings.TrimSpace(name),
		Email:                strings.TrimSpace(email),
		MembershipStartDate:  start,
		MembershipExpiryDate: expiry,
		CreatedAt:            time.Now().UTC(),
	}, nil
}
