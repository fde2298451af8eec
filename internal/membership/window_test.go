package membership

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingledger/internal/clock"
	apperrors "lendingledger/internal/errors"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWindow_Check(t *testing.T) {
	user := User{
		ID:                   uuid.New(),
		MembershipStartDate:  day("2023-12-15"),
		MembershipExpiryDate: day("2024-01-05"),
	}
	window := NewWindow(clock.Fixed(day("2023-12-31").Add(18 * time.Hour)))

	tests := []struct {
		name   string
		borrow time.Time
		due    time.Time
		reason string
	}{
		{name: "inside window", borrow: day("2024-01-01"), due: day("2024-01-05")},
		{name: "borrow today", borrow: day("2023-12-31"), due: day("2024-01-02")},
		{name: "due after expiry", borrow: day("2024-01-01"), due: day("2024-01-10"), reason: ReasonDueAfterExpiry},
		{name: "borrow in the past", borrow: day("2023-12-20"), due: day("2024-01-02"), reason: ReasonBorrowDateInPast},
		{name: "due equals borrow", borrow: day("2024-01-02"), due: day("2024-01-02"), reason: ReasonDueNotAfterBorrow},
		{name: "due before borrow", borrow: day("2024-01-03"), due: day("2024-01-02"), reason: ReasonDueNotAfterBorrow},
		{name: "time of day ignored", borrow: day("2024-01-01").Add(23 * time.Hour), due: day("2024-01-05").Add(20 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := window.Check(user, tt.borrow, tt.due)
			if tt.reason == "" {
				assert.NoError(t, err)
				assert.True(t, window.IsEligible(user, tt.borrow, tt.due))
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrDateOutsideMembership)
			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.reason, appErr.Metadata["reason"])
			assert.False(t, window.IsEligible(user, tt.borrow, tt.due))
		})
	}
}

func TestWindow_BeforeMembershipStart(t *testing.T) {
	user := User{
		MembershipStartDate:  day("2024-02-01"),
		MembershipExpiryDate: day("2024-12-31"),
	}
	window := NewWindow(clock.Fixed(day("2024-01-01")))

	err := window.Check(user, day("2024-01-15"), day("2024-02-15"))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBeforeMembershipStart, appErr.Metadata["reason"])

	assert.NoError(t, window.Check(user, day("2024-02-01"), day("2024-02-15")))
}

func TestNewUser(t *testing.T) {
	user, err := NewUser(" Ada ", "ada@example.com", day("2024-01-01").Add(5*time.Hour), day("2024-06-30"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, day("2024-01-01"), user.MembershipStartDate)

	_, err = NewUser("Ada", "", day("2024-06-30"), day("2024-01-01"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidMembership)

	_, err = NewUser("Ada", "", time.Time{}, day("2024-01-01"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = NewUser("Ada", "", day("2024-01-01"), day("2024-01-01"))
	assert.NoError(t, err)
}
