package catalog

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	apperrors "lendingledger/internal/errors"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan10 = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
)

func newTestBook(t *testing.T, total int) Book {
	t.Helper()
	book, err := NewBook("The Left Hand of Darkness", "Ursula K. Le Guin", total)
	require.NoError(t, err)
	committed, _ := book.Commit(time.Now())
	return committed
}

func TestNewBook(t *testing.T) {
	book, err := NewBook("  Dune ", "Frank Herbert", 3)
	require.NoError(t, err)

	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)
	assert.Empty(t, book.BorrowRecords)
	assert.NoError(t, book.CheckInvariant())

	changes := book.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, EventBookAdded, changes[0].Type)

	_, err = NewBook("Dune", "Frank Herbert", -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestBook_LendingScenario(t *testing.T) {
	userA, userB, userC := uuid.New(), uuid.New(), uuid.New()
	book := newTestBook(t, 2)

	book, recordA, err := book.ApplyBorrow(userA, jan1, jan10)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, recordA)
	assert.Equal(t, 1, book.AvailableCopies)
	require.Len(t, book.BorrowRecords, 1)
	assert.Equal(t, userA, book.BorrowRecords[0].UserID)

	again, _, err := book.ApplyBorrow(userA, jan1, jan10)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyBorrowed)
	assert.Equal(t, book, again)

	book, _, err = book.ApplyBorrow(userB, jan1, jan10)
	require.NoError(t, err)
	assert.Equal(t, 0, book.AvailableCopies)
	assert.Len(t, book.BorrowRecords, 2)

	_, _, err = book.ApplyBorrow(userC, jan1, jan10)
	assert.ErrorIs(t, err, apperrors.ErrNoCopiesAvailable)

	book, removed, err := book.ApplyReturn(ByUser(userA))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, book.AvailableCopies)
	require.Len(t, book.BorrowRecords, 1)
	assert.Equal(t, userB, book.BorrowRecords[0].UserID)
}

func TestBook_ApplyBorrowChecksCopiesBeforeDuplicate(t *testing.T) {
	user := uuid.New()
	book := newTestBook(t, 1)

	book, _, err := book.ApplyBorrow(user, jan1, jan10)
	require.NoError(t, err)

	_, _, err = book.ApplyBorrow(user, jan1, jan10)
	assert.ErrorIs(t, err, apperrors.ErrNoCopiesAvailable)
}

func TestBook_ApplyBorrowDoesNotAlias(t *testing.T) {
	book := newTestBook(t, 3)
	before := book.Clone()

	next, _, err := book.ApplyBorrow(uuid.New(), jan1, jan10)
	require.NoError(t, err)

	assert.Equal(t, before, book.Clone())
	assert.Empty(t, book.BorrowRecords)
	assert.Len(t, next.BorrowRecords, 1)
}

func TestBook_ApplyBorrowNormalizesDates(t *testing.T) {
	book := newTestBook(t, 1)

	book, _, err := book.ApplyBorrow(uuid.New(), jan1.Add(15*time.Hour), jan10.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, jan1, book.BorrowRecords[0].BorrowDate)
	assert.Equal(t, jan10, book.BorrowRecords[0].DueDate)
}

func TestBook_ApplyReturn(t *testing.T) {
	user := uuid.New()
	book := newTestBook(t, 2)
	book, recordID, err := book.ApplyBorrow(user, jan1, jan10)
	require.NoError(t, err)

	t.Run("by record", func(t *testing.T) {
		next, removed, err := book.ApplyReturn(ByRecord(recordID))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Equal(t, 2, next.AvailableCopies)
		assert.Empty(t, next.BorrowRecords)
	})

	t.Run("unknown record", func(t *testing.T) {
		_, _, err := book.ApplyReturn(ByRecord(uuid.New()))
		assert.ErrorIs(t, err, apperrors.ErrNoMatchingRecord)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := book.ApplyReturn(ByUser(uuid.New()))
		assert.ErrorIs(t, err, apperrors.ErrNoMatchingRecord)
	})

	t.Run("empty selector", func(t *testing.T) {
		_, _, err := book.ApplyReturn(Selector{})
		assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	})

	t.Run("both selectors", func(t *testing.T) {
		_, _, err := book.ApplyReturn(Selector{RecordID: recordID, UserID: user})
		assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	})
}

func TestBook_ReturnedEventNamesUserOnlyForUserReturns(t *testing.T) {
	user := uuid.New()
	book := newTestBook(t, 2)
	book, recordID, err := book.ApplyBorrow(user, jan1, jan10)
	require.NoError(t, err)

	returnedPayload := func(t *testing.T, sel Selector) map[string]interface{} {
		t.Helper()
		next, _, err := book.ApplyReturn(sel)
		require.NoError(t, err)
		_, events := next.Commit(jan10)
		require.Len(t, events, 1)
		require.Equal(t, EventBookReturned, events[0].Type)

		raw, err := json.Marshal(events[0].Data)
		require.NoError(t, err)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &payload))
		return payload
	}

	t.Run("by record", func(t *testing.T) {
		payload := returnedPayload(t, ByRecord(recordID))
		assert.NotContains(t, payload, "user_id")
		assert.Equal(t, []interface{}{recordID.String()}, payload["record_ids"])
	})

	t.Run("by user", func(t *testing.T) {
		payload := returnedPayload(t, ByUser(user))
		assert.Equal(t, user.String(), payload["user_id"])
		assert.Equal(t, float64(2), payload["available_copies"])
	})
}

func TestBook_WithTotalCopies(t *testing.T) {
	book := newTestBook(t, 2)
	book, _, err := book.ApplyBorrow(uuid.New(), jan1, jan10)
	require.NoError(t, err)
	book, _, err = book.ApplyBorrow(uuid.New(), jan1, jan10)
	require.NoError(t, err)

	_, err = book.WithTotalCopies(1)
	assert.ErrorIs(t, err, apperrors.ErrTotalBelowBorrowed)

	grown, err := book.WithTotalCopies(5)
	require.NoError(t, err)
	assert.Equal(t, 5, grown.TotalCopies)
	assert.Equal(t, 3, grown.AvailableCopies)
	assert.NoError(t, grown.CheckInvariant())

	exact, err := book.WithTotalCopies(2)
	require.NoError(t, err)
	assert.Equal(t, 0, exact.AvailableCopies)
}

func TestBook_CorruptSnapshotIsRejected(t *testing.T) {
	book := newTestBook(t, 2)
	book.AvailableCopies = 1

	_, _, err := book.ApplyBorrow(uuid.New(), jan1, jan10)
	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)
}

func TestBook_CommitStampsEvents(t *testing.T) {
	book := newTestBook(t, 2)
	require.Equal(t, int64(1), book.Version)
	assert.Empty(t, book.Changes())

	next, _, err := book.ApplyBorrow(uuid.New(), jan1, jan10)
	require.NoError(t, err)

	committed, events := next.Commit(jan10)
	assert.Equal(t, int64(2), committed.Version)
	assert.Empty(t, committed.Changes())
	require.Len(t, events, 1)
	assert.Equal(t, book.ID, events[0].BookID)
	assert.Equal(t, int64(2), events[0].Version)
	assert.Equal(t, EventBookBorrowed, events[0].Type)
}

// Random borrow/return sequences keep the invariant and conserve copies.
func TestBook_InvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 6).Draw(t, "total")
		users := make([]uuid.UUID, rapid.IntRange(1, 8).Draw(t, "users"))
		for i := range users {
			users[i] = uuid.New()
		}

		book, err := NewBook("t", "a", total)
		if err != nil {
			t.Fatalf("new book: %v", err)
		}
		active := map[uuid.UUID]bool{}

		steps := rapid.IntRange(0, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			user := rapid.SampledFrom(users).Draw(t, "user")
			before := book.Clone()

			if rapid.Bool().Draw(t, "borrow") {
				next, _, err := book.ApplyBorrow(user, jan1, jan10)
				switch {
				case err == nil:
					if active[user] || before.AvailableCopies == 0 {
						t.Fatalf("borrow should have been rejected")
					}
					active[user] = true
					book = next
				case apperrors.CodeOf(err) == apperrors.CodeNoCopiesAvailable:
					if before.AvailableCopies != 0 {
						t.Fatalf("no copies reported with %d available", before.AvailableCopies)
					}
				case apperrors.CodeOf(err) == apperrors.CodeAlreadyBorrowed:
					if !active[user] {
						t.Fatalf("already borrowed reported for inactive user")
					}
				default:
					t.Fatalf("unexpected borrow error: %v", err)
				}
			} else {
				next, removed, err := book.ApplyReturn(ByUser(user))
				switch {
				case err == nil:
					if !active[user] || removed != 1 {
						t.Fatalf("return removed %d for active=%v", removed, active[user])
					}
					delete(active, user)
					book = next
				case apperrors.CodeOf(err) == apperrors.CodeNoMatchingRecord:
					if active[user] {
						t.Fatalf("active user reported as no matching record")
					}
				default:
					t.Fatalf("unexpected return error: %v", err)
				}
			}

			if err := book.CheckInvariant(); err != nil {
				t.Fatalf("invariant broken: %v", err)
			}
			if book.AvailableCopies != total-len(active) {
				t.Fatalf("available %d, want %d", book.AvailableCopies, total-len(active))
			}
		}
	})
}

// Borrow followed by return restores the pre-borrow counts and records.
func TestBook_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 5).Draw(t, "total")
		book, err := NewBook("t", "a", total)
		if err != nil {
			t.Fatalf("new book: %v", err)
		}
		lent := rapid.IntRange(0, total-1).Draw(t, "lent")
		for i := 0; i < lent; i++ {
			if book, _, err = book.ApplyBorrow(uuid.New(), jan1, jan10); err != nil {
				t.Fatalf("seed borrow: %v", err)
			}
		}
		before := book.Clone()

		user := uuid.New()
		borrowed, recordID, err := book.ApplyBorrow(user, jan1, jan10)
		if err != nil {
			t.Fatalf("borrow: %v", err)
		}

		sel := ByUser(user)
		if rapid.Bool().Draw(t, "by record") {
			sel = ByRecord(recordID)
		}
		returned, _, err := borrowed.ApplyReturn(sel)
		if err != nil {
			t.Fatalf("return: %v", err)
		}

		if returned.AvailableCopies != before.AvailableCopies {
			t.Fatalf("available %d, want %d", returned.AvailableCopies, before.AvailableCopies)
		}
		if len(returned.BorrowRecords) != len(before.BorrowRecords) {
			t.Fatalf("records %d, want %d", len(returned.BorrowRecords), len(before.BorrowRecords))
		}
		for i := range before.BorrowRecords {
			if returned.BorrowRecords[i] != before.BorrowRecords[i] {
				t.Fatalf("record %d changed", i)
			}
		}
	})
}
