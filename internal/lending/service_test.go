package lending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingledger/internal/catalog"
	"lendingledger/internal/clock"
	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/membership"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan5  = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	jan10 = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc   Service
	store *catalog.MemoryStore
	users *membership.MemoryDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := catalog.NewMemoryStore()
	guard, err := catalog.NewGuard(store, catalog.WithBaseDelay(0))
	require.NoError(t, err)

	users := membership.NewMemoryDirectory()
	svc, err := NewService(store, guard, users, membership.NewWindow(clock.Fixed(jan1.Add(9*time.Hour))), nil)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, users: users}
}

func (f *fixture) addBook(t *testing.T, total int) catalog.Book {
	t.Helper()
	book, err := catalog.NewBook("A Wizard of Earthsea", "Ursula K. Le Guin", total)
	require.NoError(t, err)
	created, err := f.store.CreateBook(context.Background(), book)
	require.NoError(t, err)
	return created
}

func (f *fixture) addUser(t *testing.T, expiry time.Time) uuid.UUID {
	t.Helper()
	user, err := membership.NewUser("member", "member@example.com", jan1.AddDate(0, -1, 0), expiry)
	require.NoError(t, err)
	require.NoError(t, f.users.CreateUser(context.Background(), user))
	return user.ID
}

func (f *fixture) book(t *testing.T, id uuid.UUID) catalog.Book {
	t.Helper()
	book, err := f.store.GetBook(context.Background(), id)
	require.NoError(t, err)
	return book
}

func TestBorrowAndReturnScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 2)
	expiry := jan1.AddDate(1, 0, 0)
	userA, userB, userC := f.addUser(t, expiry), f.addUser(t, expiry), f.addUser(t, expiry)

	res, err := f.svc.Borrow(ctx, book.ID, userA, jan1, jan10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Book.AvailableCopies)
	require.Len(t, res.Book.BorrowRecords, 1)
	assert.Equal(t, userA, res.Book.BorrowRecords[0].UserID)
	assert.Equal(t, res.BorrowRecordID, res.Book.BorrowRecords[0].ID)

	before := f.book(t, book.ID)
	_, err = f.svc.Borrow(ctx, book.ID, userA, jan1, jan10)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyBorrowed)
	assert.Equal(t, before, f.book(t, book.ID))

	res, err = f.svc.Borrow(ctx, book.ID, userB, jan1, jan10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Book.AvailableCopies)
	assert.Len(t, res.Book.BorrowRecords, 2)

	_, err = f.svc.Borrow(ctx, book.ID, userC, jan1, jan10)
	assert.ErrorIs(t, err, apperrors.ErrNoCopiesAvailable)

	returned, err := f.svc.ReturnByUser(ctx, book.ID, userA)
	require.NoError(t, err)
	assert.Equal(t, 1, returned.AvailableCopies)
	require.Len(t, returned.BorrowRecords, 1)
	assert.Equal(t, userB, returned.BorrowRecords[0].UserID)
}

func TestBorrowOutsideMembershipLeavesBookUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 1)
	user := f.addUser(t, jan5)

	_, err := f.svc.Borrow(ctx, book.ID, user, jan1, jan10)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDateOutsideMembership)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, membership.ReasonDueAfterExpiry, appErr.Metadata["reason"])

	assert.Equal(t, book, f.book(t, book.ID))
}

func TestBorrowNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 1)
	user := f.addUser(t, jan10)

	_, err := f.svc.Borrow(ctx, book.ID, uuid.New(), jan1, jan5)
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

	_, err = f.svc.Borrow(ctx, uuid.New(), user, jan1, jan5)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)

	_, err = f.svc.Borrow(ctx, uuid.Nil, user, jan1, jan5)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestReturnRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, 3)
	other := f.addUser(t, jan10)
	user := f.addUser(t, jan10)

	_, err := f.svc.Borrow(ctx, book.ID, other, jan1, jan5)
	require.NoError(t, err)
	before := f.book(t, book.ID)

	t.Run("by record", func(t *testing.T) {
		res, err := f.svc.Borrow(ctx, book.ID, user, jan1, jan5)
		require.NoError(t, err)

		after, err := f.svc.ReturnByRecord(ctx, book.ID, res.BorrowRecordID)
		require.NoError(t, err)
		assert.Equal(t, before.AvailableCopies, after.AvailableCopies)
		assert.Equal(t, before.BorrowRecords, after.BorrowRecords)
	})

	t.Run("by user", func(t *testing.T) {
		_, err := f.svc.Borrow(ctx, book.ID, user, jan1, jan5)
		require.NoError(t, err)

		after, err := f.svc.ReturnByUser(ctx, book.ID, user)
		require.NoError(t, err)
		assert.Equal(t, before.AvailableCopies, after.AvailableCopies)
		assert.Equal(t, before.BorrowRecords, after.BorrowRecords)
	})

	t.Run("nothing to return", func(t *testing.T) {
		_, err := f.svc.ReturnByUser(ctx, book.ID, user)
		assert.ErrorIs(t, err, apperrors.ErrNoMatchingRecord)

		_, err = f.svc.ReturnByRecord(ctx, book.ID, uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrNoMatchingRecord)
	})
}

func TestConcurrentBorrowsNeverOversubscribe(t *testing.T) {
	const copies, extra = 10, 15
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, copies)

	users := make([]uuid.UUID, copies+extra)
	for i := range users {
		users[i] = f.addUser(t, jan10)
	}

	errs := make([]error, len(users))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, user := range users {
		wg.Add(1)
		go func(i int, user uuid.UUID) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Borrow(ctx, book.ID, user, jan1, jan5)
		}(i, user)
	}
	close(start)
	wg.Wait()

	var ok, noCopies int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperrors.ErrNoCopiesAvailable):
			noCopies++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, copies, ok)
	assert.Equal(t, extra, noCopies)

	final := f.book(t, book.ID)
	assert.Equal(t, 0, final.AvailableCopies)
	assert.Len(t, final.BorrowRecords, copies)
	assert.NoError(t, final.CheckInvariant())
}

func TestConcurrentDuplicateBorrowsRejected(t *testing.T) {
	const attempts = 12
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, attempts)
	user := f.addUser(t, jan10)

	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Borrow(ctx, book.ID, user, jan1, jan5)
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperrors.ErrAlreadyBorrowed):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dup)
	assert.Equal(t, attempts-1, f.book(t, book.ID).AvailableCopies)
}

func TestConservationAcrossMixedOperations(t *testing.T) {
	const copies = 4
	ctx := context.Background()
	f := newFixture(t)
	book := f.addBook(t, copies)

	users := make([]uuid.UUID, 8)
	for i := range users {
		users[i] = f.addUser(t, jan10)
	}

	var wg sync.WaitGroup
	for round := 0; round < 5; round++ {
		for _, user := range users {
			wg.Add(1)
			go func(user uuid.UUID) {
				defer wg.Done()
				if _, err := f.svc.Borrow(ctx, book.ID, user, jan1, jan5); err == nil {
					_, _ = f.svc.ReturnByUser(ctx, book.ID, user)
				}
			}(user)
		}
	}
	wg.Wait()

	final := f.book(t, book.ID)
	assert.NoError(t, final.CheckInvariant())
	assert.Equal(t, copies-len(final.BorrowRecords), final.AvailableCopies)
}

func TestListBorrowedBooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, second, third := f.addBook(t, 1), f.addBook(t, 1), f.addBook(t, 1)
	user := f.addUser(t, jan10)
	other := f.addUser(t, jan10)

	_, err := f.svc.Borrow(ctx, first.ID, user, jan1, jan5)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, third.ID, user, jan1, jan5)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, second.ID, other, jan1, jan5)
	require.NoError(t, err)

	books, err := f.svc.ListBorrowedBooks(ctx, user)
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, third.ID}, ids)

	none, err := f.svc.ListBorrowedBooks(ctx, f.addUser(t, jan10))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = f.svc.ListBorrowedBooks(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

type failingDirectory struct{}

func (failingDirectory) GetUser(context.Context, uuid.UUID) (membership.User, error) {
	return membership.User{}, errors.New("dial tcp: connection refused")
}

func TestDirectoryFailureIsStorageFailure(t *testing.T) {
	store := catalog.NewMemoryStore()
	guard, err := catalog.NewGuard(store)
	require.NoError(t, err)
	svc, err := NewService(store, guard, failingDirectory{}, membership.NewWindow(clock.Fixed(jan1)), nil)
	require.NoError(t, err)

	_, err = svc.Borrow(context.Background(), uuid.New(), uuid.New(), jan1, jan5)
	assert.ErrorIs(t, err, apperrors.ErrStorageFailure)
	assert.True(t, apperrors.CodeOf(err).Retryable())
}
