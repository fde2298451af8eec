package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingledger/internal/catalog"
	"lendingledger/internal/clock"
	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/httpapi"
	"lendingledger/internal/lending"
	"lendingledger/internal/membership"
)

var today = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) *LedgerClient {
	t.Helper()
	store := catalog.NewMemoryStore()
	users := membership.NewMemoryDirectory()
	guard, err := catalog.NewGuard(store, catalog.WithBaseDelay(0))
	require.NoError(t, err)
	lendingSvc, err := lending.NewService(store, guard, users, membership.NewWindow(clock.Fixed(today)), nil)
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Services{
		Catalog:    catalog.NewService(store, guard, nil),
		Membership: membership.NewService(users, nil),
		Lending:    lendingSvc,
	}, httpapi.Options{}))
	t.Cleanup(srv.Close)

	return NewLedgerClient(srv.URL, WithHTTPClient(srv.Client()))
}

func TestLedgerClient_LendingFlow(t *testing.T) {
	ctx := context.Background()
	c := newLedger(t)

	book, err := c.AddBook(ctx, "Beloved", "Toni Morrison", 1)
	require.NoError(t, err)
	user, err := c.RegisterUser(ctx, "Ada", "ada@example.com", today.AddDate(-1, 0, 0), today.AddDate(1, 0, 0))
	require.NoError(t, err)
	other, err := c.RegisterUser(ctx, "Bob", "bob@example.com", today.AddDate(-1, 0, 0), today.AddDate(1, 0, 0))
	require.NoError(t, err)

	res, err := c.Borrow(ctx, book.ID, user.ID, today, today.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Book.AvailableCopies)

	_, err = c.Borrow(ctx, book.ID, other.ID, today, today.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, apperrors.ErrNoCopiesAvailable)

	borrowed, err := c.ListBorrowedBooks(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, book.ID, borrowed[0].ID)

	returned, err := c.ReturnByRecord(ctx, book.ID, res.BorrowRecordID)
	require.NoError(t, err)
	assert.Equal(t, 1, returned.AvailableCopies)

	_, err = c.ReturnByUser(ctx, book.ID, user.ID)
	assert.ErrorIs(t, err, apperrors.ErrNoMatchingRecord)

	got, err := c.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BorrowRecords)

	history, err := c.History(ctx, book.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestLedgerClient_DomainErrorsDoNotTripBreaker(t *testing.T) {
	ctx := context.Background()
	c := newLedger(t)

	for i := 0; i < 10; i++ {
		_, err := c.GetBook(ctx, uuid.New())
		require.ErrorIs(t, err, apperrors.ErrBookNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestLedgerClient_BreakerOpensOnServerFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewLedgerClient(srv.URL, WithBreakerSettings(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.GetBook(ctx, uuid.New())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err := c.GetBook(ctx, uuid.New())
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 2, calls)
}
