package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lendingledger/internal/errors"
)

// conflictingStore fails the first conflicts SaveBook calls with ErrVersionConflict.
type conflictingStore struct {
	*MemoryStore
	conflicts int32
	saves     atomic.Int32
	saveErr   error
}

func (s *conflictingStore) SaveBook(ctx context.Context, book Book) (Book, error) {
	n := s.saves.Add(1)
	if s.saveErr != nil {
		return Book{}, s.saveErr
	}
	if n <= s.conflicts {
		return Book{}, ErrVersionConflict
	}
	return s.MemoryStore.SaveBook(ctx, book)
}

func newGuardFixture(t *testing.T, store Store, total int, opts ...GuardOption) (*Guard, Book) {
	t.Helper()
	book, err := NewBook("Solaris", "Stanislaw Lem", total)
	require.NoError(t, err)
	created, err := store.CreateBook(context.Background(), book)
	require.NoError(t, err)

	opts = append([]GuardOption{WithBaseDelay(0)}, opts...)
	guard, err := NewGuard(store, opts...)
	require.NoError(t, err)
	return guard, created
}

func borrowBy(user uuid.UUID) Mutator {
	return func(b Book) (Book, error) {
		next, _, err := b.ApplyBorrow(user, jan1, jan10)
		return next, err
	}
}

func TestGuard_CommitPersists(t *testing.T) {
	store := NewMemoryStore()
	guard, book := newGuardFixture(t, store, 2)

	saved, err := guard.Commit(context.Background(), book.ID, borrowBy(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, 1, saved.AvailableCopies)
	assert.Equal(t, book.Version+1, saved.Version)

	stored, err := store.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.AvailableCopies, stored.AvailableCopies)
	assert.Equal(t, saved.Version, stored.Version)
}

func TestGuard_RetriesOnConflict(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore(), conflicts: 2}
	guard, book := newGuardFixture(t, store, 1, WithMaxAttempts(5))

	saved, err := guard.Commit(context.Background(), book.ID, borrowBy(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, 0, saved.AvailableCopies)
	assert.Equal(t, int32(3), store.saves.Load())
}

func TestGuard_TooManyRetries(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore(), conflicts: 100}
	guard, book := newGuardFixture(t, store, 1, WithMaxAttempts(3))

	_, err := guard.Commit(context.Background(), book.ID, borrowBy(uuid.New()))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTooManyRetries)
	assert.Equal(t, apperrors.CodeTooManyRetries, apperrors.CodeOf(err))
	assert.Equal(t, int32(3), store.saves.Load())

	stored, err := store.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AvailableCopies)
}

func TestGuard_MutatorErrorIsNotRetried(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore()}
	guard, book := newGuardFixture(t, store, 0)

	var calls int
	_, err := guard.Commit(context.Background(), book.ID, func(b Book) (Book, error) {
		calls++
		return borrowBy(uuid.New())(b)
	})
	assert.ErrorIs(t, err, apperrors.ErrNoCopiesAvailable)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(0), store.saves.Load())
}

func TestGuard_StorageFailure(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore(), saveErr: errors.New("connection reset")}
	guard, book := newGuardFixture(t, store, 1)

	_, err := guard.Commit(context.Background(), book.ID, borrowBy(uuid.New()))
	assert.ErrorIs(t, err, apperrors.ErrStorageFailure)
	assert.Equal(t, int32(1), store.saves.Load())
}

func TestGuard_UnknownBook(t *testing.T) {
	guard, _ := newGuardFixture(t, NewMemoryStore(), 1)

	_, err := guard.Commit(context.Background(), uuid.New(), borrowBy(uuid.New()))
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func TestGuard_RejectsVersionTampering(t *testing.T) {
	guard, book := newGuardFixture(t, NewMemoryStore(), 1)

	_, err := guard.Commit(context.Background(), book.ID, func(b Book) (Book, error) {
		b.Version++
		return b, nil
	})
	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)
}

func TestGuard_CancelledContextCommitsNothing(t *testing.T) {
	store := NewMemoryStore()
	guard, book := newGuardFixture(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := guard.Commit(ctx, book.ID, borrowBy(uuid.New()))
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := store.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AvailableCopies)
	assert.Equal(t, book.Version, stored.Version)
}

func TestGuard_ConcurrentCommitsAreLinearizable(t *testing.T) {
	const copies, extra = 5, 7
	store := NewMemoryStore()
	guard, book := newGuardFixture(t, store, copies)

	var wg sync.WaitGroup
	var successes, noCopies atomic.Int32
	for i := 0; i < copies+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := guard.Commit(context.Background(), book.ID, borrowBy(uuid.New()))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperrors.ErrNoCopiesAvailable):
				noCopies.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(copies), successes.Load())
	assert.Equal(t, int32(extra), noCopies.Load())

	stored, err := store.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AvailableCopies)
	assert.Len(t, stored.BorrowRecords, copies)
	assert.NoError(t, stored.CheckInvariant())
	assert.Zero(t, guard.locks.size())
}

func TestGuard_Remove(t *testing.T) {
	store := NewMemoryStore()
	guard, book := newGuardFixture(t, store, 1)

	blocked := apperrors.New(apperrors.CodeBookHasActiveLoans, "busy")
	err := guard.Remove(context.Background(), book.ID, func(Book) error { return blocked })
	assert.ErrorIs(t, err, apperrors.ErrBookHasActiveLoans)

	require.NoError(t, guard.Remove(context.Background(), book.ID, func(Book) error { return nil }))
	_, err = store.GetBook(context.Background(), book.ID)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func TestGuardOptions(t *testing.T) {
	_, err := NewGuard(NewMemoryStore(), WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = NewGuard(NewMemoryStore(), WithBaseDelay(-time.Second))
	assert.ErrorIs(t, err, ErrNegativeBaseDelay)
}
