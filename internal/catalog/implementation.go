// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	apperrors "lendingledger/internal/errors"
)

// ErrHistoryUnavailable is returned by History when the store keeps no journal.
var ErrHistoryUnavailable = apperrors.New(apperrors.CodeStorageFailure, "lending history is not kept by this store")

// service implements the Service interface.
type service struct {
	store  Store
	guard  *Guard
	logger *slog.Logger
}

// NewService creates a new catalog service. Copy-count edits commit through guard.
func NewService(store Store, guard *Guard, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		store:  store,
		guard:  guard,
		logger: logger,
	}
}

// AddBook creates a new book with every copy available.
func (s *service) AddBook(ctx context.Context, title, author string, totalCopies int) (*Book, error) {
	book, err := NewBook(title, author, totalCopies)
	if err != nil {
		return nil, err
	}

	created, err := s.store.CreateBook(ctx, book)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create book", "book_id", book.ID, "error", err)
		return nil, storageError(err)
	}

	s.logger.InfoContext(ctx, "book added", "book_id", created.ID, "total_copies", created.TotalCopies)
	return &created, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	return &book, nil
}

// ListBooks returns every book.
func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return pointers(books), nil
}

// SetTotalCopies edits the owned copy count; it may not drop below the borrowed count.
func (s *service) SetTotalCopies(ctx context.Context, id uuid.UUID, total int) (*Book, error) {
	book, err := s.guard.Commit(ctx, id, func(b Book) (Book, error) {
		return b.WithTotalCopies(total)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "total copies not changed", "book_id", id, "total_copies", total, "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "total copies changed",
		"book_id", id,
		"total_copies", book.TotalCopies,
		"available_copies", book.AvailableCopies,
	)
	return &book, nil
}

// RemoveBook deletes a book that has no active borrow records.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	err := s.guard.Remove(ctx, id, func(b Book) error {
		if b.Borrowed() > 0 {
			return apperrors.WithMetadata(apperrors.CodeBookHasActiveLoans, apperrors.ErrBookHasActiveLoans.Message, map[string]string{
				"book_id":  b.ID.String(),
				"borrowed": fmt.Sprint(b.Borrowed()),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "book removed", "book_id", id)
	return nil
}

// History returns the lending journal of a book, oldest first.
func (s *service) History(ctx context.Context, id uuid.UUID) ([]JournalEntry, error) {
	reader, ok := s.store.(HistoryReader)
	if !ok {
		return nil, ErrHistoryUnavailable
	}
	entries, err := reader.History(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	return entries, nil
}

func pointers(books []Book) []*Book {
	out := make([]*Book, 0, len(books))
	for i := range books {
		out = append(out, &books[i])
	}
	return out
}
