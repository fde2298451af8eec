// internal/lending/implementation.go
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"lendingledger/internal/catalog"
	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/membership"
)

const outcomeOK = "ok"

// service implements the Service interface.
type service struct {
	store   catalog.Store
	guard   *catalog.Guard
	users   UserDirectory
	window  membership.Window
	logger  *slog.Logger
	tracer  trace.Tracer
	borrows metric.Int64Counter
	returns metric.Int64Counter
}

// NewService creates the lending service. Mutations commit through guard; store serves the
// borrower scan.
func NewService(store catalog.Store, guard *catalog.Guard, users UserDirectory, window membership.Window, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter("lendingledger/lending")
	borrows, err := meter.Int64Counter("lending.borrow.total",
		metric.WithDescription("Borrow requests by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create borrow counter: %w", err)
	}
	returns, err := meter.Int64Counter("lending.return.total",
		metric.WithDescription("Return requests by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create return counter: %w", err)
	}

	return &service{
		store:   store,
		guard:   guard,
		users:   users,
		window:  window,
		logger:  logger,
		tracer:  otel.Tracer("lendingledger/lending"),
		borrows: borrows,
		returns: returns,
	}, nil
}

// Borrow lends a copy of bookID to userID for borrowDate..dueDate.
func (s *service) Borrow(ctx context.Context, bookID, userID uuid.UUID, borrowDate, dueDate time.Time) (res *BorrowResult, err error) {
	ctx, span := s.tracer.Start(ctx, "lending.borrow", trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("user.id", userID.String()),
	))
	defer func() {
		s.finish(ctx, span, s.borrows, "borrow", bookID, err)
	}()

	if bookID == uuid.Nil {
		return nil, apperrors.Invalid("book_id", "is required")
	}
	if userID == uuid.Nil {
		return nil, apperrors.Invalid("user_id", "is required")
	}
	if borrowDate.IsZero() {
		return nil, apperrors.Invalid("borrow_date", "is required")
	}
	if dueDate.IsZero() {
		return nil, apperrors.Invalid("due_date", "is required")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}

	if err := s.window.Check(user, borrowDate, dueDate); err != nil {
		return nil, err
	}

	var recordID uuid.UUID
	book, err := s.guard.Commit(ctx, bookID, func(b catalog.Book) (catalog.Book, error) {
		next, id, err := b.ApplyBorrow(userID, borrowDate, dueDate)
		recordID = id
		return next, err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "book borrowed",
		"book_id", bookID,
		"user_id", userID,
		"borrow_record_id", recordID,
		"available_copies", book.AvailableCopies,
	)
	return &BorrowResult{Book: &book, BorrowRecordID: recordID}, nil
}

// ReturnByRecord removes one borrow record.
func (s *service) ReturnByRecord(ctx context.Context, bookID, recordID uuid.UUID) (*catalog.Book, error) {
	if recordID == uuid.Nil {
		return nil, apperrors.Invalid("record_id", "is required")
	}
	return s.doReturn(ctx, bookID, catalog.ByRecord(recordID))
}

// ReturnByUser removes every record userID holds in bookID.
func (s *service) ReturnByUser(ctx context.Context, bookID, userID uuid.UUID) (*catalog.Book, error) {
	if userID == uuid.Nil {
		return nil, apperrors.Invalid("user_id", "is required")
	}
	return s.doReturn(ctx, bookID, catalog.ByUser(userID))
}

func (s *service) doReturn(ctx context.Context, bookID uuid.UUID, sel catalog.Selector) (_ *catalog.Book, err error) {
	ctx, span := s.tracer.Start(ctx, "lending.return", trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("record.id", sel.RecordID.String()),
		attribute.String("user.id", sel.UserID.String()),
	))
	defer func() {
		s.finish(ctx, span, s.returns, "return", bookID, err)
	}()

	if bookID == uuid.Nil {
		return nil, apperrors.Invalid("book_id", "is required")
	}

	var removed int
	book, err := s.guard.Commit(ctx, bookID, func(b catalog.Book) (catalog.Book, error) {
		next, n, err := b.ApplyReturn(sel)
		removed = n
		return next, err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "book returned",
		"book_id", bookID,
		"removed", removed,
		"available_copies", book.AvailableCopies,
	)
	return &book, nil
}

// ListBorrowedBooks returns the books in which userID holds an active record.
func (s *service) ListBorrowedBooks(ctx context.Context, userID uuid.UUID) ([]*catalog.Book, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, storageError(err)
	}

	books, err := s.store.FindBooksByBorrower(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list borrowed books", "user_id", userID, "error", err)
		return nil, storageError(err)
	}

	out := make([]*catalog.Book, 0, len(books))
	for i := range books {
		out = append(out, &books[i])
	}
	return out, nil
}

// finish records the outcome of a mutation on its span, counter and log.
func (s *service) finish(ctx context.Context, span trace.Span, counter metric.Int64Counter, op string, bookID uuid.UUID, err error) {
	defer span.End()

	outcome := outcomeOK
	if err != nil {
		outcome = string(apperrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)

		switch appErr, ok := apperrors.As(err); {
		case ok && appErr.Kind() != apperrors.KindInternal:
			s.logger.WarnContext(ctx, op+" rejected", "book_id", bookID, "code", appErr.Code, "error", err)
		default:
			s.logger.ErrorContext(ctx, op+" failed", "book_id", bookID, "error", err)
		}
	}
	span.SetAttributes(attribute.String("lending.outcome", outcome))
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func storageError(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.StorageFailure(err)
}
