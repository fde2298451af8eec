// internal/catalog/sqlstore/store.go

// Package sqlstore persists book aggregates and the lending journal in Postgres or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lendingledger/internal/catalog"
	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/platform/storage"
)

const (
	booksTable   = "books"
	recordsTable = "borrow_records"
	eventsTable  = "lending_events"
)

// Store implements catalog.Store and catalog.HistoryReader on a storage.DB.
type Store struct {
	db     *storage.DB
	tracer trace.Tracer
	now    func() time.Time
}

// New wraps an opened and migrated database.
func New(db *storage.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("lendingledger/sqlstore"),
		now:    time.Now,
	}
}

type bookRow struct {
	ID              string `db:"id"`
	Title           string `db:"title"`
	Author          string `db:"author"`
	TotalCopies     int    `db:"total_copies"`
	AvailableCopies int    `db:"available_copies"`
	Version         int64  `db:"version"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

type recordRow struct {
	ID         string `db:"id"`
	BookID     string `db:"book_id"`
	UserID     string `db:"user_id"`
	BorrowDate int64  `db:"borrow_date"`
	DueDate    int64  `db:"due_date"`
	Position   int    `db:"position"`
}

type eventRow struct {
	BookID     string `db:"book_id"`
	Version    int64  `db:"version"`
	EventType  string `db:"event_type"`
	Payload    string `db:"payload"`
	OccurredAt int64  `db:"occurred_at"`
}

var (
	bookColumns   = []interface{}{"id", "title", "author", "total_copies", "available_copies", "version", "created_at", "updated_at"}
	recordColumns = []interface{}{"id", "book_id", "user_id", "borrow_date", "due_date", "position"}
	eventColumns  = []interface{}{"book_id", "version", "event_type", "payload", "occurred_at"}
)

// CreateBook inserts the book, its records and its pending events in one transaction.
func (s *Store) CreateBook(ctx context.Context, book catalog.Book) (catalog.Book, error) {
	ctx, span := s.startSpan(ctx, "sqlstore.create_book", book.ID)
	defer span.End()

	committed, events := book.Commit(s.now())

	err := s.inTx(ctx, nil, func(tx *sqlx.Tx) error {
		insert, args, err := s.db.Builder().
			Insert(booksTable).
			Rows(toBookRecord(committed)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build insert book: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			if isUniqueViolation(err) {
				return catalog.ErrVersionConflict
			}
			return fmt.Errorf("insert book: %w", err)
		}
		if err := s.insertRecords(ctx, tx, committed); err != nil {
			return err
		}
		return s.appendEvents(ctx, tx, events)
	})
	if err != nil {
		span.RecordError(err)
		return catalog.Book{}, err
	}
	return committed, nil
}

// GetBook loads one aggregate from a single read snapshot.
func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (catalog.Book, error) {
	ctx, span := s.startSpan(ctx, "sqlstore.get_book", id)
	defer span.End()

	var books []catalog.Book
	err := s.inTx(ctx, s.readOptions(), func(tx *sqlx.Tx) error {
		var err error
		books, err = s.loadBooks(ctx, tx, goqu.C("id").Eq(id.String()))
		return err
	})
	if err != nil {
		return catalog.Book{}, err
	}
	if len(books) == 0 {
		return catalog.Book{}, apperrors.ErrBookNotFound
	}
	return books[0], nil
}

// SaveBook writes book if the stored version still equals book.Version. Records are
// replaced wholesale and the pending events are appended to the journal.
func (s *Store) SaveBook(ctx context.Context, book catalog.Book) (catalog.Book, error) {
	ctx, span := s.startSpan(ctx, "sqlstore.save_book", book.ID)
	defer span.End()
	span.SetAttributes(attribute.Int64("expected.version", book.Version))

	committed, events := book.Commit(s.now())

	err := s.inTx(ctx, nil, func(tx *sqlx.Tx) error {
		update, args, err := s.db.Builder().
			Update(booksTable).
			Set(goqu.Record{
				"title":            committed.Title,
				"author":           committed.Author,
				"total_copies":     committed.TotalCopies,
				"available_copies": committed.AvailableCopies,
				"version":          committed.Version,
				"updated_at":       storage.ToMillis(committed.UpdatedAt),
			}).
			Where(goqu.C("id").Eq(book.ID.String()), goqu.C("version").Eq(book.Version)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build update book: %w", err)
		}

		result, err := tx.ExecContext(ctx, update, args...)
		if err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		if err := s.expectOneRow(ctx, tx, result, book.ID); err != nil {
			return err
		}

		del, args, err := s.db.Builder().
			Delete(recordsTable).
			Where(goqu.C("book_id").Eq(book.ID.String())).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build delete records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}

		if err := s.insertRecords(ctx, tx, committed); err != nil {
			return err
		}
		return s.appendEvents(ctx, tx, events)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("conflict.detected", errors.Is(err, catalog.ErrVersionConflict)))
		span.RecordError(err)
		return catalog.Book{}, err
	}

	span.SetAttributes(attribute.Int64("committed.version", committed.Version))
	return committed, nil
}

// FindBooksByBorrower returns the books in which userID holds an active record.
func (s *Store) FindBooksByBorrower(ctx context.Context, userID uuid.UUID) ([]catalog.Book, error) {
	ctx, span := s.tracer.Start(ctx, "sqlstore.find_books_by_borrower",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	borrowed := s.db.Builder().
		From(recordsTable).
		Select("book_id").
		Where(goqu.C("user_id").Eq(userID.String()))

	var books []catalog.Book
	err := s.inTx(ctx, s.readOptions(), func(tx *sqlx.Tx) error {
		var err error
		books, err = s.loadBooks(ctx, tx, goqu.C("id").In(borrowed))
		return err
	})
	return books, err
}

// ListBooks returns every book ordered by creation.
func (s *Store) ListBooks(ctx context.Context) ([]catalog.Book, error) {
	ctx, span := s.tracer.Start(ctx, "sqlstore.list_books")
	defer span.End()

	var books []catalog.Book
	err := s.inTx(ctx, s.readOptions(), func(tx *sqlx.Tx) error {
		var err error
		books, err = s.loadBooks(ctx, tx, nil)
		return err
	})
	return books, err
}

// DeleteBook removes the book, its records and its journal if the version still matches.
func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	ctx, span := s.startSpan(ctx, "sqlstore.delete_book", id)
	defer span.End()

	return s.inTx(ctx, nil, func(tx *sqlx.Tx) error {
		del, args, err := s.db.Builder().
			Delete(booksTable).
			Where(goqu.C("id").Eq(id.String()), goqu.C("version").Eq(expectedVersion)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build delete book: %w", err)
		}
		result, err := tx.ExecContext(ctx, del, args...)
		if err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if err := s.expectOneRow(ctx, tx, result, id); err != nil {
			return err
		}

		for _, table := range []string{recordsTable, eventsTable} {
			del, args, err := s.db.Builder().
				Delete(table).
				Where(goqu.C("book_id").Eq(id.String())).
				Prepared(true).
				ToSQL()
			if err != nil {
				return fmt.Errorf("build delete %s: %w", table, err)
			}
			if _, err := tx.ExecContext(ctx, del, args...); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}

// History returns the journal of a book ordered by version.
func (s *Store) History(ctx context.Context, bookID uuid.UUID) ([]catalog.JournalEntry, error) {
	ctx, span := s.startSpan(ctx, "sqlstore.history", bookID)
	defer span.End()

	var rows []eventRow
	err := s.inTx(ctx, s.readOptions(), func(tx *sqlx.Tx) error {
		exists, err := s.bookExists(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !exists {
			return apperrors.ErrBookNotFound
		}

		query, args, err := s.db.Builder().
			From(eventsTable).
			Select(eventColumns...).
			Where(goqu.C("book_id").Eq(bookID.String())).
			Order(goqu.C("version").Asc()).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build select events: %w", err)
		}
		if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
			return fmt.Errorf("select events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]catalog.JournalEntry, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.BookID)
		if err != nil {
			return nil, fmt.Errorf("parse event book id %q: %w", row.BookID, err)
		}
		entries = append(entries, catalog.JournalEntry{
			BookID:     id,
			Version:    row.Version,
			Type:       catalog.EventType(row.EventType),
			Payload:    []byte(row.Payload),
			OccurredAt: storage.FromMillis(row.OccurredAt),
		})
	}
	return entries, nil
}

func (s *Store) loadBooks(ctx context.Context, tx *sqlx.Tx, where exp.Expression) ([]catalog.Book, error) {
	bookQuery := s.db.Builder().
		From(booksTable).
		Select(bookColumns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if where != nil {
		bookQuery = bookQuery.Where(where)
	}
	query, args, err := bookQuery.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select books: %w", err)
	}

	var rows []bookRow
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	if len(rows) == 0 {
		return []catalog.Book{}, nil
	}

	ids := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	query, args, err = s.db.Builder().
		From(recordsTable).
		Select(recordColumns...).
		Where(goqu.C("book_id").In(ids...)).
		Order(goqu.C("book_id").Asc(), goqu.C("position").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select records: %w", err)
	}

	var records []recordRow
	if err := tx.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}

	byBook := make(map[string][]catalog.BorrowRecord, len(rows))
	for _, r := range records {
		record, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		byBook[r.BookID] = append(byBook[r.BookID], record)
	}

	books := make([]catalog.Book, 0, len(rows))
	for _, row := range rows {
		book, err := row.toBook(byBook[row.ID])
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}

func (s *Store) insertRecords(ctx context.Context, tx *sqlx.Tx, book catalog.Book) error {
	if len(book.BorrowRecords) == 0 {
		return nil
	}
	rows := make([]interface{}, 0, len(book.BorrowRecords))
	for i, r := range book.BorrowRecords {
		rows = append(rows, goqu.Record{
			"id":          r.ID.String(),
			"book_id":     book.ID.String(),
			"user_id":     r.UserID.String(),
			"borrow_date": storage.ToMillis(r.BorrowDate),
			"due_date":    storage.ToMillis(r.DueDate),
			"position":    i,
		})
	}

	insert, args, err := s.db.Builder().
		Insert(recordsTable).
		Rows(rows...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	return nil
}

func (s *Store) appendEvents(ctx context.Context, tx *sqlx.Tx, events []catalog.Event) error {
	if len(events) == 0 {
		return nil
	}
	entries, err := catalog.EncodeEvents(events)
	if err != nil {
		return err
	}

	rows := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, goqu.Record{
			"book_id":     e.BookID.String(),
			"version":     e.Version,
			"event_type":  string(e.Type),
			"payload":     string(e.Payload),
			"occurred_at": storage.ToMillis(e.OccurredAt),
		})
	}

	insert, args, err := s.db.Builder().
		Insert(eventsTable).
		Rows(rows...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		if isUniqueViolation(err) {
			return catalog.ErrVersionConflict
		}
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// expectOneRow turns a zero-row conditional write into ErrBookNotFound or ErrVersionConflict.
func (s *Store) expectOneRow(ctx context.Context, tx *sqlx.Tx, result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	exists, err := s.bookExists(ctx, tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.ErrBookNotFound
	}
	return catalog.ErrVersionConflict
}

func (s *Store) bookExists(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	query, args, err := s.db.Builder().
		From(booksTable).
		Select(goqu.COUNT("*")).
		Where(goqu.C("id").Eq(id.String())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build count book: %w", err)
	}
	var count int
	if err := tx.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("count book: %w", err)
	}
	return count > 0, nil
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) || isSerializationFailure(err) {
			return catalog.ErrVersionConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// readOptions gives Postgres reads one snapshot across the book and record queries. SQLite
// transactions are already serializable.
func (s *Store) readOptions() *sql.TxOptions {
	if s.db.Dialect == storage.DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name string, bookID uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.String("db.system", string(s.db.Dialect)),
		),
	)
}

func toBookRecord(b catalog.Book) goqu.Record {
	return goqu.Record{
		"id":               b.ID.String(),
		"title":            b.Title,
		"author":           b.Author,
		"total_copies":     b.TotalCopies,
		"available_copies": b.AvailableCopies,
		"version":          b.Version,
		"created_at":       storage.ToMillis(b.CreatedAt),
		"updated_at":       storage.ToMillis(b.UpdatedAt),
	}
}

func (r bookRow) toBook(records []catalog.BorrowRecord) (catalog.Book, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return catalog.Book{}, fmt.Errorf("parse book id %q: %w", r.ID, err)
	}
	if records == nil {
		records = []catalog.BorrowRecord{}
	}
	return catalog.Book{
		ID:              id,
		Title:           r.Title,
		Author:          r.Author,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
		BorrowRecords:   records,
		Version:         r.Version,
		CreatedAt:       storage.FromMillis(r.CreatedAt),
		UpdatedAt:       storage.FromMillis(r.UpdatedAt),
	}, nil
}

func (r recordRow) toRecord() (catalog.BorrowRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return catalog.BorrowRecord{}, fmt.Errorf("parse record id %q: %w", r.ID, err)
	}
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return catalog.BorrowRecord{}, fmt.Errorf("parse record user id %q: %w", r.UserID, err)
	}
	return catalog.BorrowRecord{
		ID:         id,
		UserID:     userID,
		BorrowDate: storage.FromMillis(r.BorrowDate),
		DueDate:    storage.FromMillis(r.DueDate),
	}, nil
}

// isUniqueViolation recognizes duplicate-key errors from lib/pq, pgx and SQLite.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
