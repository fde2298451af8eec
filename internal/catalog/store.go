// internal/catalog/store.go
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by Store.SaveBook and Store.DeleteBook when the stored
// version no longer matches the snapshot the caller read.
var ErrVersionConflict = errors.New("catalog: book version conflict")

// Store persists Book aggregates. Unknown ids yield errors.ErrBookNotFound.
type Store interface {
	// CreateBook commits a new book and its pending events.
	CreateBook(ctx context.Context, book Book) (Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (Book, error)
	// SaveBook commits book only if the stored version still equals book.Version.
	SaveBook(ctx context.Context, book Book) (Book, error)
	FindBooksByBorrower(ctx context.Context, userID uuid.UUID) ([]Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID, expectedVersion int64) error
}

// HistoryReader is implemented by stores that keep the lending journal.
type HistoryReader interface {
	History(ctx context.Context, bookID uuid.UUID) ([]JournalEntry, error)
}
