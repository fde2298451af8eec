// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for catalog management.
type Service interface {
	AddBook(ctx context.Context, title, author string, totalCopies int) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	SetTotalCopies(ctx context.Context, id uuid.UUID, total int) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, id uuid.UUID) ([]JournalEntry, error)
}
