// internal/lending/service.go
package lending

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lendingledger/internal/catalog"
	"lendingledger/internal/membership"
)

// BorrowResult is the committed book and the id of the record the borrow created.
type BorrowResult struct {
	Book           *catalog.Book `json:"book"`
	BorrowRecordID uuid.UUID     `json:"borrow_record_id"`
}

// Service defines the lending operations.
type Service interface {
	Borrow(ctx context.Context, bookID, userID uuid.UUID, borrowDate, dueDate time.Time) (*BorrowResult, error)
	ReturnByRecord(ctx context.Context, bookID, recordID uuid.UUID) (*catalog.Book, error)
	ReturnByUser(ctx context.Context, bookID, userID uuid.UUID) (*catalog.Book, error)
	ListBorrowedBooks(ctx context.Context, userID uuid.UUID) ([]*catalog.Book, error)
}

// UserDirectory is the read-only view of members lending needs.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (membership.User, error)
}
