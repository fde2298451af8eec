// internal/catalog/domain.go
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lendingledger/internal/clock"
	apperrors "lendingledger/internal/errors"
)

// BorrowRecord is one active loan of a copy. Owned by exactly one Book.
type BorrowRecord struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	BorrowDate time.Time `json:"borrow_date"`
	DueDate    time.Time `json:"due_date"`
}

// Book is the lending aggregate: copy counts plus the active borrow records.
//
// Mutators never modify the receiver; they return a new snapshot so a stale attempt can be
// dropped and replayed against fresher state.
type Book struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Author          string         `json:"author"`
	TotalCopies     int            `json:"total_copies"`
	AvailableCopies int            `json:"available_copies"`
	BorrowRecords   []BorrowRecord `json:"borrow_records"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	pending []Event
}

// NewBook creates a book with every copy available.
func NewBook(title, author string, totalCopies int) (Book, error) {
	if totalCopies < 0 {
		return Book{}, apperrors.Invalid("total_copies", "must not be negative")
	}

	b := Book{
		ID:              uuid.New(),
		Title:           strings.TrimSpace(title),
		Author:          strings.TrimSpace(author),
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		BorrowRecords:   []BorrowRecord{},
		CreatedAt:       time.Now().UTC(),
	}
	b.pending = []Event{{
		Type: EventBookAdded,
		Data: BookAddedEvent{Title: b.Title, Author: b.Author, TotalCopies: totalCopies},
	}}
	return b, nil
}

// Borrowed is the number of active records.
func (b Book) Borrowed() int {
	return len(b.BorrowRecords)
}

// HasBorrower reports whether userID holds an active record.
func (b Book) HasBorrower(userID uuid.UUID) bool {
	for _, r := range b.BorrowRecords {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// CheckInvariant verifies available + borrowed == total and 0 <= available <= total.
func (b Book) CheckInvariant() error {
	if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies ||
		b.AvailableCopies+len(b.BorrowRecords) != b.TotalCopies {
		return apperrors.WithMetadata(apperrors.CodeInvariantViolation, apperrors.ErrInvariantViolation.Message, map[string]string{
			"book_id":          b.ID.String(),
			"total_copies":     fmt.Sprint(b.TotalCopies),
			"available_copies": fmt.Sprint(b.AvailableCopies),
			"borrow_records":   fmt.Sprint(len(b.BorrowRecords)),
		})
	}
	return nil
}

// ApplyBorrow lends one copy to userID. NO_COPIES_AVAILABLE is checked before ALREADY_BORROWED.
func (b Book) ApplyBorrow(userID uuid.UUID, borrowDate, dueDate time.Time) (Book, uuid.UUID, error) {
	if userID == uuid.Nil {
		return b, uuid.Nil, apperrors.Invalid("user_id", "is required")
	}
	if err := b.CheckInvariant(); err != nil {
		return b, uuid.Nil, err
	}
	if b.AvailableCopies <= 0 {
		return b, uuid.Nil, apperrors.ErrNoCopiesAvailable
	}
	if b.HasBorrower(userID) {
		return b, uuid.Nil, apperrors.ErrAlreadyBorrowed
	}

	record := BorrowRecord{
		ID:         uuid.New(),
		UserID:     userID,
		BorrowDate: clock.Date(borrowDate),
		DueDate:    clock.Date(dueDate),
	}

	next := b.clone()
	next.AvailableCopies--
	next.BorrowRecords = append(next.BorrowRecords, record)
	next.pending = append(next.pending, Event{
		Type: EventBookBorrowed,
		Data: BookBorrowedEvent{
			RecordID:        record.ID,
			UserID:          userID,
			BorrowDate:      record.BorrowDate,
			DueDate:         record.DueDate,
			AvailableCopies: next.AvailableCopies,
		},
	})
	return next, record.ID, nil
}

// Selector picks the records a return removes: one record by id, or every record of a user.
type Selector struct {
	RecordID uuid.UUID
	UserID   uuid.UUID
}

// ByRecord selects a single borrow record.
func ByRecord(id uuid.UUID) Selector {
	return Selector{RecordID: id}
}

// ByUser selects every record held by a user.
func ByUser(id uuid.UUID) Selector {
	return Selector{UserID: id}
}

func (s Selector) validate() error {
	switch {
	case s.RecordID == uuid.Nil && s.UserID == uuid.Nil:
		return apperrors.Invalid("selector", "record id or user id is required")
	case s.RecordID != uuid.Nil && s.UserID != uuid.Nil:
		return apperrors.Invalid("selector", "only one of record id and user id may be set")
	}
	return nil
}

func (s Selector) matches(r BorrowRecord) bool {
	if s.RecordID != uuid.Nil {
		return r.ID == s.RecordID
	}
	return r.UserID == s.UserID
}

// ApplyReturn removes the selected records and releases their copies.
func (b Book) ApplyReturn(sel Selector) (Book, int, error) {
	if err := sel.validate(); err != nil {
		return b, 0, err
	}
	if err := b.CheckInvariant(); err != nil {
		return b, 0, err
	}

	kept := make([]BorrowRecord, 0, len(b.BorrowRecords))
	var removed []uuid.UUID
	for _, r := range b.BorrowRecords {
		if sel.matches(r) {
			removed = append(removed, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		return b, 0, apperrors.ErrNoMatchingRecord
	}

	event := BookReturnedEvent{
		RecordIDs: removed,
	}
	if sel.UserID != uuid.Nil {
		user := sel.UserID
		event.UserID = &user
	}

	next := b.clone()
	next.BorrowRecords = kept
	next.AvailableCopies += len(removed)
	event.AvailableCopies = next.AvailableCopies
	next.pending = append(next.pending, Event{
		Type: EventBookReturned,
		Data: event,
	})
	return next, len(removed), nil
}

// WithTotalCopies changes the number of owned copies, keeping the borrowed ones.
func (b Book) WithTotalCopies(total int) (Book, error) {
	if total < 0 {
		return b, apperrors.Invalid("total_copies", "must not be negative")
	}
	if err := b.CheckInvariant(); err != nil {
		return b, err
	}
	if total < b.Borrowed() {
		return b, apperrors.WithMetadata(apperrors.CodeTotalBelowBorrowed, apperrors.ErrTotalBelowBorrowed.Message, map[string]string{
			"total_copies": fmt.Sprint(total),
			"borrowed":     fmt.Sprint(b.Borrowed()),
		})
	}

	next := b.clone()
	next.TotalCopies = total
	next.AvailableCopies = total - b.Borrowed()
	next.pending = append(next.pending, Event{
		Type: EventCopiesChanged,
		Data: CopiesChangedEvent{
			PreviousTotal:   b.TotalCopies,
			TotalCopies:     total,
			AvailableCopies: next.AvailableCopies,
		},
	})
	return next, nil
}

// Changes returns the events recorded since the book was loaded.
func (b Book) Changes() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// Commit is what a store persists: the version is advanced once per pending event (at least
// once) and the events are stamped with the versions they commit at.
func (b Book) Commit(now time.Time) (Book, []Event) {
	now = now.UTC()
	events := make([]Event, 0, len(b.pending))
	version := b.Version
	for _, e := range b.pending {
		version++
		e.BookID = b.ID
		e.Version = version
		e.OccurredAt = now
		events = append(events, e)
	}
	if len(events) == 0 {
		version++
	}

	next := b.clone()
	next.Version = version
	next.UpdatedAt = now
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.pending = nil
	return next, events
}

// Clone returns a deep copy without pending events, the shape stores hand back to callers.
func (b Book) Clone() Book {
	c := b.clone()
	c.pending = nil
	return c
}

func (b Book) clone() Book {
	c := b
	c.BorrowRecords = make([]BorrowRecord, len(b.BorrowRecords))
	copy(c.BorrowRecords, b.BorrowRecords)
	if len(b.pending) > 0 {
		c.pending = make([]Event, len(b.pending))
		copy(c.pending, b.pending)
	}
	return c
}
