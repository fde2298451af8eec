// internal/catalog/memory.go
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "lendingledger/internal/errors"
)

// MemoryStore keeps books and their journal in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	books   map[uuid.UUID]Book
	journal map[uuid.UUID][]JournalEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:   make(map[uuid.UUID]Book),
		journal: make(map[uuid.UUID][]JournalEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateBook(ctx context.Context, book Book) (Book, error) {
	if err := ctx.Err(); err != nil {
		return Book{}, err
	}
	committed, events := book.Commit(s.now())
	entries, err := EncodeEvents(events)
	if err != nil {
		return Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.books[book.ID]; exists {
		return Book{}, ErrVersionConflict
	}
	s.books[book.ID] = committed.Clone()
	s.journal[book.ID] = append(s.journal[book.ID], entries...)
	return committed, nil
}

func (s *MemoryStore) GetBook(ctx context.Context, id uuid.UUID) (Book, error) {
	if err := ctx.Err(); err != nil {
		return Book{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[id]
	if !ok {
		return Book{}, apperrors.ErrBookNotFound
	}
	return book.Clone(), nil
}

func (s *MemoryStore) SaveBook(ctx context.Context, book Book) (Book, error) {
	if err := ctx.Err(); err != nil {
		return Book{}, err
	}
	committed, events := book.Commit(s.now())
	entries, err := EncodeEvents(events)
	if err != nil {
		return Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.books[book.ID]
	if !ok {
		return Book{}, apperrors.ErrBookNotFound
	}
	if current.Version != book.Version {
		return Book{}, ErrVersionConflict
	}
	s.books[book.ID] = committed.Clone()
	s.journal[book.ID] = append(s.journal[book.ID], entries...)
	return committed, nil
}

func (s *MemoryStore) FindBooksByBorrower(ctx context.Context, userID uuid.UUID) ([]Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []Book
	for _, b := range s.books {
		if b.HasBorrower(userID) {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()
	SortBooks(out)
	return out, nil
}

func (s *MemoryStore) ListBooks(ctx context.Context) ([]Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b.Clone())
	}
	s.mu.RUnlock()
	SortBooks(out)
	return out, nil
}

func (s *MemoryStore) DeleteBook(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.books[id]
	if !ok {
		return apperrors.ErrBookNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(s.books, id)
	delete(s.journal, id)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, bookID uuid.UUID) ([]JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.books[bookID]; !ok {
		return nil, apperrors.ErrBookNotFound
	}
	entries := make([]JournalEntry, len(s.journal[bookID]))
	copy(entries, s.journal[bookID])
	return entries, nil
}

// SortBooks orders by creation time, then id, the order every store lists in.
func SortBooks(books []Book) {
	sort.Slice(books, func(i, j int) bool {
		if books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].ID.String() < books[j].ID.String()
		}
		return books[i].CreatedAt.Before(books[j].CreatedAt)
	})
}
