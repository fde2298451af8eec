// internal/catalog/redisstore/store.go

// Package redisstore keeps book aggregates in Redis, committing with WATCH/MULTI.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"lendingledger/internal/catalog"
	apperrors "lendingledger/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store implements catalog.Store and catalog.HistoryReader.
//
// Keys, under prefix:
//
//	book:{id}        JSON document of the aggregate
//	books            sorted set of book ids scored by creation time
//	borrower:{user}  set of book ids the user holds a record in
//	history:{id}     list of JSON journal entries
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

type Option func(*Store)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = strings.Trim(prefix, ":") }
}

func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: "ledger",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bookKey(id uuid.UUID) string       { return s.prefix + ":book:" + id.String() }
func (s *Store) booksKey() string                  { return s.prefix + ":books" }
func (s *Store) borrowerKey(user uuid.UUID) string { return s.prefix + ":borrower:" + user.String() }
func (s *Store) historyKey(id uuid.UUID) string    { return s.prefix + ":history:" + id.String() }

func (s *Store) CreateBook(ctx context.Context, book catalog.Book) (catalog.Book, error) {
	committed, events := book.Commit(s.now())
	key := s.bookKey(book.ID)

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("check book: %w", err)
		}
		if exists > 0 {
			return catalog.ErrVersionConflict
		}
		return s.write(ctx, tx, catalog.Book{}, committed, events)
	})
	if err != nil {
		return catalog.Book{}, err
	}
	return committed, nil
}

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (catalog.Book, error) {
	return s.get(ctx, s.rdb, id)
}

func (s *Store) SaveBook(ctx context.Context, book catalog.Book) (catalog.Book, error) {
	committed, events := book.Commit(s.now())

	err := s.watch(ctx, s.bookKey(book.ID), func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		if current.Version != book.Version {
			return catalog.ErrVersionConflict
		}
		return s.write(ctx, tx, current, committed, events)
	})
	if err != nil {
		return catalog.Book{}, err
	}
	return committed, nil
}

func (s *Store) FindBooksByBorrower(ctx context.Context, userID uuid.UUID) ([]catalog.Book, error) {
	ids, err := s.rdb.SMembers(ctx, s.borrowerKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list borrower books: %w", err)
	}

	books, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]catalog.Book, 0, len(books))
	for _, b := range books {
		if b.HasBorrower(userID) {
			out = append(out, b)
		}
	}
	catalog.SortBooks(out)
	return out, nil
}

func (s *Store) ListBooks(ctx context.Context) ([]catalog.Book, error) {
	ids, err := s.rdb.ZRange(ctx, s.booksKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	books, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	catalog.SortBooks(books)
	return books, nil
}

func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	key := s.bookKey(id)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return catalog.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, s.historyKey(id))
			pipe.ZRem(ctx, s.booksKey(), id.String())
			for _, r := range current.BorrowRecords {
				pipe.SRem(ctx, s.borrowerKey(r.UserID), id.String())
			}
			return nil
		})
		return err
	})
}

func (s *Store) History(ctx context.Context, bookID uuid.UUID) ([]catalog.JournalEntry, error) {
	exists, err := s.rdb.Exists(ctx, s.bookKey(bookID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check book: %w", err)
	}
	if exists == 0 {
		return nil, apperrors.ErrBookNotFound
	}

	docs, err := s.rdb.LRange(ctx, s.historyKey(bookID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	entries := make([]catalog.JournalEntry, 0, len(docs))
	for _, doc := range docs {
		var entry catalog.JournalEntry
		if err := json.UnmarshalFromString(doc, &entry); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// watch runs fn under WATCH key; a key touched by another client aborts EXEC, reported as
// ErrVersionConflict.
func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	err := s.rdb.Watch(ctx, fn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return catalog.ErrVersionConflict
	}
	return err
}

// write queues the new document, the borrower index delta and the journal entries in one MULTI.
func (s *Store) write(ctx context.Context, tx *redis.Tx, previous, next catalog.Book, events []catalog.Event) error {
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode book: %w", err)
	}
	entries, err := catalog.EncodeEvents(events)
	if err != nil {
		return err
	}
	history := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode journal entry: %w", err)
		}
		history = append(history, b)
	}

	before, after := borrowers(previous), borrowers(next)
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.bookKey(next.ID), doc, 0)
		pipe.ZAdd(ctx, s.booksKey(), redis.Z{
			Score:  float64(next.CreatedAt.UnixMilli()),
			Member: next.ID.String(),
		})
		for user := range before {
			if !after[user] {
				pipe.SRem(ctx, s.borrowerKey(user), next.ID.String())
			}
		}
		for user := range after {
			if !before[user] {
				pipe.SAdd(ctx, s.borrowerKey(user), next.ID.String())
			}
		}
		if len(history) > 0 {
			pipe.RPush(ctx, s.historyKey(next.ID), history...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit book: %w", err)
	}
	return nil
}

// getter is the part of redis.UniversalClient and *redis.Tx that get needs.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) get(ctx context.Context, c getter, id uuid.UUID) (catalog.Book, error) {
	doc, err := c.Get(ctx, s.bookKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return catalog.Book{}, apperrors.ErrBookNotFound
		}
		return catalog.Book{}, fmt.Errorf("get book: %w", err)
	}
	return decodeBook(doc)
}

func (s *Store) load(ctx context.Context, ids []string) ([]catalog.Book, error) {
	if len(ids) == 0 {
		return []catalog.Book{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.prefix+":book:"+id)
	}

	docs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get books: %w", err)
	}

	books := make([]catalog.Book, 0, len(docs))
	for _, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			continue
		}
		book, err := decodeBook([]byte(raw))
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}

func decodeBook(doc []byte) (catalog.Book, error) {
	var book catalog.Book
	if err := json.Unmarshal(doc, &book); err != nil {
		return catalog.Book{}, fmt.Errorf("decode book: %w", err)
	}
	if book.BorrowRecords == nil {
		book.BorrowRecords = []catalog.BorrowRecord{}
	}
	return book, nil
}

func borrowers(b catalog.Book) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(b.BorrowRecords))
	for _, r := range b.BorrowRecords {
		out[r.UserID] = true
	}
	return out
}
