// internal/catalog/events.go
package catalog

import (
	stdjson "encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType names a journal entry.
type EventType string

const (
	EventBookAdded     EventType = "BookAdded"
	EventBookBorrowed  EventType = "BookBorrowed"
	EventBookReturned  EventType = "BookReturned"
	EventCopiesChanged EventType = "CopiesChanged"
)

// Event is a change recorded by a mutator. BookID, Version and OccurredAt are set by Commit.
type Event struct {
	BookID     uuid.UUID
	Version    int64
	Type       EventType
	Data       interface{}
	OccurredAt time.Time
}

// BookAddedEvent is recorded when a book enters the catalog.
type BookAddedEvent struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	TotalCopies int    `json:"total_copies"`
}

// BookBorrowedEvent is recorded when a copy is lent.
type BookBorrowedEvent struct {
	RecordID        uuid.UUID `json:"record_id"`
	UserID          uuid.UUID `json:"user_id"`
	BorrowDate      time.Time `json:"borrow_date"`
	DueDate         time.Time `json:"due_date"`
	AvailableCopies int       `json:"available_copies"`
}

// BookReturnedEvent is recorded when one or more records are removed.
type BookReturnedEvent struct {
	RecordIDs       []uuid.UUID `json:"record_ids"`
	UserID          *uuid.UUID  `json:"user_id,omitempty"`
	AvailableCopies int         `json:"available_copies"`
}

// CopiesChangedEvent is recorded when catalog management edits total_copies.
type CopiesChangedEvent struct {
	PreviousTotal   int `json:"previous_total"`
	TotalCopies     int `json:"total_copies"`
	AvailableCopies int `json:"available_copies"`
}

// JournalEntry is a persisted Event.
type JournalEntry struct {
	BookID     uuid.UUID          `json:"book_id"`
	Version    int64              `json:"version"`
	Type       EventType          `json:"event_type"`
	Payload    stdjson.RawMessage `json:"payload"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// EncodeEvent serializes a committed event's payload.
func EncodeEvent(e Event) (JournalEntry, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return JournalEntry{
		BookID:     e.BookID,
		Version:    e.Version,
		Type:       e.Type,
		Payload:    payload,
		OccurredAt: e.OccurredAt,
	}, nil
}

// EncodeEvents encodes every event in order.
func EncodeEvents(events []Event) ([]JournalEntry, error) {
	entries := make([]JournalEntry, 0, len(events))
	for _, e := range events {
		entry, err := EncodeEvent(e)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
