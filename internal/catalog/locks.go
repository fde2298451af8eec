// internal/catalog/locks.go
package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// bookLocks is a set of one-slot channel semaphores keyed by book id. Slots are created on
// demand and dropped when the last holder or waiter leaves, so idle books cost nothing.
type bookLocks struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*bookSlot
}

type bookSlot struct {
	sem  chan struct{}
	refs int
}

func newBookLocks() *bookLocks {
	return &bookLocks{slots: make(map[uuid.UUID]*bookSlot)}
}

// Acquire blocks until the book's slot is free or ctx is done.
func (l *bookLocks) Acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &bookSlot{sem: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				l.leave(id, slot)
			})
		}, nil
	case <-ctx.Done():
		l.leave(id, slot)
		return nil, ctx.Err()
	}
}

func (l *bookLocks) leave(id uuid.UUID, slot *bookSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *bookLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
