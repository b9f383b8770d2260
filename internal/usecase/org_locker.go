package usecase

import (
	"sync"

	"github.com/google/uuid"
)

// orgLocker serializes work per organization inside one process. Entries are
// reference counted and dropped when the last holder unlocks.
type orgLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*orgLock
}

type orgLock struct {
	mu   sync.Mutex
	refs int
}

func newOrgLocker() *orgLocker {
	return &orgLocker{locks: make(map[uuid.UUID]*orgLock)}
}

// lock blocks until the organization is free and returns the unlock func.
func (l *orgLocker) lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &orgLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
