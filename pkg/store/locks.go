package store

import (
	"sync"
	"time"
)

// CollectionLocks is an in-process Locker keyed by collection name. Both
// bundled stores embed it; a multi-process deployment would swap in a
// Locker backed by the shared medium itself.
type CollectionLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewCollectionLocks returns an empty lock set.
func NewCollectionLocks() *CollectionLocks {
	return &CollectionLocks{slots: make(map[string]chan struct{})}
}

// Acquire implements Locker with a bounded wait.
func (l *CollectionLocks) Acquire(collection string, timeout time.Duration) (func(), error) {
	slot := l.slot(collection)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	}
}

func (l *CollectionLocks) slot(collection string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[collection]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[collection] = slot
	}
	return slot
}
