package learning

import (
	"context"
	"fmt"
	"sync"
)

// Locker serialises writers of one progression record. The returned func
// releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is a process-local Locker keyed by string.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*lockEntry)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (l *MemoryLocker) release(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func lockKey(userID, courseID string) string {
	return "progression:" + courseID + ":" + userID
}
