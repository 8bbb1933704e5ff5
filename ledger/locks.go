package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// LockTable hands out one exclusive lock per key. Entries are created on
// demand and dropped when nobody holds or waits for them, so the table only
// grows with contention, not with the number of pairs.
//
// Waiting is bounded by the caller's context.
type LockTable[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLockTable[K comparable]() *LockTable[K] {
	return &LockTable[K]{locks: make(map[K]*keyLock)}
}

// Acquire blocks until key is free or ctx is done. The returned release
// function must be called exactly once.
func (t *LockTable[K]) Acquire(ctx context.Context, key K) (release func(), err error) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.sem
				t.unref(key, l)
			})
		}, nil
	case <-ctx.Done():
		t.unref(key, l)
		return nil, ctx.Err()
	}
}

func (t *LockTable[K]) unref(key K, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// Len returns the number of live entries.
func (t *LockTable[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// LockWaitError converts a context error from a lock wait into the ledger
// taxonomy: deadlines become ErrLockTimeout, cancellation passes through.
func LockWaitError(key PairKey, started time.Time, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &LockTimeoutError{Key: key, Waited: time.Since(started).Round(time.Millisecond)}
	}
	return fmt.Errorf("waiting for balance lock on %s: %w", key, err)
}
