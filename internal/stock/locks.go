package stock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// itemLocks hands out one exclusive lock per item. Entries are reference
// counted and dropped once nobody holds or waits for them.
type itemLocks struct {
	mu    sync.Mutex
	locks map[int64]*itemLock
}

type itemLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newItemLocks() *itemLocks {
	return &itemLocks{locks: make(map[int64]*itemLock)}
}

// acquire blocks until the item's lock is held, wait elapses or ctx is done.
// On timeout it returns ErrBusy; on cancellation it returns ctx.Err().
func (l *itemLocks) acquire(ctx context.Context, itemID int64, wait time.Duration) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[itemID]
	if !ok {
		lk = &itemLock{sem: semaphore.NewWeighted(1)}
		l.locks[itemID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := lk.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(itemID, lk)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(CodeBusy, "item %d is locked by another movement", itemID)
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.sem.Release(1)
			l.unref(itemID, lk)
		})
	}, nil
}

func (l *itemLocks) unref(itemID int64, lk *itemLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, itemID)
	}
}

// size returns the number of items with a held or awaited lock.
func (l *itemLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
