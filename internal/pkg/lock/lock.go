// Package lock provides table-level locking. Every mutating engine
// operation on a table runs under that table's mutex, including its
// persistence write, so operations on one table observe a strict total
// order.
package lock

import (
	"context"
	"sync"
	"time"
)

// tableMutex wraps a mutex with reference counting for reuse.
type tableMutex struct {
	mu       sync.Mutex
	refCount int
}

// TableLock provides per-table locking keyed by table id.
type TableLock struct {
	locks sync.Map // map[string]*tableMutex
	pool  sync.Pool
}

// NewTableLock creates a new TableLock instance.
func NewTableLock() *TableLock {
	return &TableLock{
		pool: sync.Pool{
			New: func() any {
				return &tableMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given table id.
func (tl *TableLock) getLock(tableID string) *tableMutex {
	if v, ok := tl.locks.Load(tableID); ok {
		return v.(*tableMutex)
	}

	newLock := tl.pool.Get().(*tableMutex)
	newLock.refCount = 0

	actual, loaded := tl.locks.LoadOrStore(tableID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool
		tl.pool.Put(newLock)
	}
	return actual.(*tableMutex)
}

// Lock acquires the lock for a table.
func (tl *TableLock) Lock(tableID string) {
	lock := tl.getLock(tableID)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a table.
func (tl *TableLock) Unlock(tableID string) {
	if v, ok := tl.locks.Load(tableID); ok {
		lock := v.(*tableMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (tl *TableLock) TryLock(tableID string) bool {
	lock := tl.getLock(tableID)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// LockWithTimeout attempts to acquire the lock with a timeout.
// Returns true if the lock was acquired, false if timeout occurred.
func (tl *TableLock) LockWithTimeout(ctx context.Context, tableID string, timeout time.Duration) bool {
	lock := tl.getLock(tableID)

	done := make(chan struct{})
	go func() {
		lock.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		lock.refCount++
		return true
	case <-timeoutCtx.Done():
		// The waiting goroutine will eventually acquire the mutex;
		// release it again so the table does not stay locked.
		go func() {
			<-done
			lock.mu.Unlock()
		}()
		return false
	}
}

// WithLock executes fn while holding the table's lock.
func (tl *TableLock) WithLock(tableID string, fn func() error) error {
	tl.Lock(tableID)
	defer tl.Unlock(tableID)
	return fn()
}

// Forget drops the mutex for a deleted table.
func (tl *TableLock) Forget(tableID string) {
	tl.locks.Delete(tableID)
}
