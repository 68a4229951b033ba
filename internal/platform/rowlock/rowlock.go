// Package rowlock provides exclusive per-key locks that stand in for database
// row locks in the in-memory stores.
package rowlock

import (
	"context"
	"sync"
)

// Table hands out one exclusive lock per key. Entries are reference counted
// and dropped once no goroutine holds or waits on them.
type Table[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// New constructs an empty table.
func New[K comparable]() *Table[K] {
	return &Table[K]{locks: make(map[K]*entry)}
}

// Lock blocks until the key is owned or ctx is done. The returned function
// releases the key and must be called exactly once.
func (t *Table[K]) Lock(ctx context.Context, key K) (func(), error) {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { t.release(key, e, true) })
	}, nil
}

func (t *Table[K]) release(key K, e *entry, held bool) {
	if held {
		<-e.ch
	}
	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
}

// Held reports how many keys currently have holders or waiters.
func (t *Table[K]) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
