// Package lock provides per-owner mutual exclusion for drive operations.
package lock

import (
	"context"
	"sync"

	"drive-go/internal/drive"
)

type ownerLock struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker serializes operations per owner within one process. Entries
// are dropped once no caller holds or waits for them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*ownerLock)}
}

func (m *MemoryLocker) Lock(ctx context.Context, owner string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[owner]
	if !ok {
		l = &ownerLock{ch: make(chan struct{}, 1)}
		m.locks[owner] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(owner, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.release(owner, l)
		})
	}, nil
}

func (m *MemoryLocker) release(owner string, l *ownerLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, owner)
	}
}

// held returns the number of owners with a holder or waiter.
func (m *MemoryLocker) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Compile-time check that MemoryLocker implements drive.Locker interface
var _ drive.Locker = (*MemoryLocker)(nil)
