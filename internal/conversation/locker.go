// Package conversation owns per-conversation write serialization and the
// AI pause state machine.
package conversation

import "sync"

// Locker hands out one mutex per sender. Entries are reference counted and
// dropped when no goroutine holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the sender's lock is held and returns its release func.
func (l *Locker) Lock(sender string) (unlock func()) {
	l.mu.Lock()
	k, ok := l.locks[sender]
	if !ok {
		k = &keyLock{}
		l.locks[sender] = k
	}
	k.refs++
	l.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, sender)
		}
		l.mu.Unlock()
	}
}

// size reports tracked keys (tests).
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
