package storage

import "sync"

// entryLocks hands out one mutex per key and forgets it once nobody holds or
// waits for it.
type entryLocks struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func newEntryLocks() *entryLocks {
	return &entryLocks{locks: make(map[string]*entryLock)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (l *entryLocks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	el, ok := l.locks[key]
	if !ok {
		el = &entryLock{}
		l.locks[key] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()

		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *entryLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
