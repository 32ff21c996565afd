package scheduler

import "sync"

// keyedLocks hands out one mutex per key and forgets it once unused.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

// lock blocks until key is free and returns its unlock function.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()

	l, ok := k.locks[key]
	if !ok {
		l = new(keyedLock)
		k.locks[key] = l
	}

	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		defer k.mu.Unlock()

		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
}
