// Package keylock serializes writers per string key. Independent keys
// proceed in parallel; holders of the same key run one at a time. Used for
// (user, device) frames, memory ids, and pattern ids.
package keylock

import "sync"

// Lock is a refcounted per-key mutex set. Zero keys held = empty map, so the
// lock table does not grow with the keyspace.
type Lock struct {
	mu   sync.Mutex
	held map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty lock table
func New() *Lock {
	return &Lock{held: make(map[string]*entry)}
}

// Acquire blocks until key is held and returns the release func
func (l *Lock) Acquire(key string) func() {
	l.mu.Lock()
	e, ok := l.held[key]
	if !ok {
		e = &entry{}
		l.held[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}

// Do runs fn while holding key
func (l *Lock) Do(key string, fn func()) {
	release := l.Acquire(key)
	defer release()
	fn()
}

// Held returns the number of keys currently held (for status reporting)
func (l *Lock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
