// Package keymutex provides per-key mutual exclusion for in-process writers.
package keymutex

import "sync"

// Map hands out one mutex per key. Entries are reference counted and removed
// when the last holder releases, so the map does not grow with every key ever seen.
type Map[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func (m *Map[K]) acquire(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[K]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map[K]) release(key K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Lock blocks until key is free and returns the matching unlock func.
func (m *Map[K]) Lock(key K) func() {
	e := m.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.release(key, e)
	}
}

// TryLock acquires key without waiting. ok is false when another holder has it.
func (m *Map[K]) TryLock(key K) (unlock func(), ok bool) {
	e := m.acquire(key)
	if !e.mu.TryLock() {
		m.release(key, e)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		m.release(key, e)
	}, true
}
