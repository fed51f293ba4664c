// Package keylock provides per-key in-process mutual exclusion.
//
// Mutating operations on a single actor or a single event must be
// serialized per key so concurrent saves or clicks never interleave into a
// lost update, while operations on unrelated keys proceed independently.
// Entries are reference-counted and reclaimed on release so the map does
// not grow with the number of distinct keys ever seen.
package keylock

import "sync"

// Map is a collection of named locks. The zero value is not usable; call New.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty lock map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the lock for key, blocking until it is available, and
// returns the release function. Callers must invoke the release exactly
// once, typically via defer.
func (m *Map) Lock(key string) (release func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len reports the number of live entries, for tests and introspection.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
