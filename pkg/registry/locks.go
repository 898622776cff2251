package registry

import (
	"strings"
	"sync"
)

// nameLocks is a per-name mutex registry, a mutex-guarded map of lazily
// created locks (SPEC_FULL.md §5's map-of-mutexes pattern): distinct names
// proceed in parallel, identical names (case-folded, spec.md §9) are
// serialized.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *nameLocks) lockFor(name string) *sync.Mutex {
	key := strings.ToLower(name)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	return m
}

// withLock runs f while holding name's mutex, releasing it on every
// return path including panics.
func (l *nameLocks) withLock(name string, f func() error) error {
	m := l.lockFor(name)
	m.Lock()
	defer m.Unlock()
	return f()
}
