package ingest

import "sync"

// KeyedMutex serializes operations per source key while letting different
// keys proceed fully in parallel.
//
// Entries are reference-counted and removed once the last holder releases,
// so the table does not grow with the number of keys ever seen.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key, blocking while another holder has it.
// The returned function releases the lock and must be called exactly once.
func (k *KeyedMutex) Lock(key string) (release func()) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len reports the number of live entries. Test hook for the cleanup
// invariant.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
