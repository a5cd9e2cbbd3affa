package mirror

import (
	"sort"
	"sync"
)

// MemoryStorage is a Storage held entirely in memory. It is the
// default when no durable storage is configured and the workhorse of
// the test suite.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string

	// FailWrites makes every SetItem return ErrStorageFull, emulating
	// a quota-exceeded store.
	FailWrites bool
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (s *MemoryStorage) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return ErrStorageFull
	}
	s.items[key] = value
	return nil
}

// Keys implements Lister.
func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
