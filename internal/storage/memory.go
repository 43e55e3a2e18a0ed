package storage

import "sync"

// MemoryStorage keeps configuration in process memory. Useful for tests
// and for callers that load credentials from an external vault themselves.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[Key]string
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[Key]string)}
}

// NewMemoryStorageFrom returns an in-memory store seeded with the given
// entries, copied so the caller's map stays independent.
func NewMemoryStorageFrom(values map[Key]string) *MemoryStorage {
	s := NewMemoryStorage()
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

func (s *MemoryStorage) Get(key Key) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Delete(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStorage) Keys() ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys, nil
}
