package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps values in process memory. A positive quota bounds the
// total size of stored values in bytes, the way a browser's local storage is
// bounded per origin.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
	quota  int
	used   int
}

func NewMemoryStorage() *MemoryStorage {
	return NewMemoryStorageWithQuota(0)
}

func NewMemoryStorageWithQuota(quota int) *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string]string),
		quota:  quota,
	}
}

func (s *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used - len(s.values[key]) + len(value)
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}
	s.values[key] = value
	s.used = used
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= len(s.values[key])
	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
