package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps credential records in process memory. Records are lost
// on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, slotID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[slotID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Save(_ context.Context, slotID string, creds []byte) error {
	s.mu.Lock()
	s.data[slotID] = append([]byte(nil), creds...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, slotID string) error {
	s.mu.Lock()
	delete(s.data, slotID)
	s.mu.Unlock()
	return nil
}
