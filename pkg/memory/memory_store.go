package memory

import (
	"context"
	"sync"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// MemoryStore is an in-memory Store. Useful for testing and ephemeral
// sessions.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]protocol.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]protocol.Message),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyMessages(messages), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, messages []protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = copyMessages(messages)
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, key string, messages ...protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append(s.data[key], messages...)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]protocol.Message)
	return nil
}

func (s *MemoryStore) Export(ctx context.Context) (map[string][]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySnapshot(s.data), nil
}

func (s *MemoryStore) ImportSnapshot(ctx context.Context, snapshot map[string][]protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = copySnapshot(snapshot)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
