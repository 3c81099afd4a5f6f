package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// FileStore is a Store backed by a single JSON snapshot file. Every mutation
// rewrites the snapshot with a write-then-rename, so the file on disk is
// always a complete, parseable history.
type FileStore struct {
	path string

	mu   sync.RWMutex
	data map[string][]protocol.Message
}

// NewFileStore opens (or creates) a file-backed store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: make(map[string][]protocol.Message),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("failed to parse history file %s: %w", s.path, err)
	}
	return nil
}

// flush writes the snapshot to a temp file in the same directory and renames
// it over the target. Callers must hold the write lock.
func (s *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close history file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyMessages(messages), nil
}

func (s *FileStore) Set(ctx context.Context, key string, messages []protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = copyMessages(messages)
	return s.flush()
}

func (s *FileStore) Append(ctx context.Context, key string, messages ...protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append(s.data[key], messages...)
	return s.flush()
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.flush()
}

func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]protocol.Message)
	return s.flush()
}

func (s *FileStore) Export(ctx context.Context) (map[string][]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySnapshot(s.data), nil
}

func (s *FileStore) ImportSnapshot(ctx context.Context, snapshot map[string][]protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = copySnapshot(snapshot)
	return s.flush()
}

func (s *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
