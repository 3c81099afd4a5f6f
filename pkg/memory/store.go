// Package memory provides conversation history storage.
//
// A Store maps string keys to ordered message lists. Conversation-level
// metadata lives in the same store under reserved keys, so any Store
// implementation persists both without special casing.
package memory

import (
	"context"
	"errors"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// ErrKeyNotFound is returned when a key doesn't exist.
var ErrKeyNotFound = errors.New("key not found")

// Store is the persistence port for conversation histories. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the messages under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]protocol.Message, error)

	// Set replaces the messages under key.
	Set(ctx context.Context, key string, messages []protocol.Message) error

	// Append adds messages to the end of the list under key, creating the
	// key if absent.
	Append(ctx context.Context, key string, messages ...protocol.Message) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys, including reserved metadata keys.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes all keys.
	Clear(ctx context.Context) error

	// Export returns a deep copy of the full store contents.
	Export(ctx context.Context) (map[string][]protocol.Message, error)

	// ImportSnapshot replaces the full store contents.
	ImportSnapshot(ctx context.Context, snapshot map[string][]protocol.Message) error

	// Close releases any underlying resources.
	Close() error
}

func copyMessages(messages []protocol.Message) []protocol.Message {
	if messages == nil {
		return nil
	}
	out := make([]protocol.Message, len(messages))
	copy(out, messages)
	return out
}

func copySnapshot(snapshot map[string][]protocol.Message) map[string][]protocol.Message {
	out := make(map[string][]protocol.Message, len(snapshot))
	for key, messages := range snapshot {
		out[key] = copyMessages(messages)
	}
	return out
}
