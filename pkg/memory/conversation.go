package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/llms"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// metadataPrefix reserves a key namespace for conversation metadata, so
// metadata rides along in the same store as the messages themselves.
const metadataPrefix = "__metadata__"

// ErrConversationNotFound is returned when a conversation doesn't exist.
var ErrConversationNotFound = errors.New("conversation not found")

// UsageWindow is one request's token footprint, kept for the most recent
// request only.
type UsageWindow struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Metadata describes one conversation. Token, cost, tool-call and
// response-time counters accumulate across requests; ContextWindow is
// replaced by each request.
type Metadata struct {
	ID             string      `json:"id"`
	Topic          string      `json:"topic,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	MessageCount   int         `json:"message_count"`
	RequestCount   int         `json:"request_count"`
	InputTokens    int         `json:"input_tokens"`
	OutputTokens   int         `json:"output_tokens"`
	CachedTokens   int         `json:"cached_tokens"`
	Cost           float64     `json:"cost,omitempty"`
	ToolCalls      int         `json:"tool_calls,omitempty"`
	ResponseTimeMs int64       `json:"response_time_ms,omitempty"`
	ContextWindow  UsageWindow `json:"context_window,omitempty"`
}

// ConversationInfo pairs a conversation id with its metadata for listings.
type ConversationInfo struct {
	ID       string
	Topic    string
	Updated  time.Time
	Messages int
}

// ConversationStore layers conversation semantics over a raw Store: message
// histories under the conversation id, metadata under a reserved key, and a
// per-conversation lock serializing read-modify-write cycles.
type ConversationStore struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewConversationStore(store Store) *ConversationStore {
	return &ConversationStore{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func metadataKey(id string) string {
	return metadataPrefix + id
}

// IsMetadataKey reports whether a raw store key belongs to the metadata
// namespace.
func IsMetadataKey(key string) bool {
	return strings.HasPrefix(key, metadataPrefix)
}

func (c *ConversationStore) lock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

// GetConversation returns the message history, or ErrConversationNotFound.
func (c *ConversationStore) GetConversation(ctx context.Context, id string) ([]protocol.Message, error) {
	messages, err := c.store.Get(ctx, id)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrConversationNotFound
	}
	return messages, err
}

// AppendMessages appends to the history and touches the metadata timestamp,
// creating the conversation if needed.
func (c *ConversationStore) AppendMessages(ctx context.Context, id string, messages ...protocol.Message) error {
	if len(messages) == 0 {
		return nil
	}
	l := c.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := c.store.Append(ctx, id, messages...); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	last := messages[len(messages)-1].Timestamp
	return c.updateMetadata(ctx, id, func(meta *Metadata) {
		meta.MessageCount += len(messages)
		if !last.IsZero() {
			meta.UpdatedAt = last
		}
	})
}

// ReplaceMessages swaps the entire history, preserving metadata. Used by
// conversation summarization.
func (c *ConversationStore) ReplaceMessages(ctx context.Context, id string, messages []protocol.Message) error {
	l := c.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := c.store.Set(ctx, id, messages); err != nil {
		return fmt.Errorf("failed to replace messages: %w", err)
	}
	return c.updateMetadata(ctx, id, func(meta *Metadata) {
		meta.MessageCount = len(messages)
	})
}

// UpdateTopic sets the conversation topic.
func (c *ConversationStore) UpdateTopic(ctx context.Context, id, topic string) error {
	l := c.lock(id)
	l.Lock()
	defer l.Unlock()

	return c.updateMetadata(ctx, id, func(meta *Metadata) {
		meta.Topic = topic
	})
}

// RecordRequestMetrics folds one request's usage, cost, tool-call count and
// wall time into the metadata. The context window trio reflects only this
// request.
func (c *ConversationStore) RecordRequestMetrics(ctx context.Context, id string, usage llms.Usage, toolCalls int, elapsed time.Duration) error {
	l := c.lock(id)
	l.Lock()
	defer l.Unlock()

	return c.updateMetadata(ctx, id, func(meta *Metadata) {
		meta.RequestCount++
		meta.InputTokens += usage.PromptTokens
		meta.OutputTokens += usage.CompletionTokens
		meta.CachedTokens += usage.CachedTokens + usage.CacheReadInputTokens
		meta.Cost += usage.Cost
		meta.ToolCalls += toolCalls
		meta.ResponseTimeMs += elapsed.Milliseconds()
		meta.ContextWindow = UsageWindow{
			Prompt:     usage.PromptTokens,
			Completion: usage.CompletionTokens,
			Total:      usage.TotalTokens,
		}
	})
}

// Metadata returns the conversation metadata. When no metadata record
// exists but the conversation does (e.g. an imported raw snapshot), metadata
// is synthesized from the stored messages. Returns ErrConversationNotFound
// when neither exists.
func (c *ConversationStore) Metadata(ctx context.Context, id string) (*Metadata, error) {
	messages, err := c.store.Get(ctx, metadataKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return c.synthesizeMetadata(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeMetadata(messages)
}

// synthesizeMetadata derives metadata from the message history alone: the
// first and last message timestamps bound the lifetime, and the count is
// the current length.
func (c *ConversationStore) synthesizeMetadata(ctx context.Context, id string) (*Metadata, error) {
	messages, err := c.store.Get(ctx, id)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	meta := &Metadata{ID: id, MessageCount: len(messages)}
	if len(messages) > 0 {
		meta.CreatedAt = messages[0].Timestamp
		meta.UpdatedAt = messages[len(messages)-1].Timestamp
	}
	return meta, nil
}

// DeleteConversation removes the history and its metadata.
func (c *ConversationStore) DeleteConversation(ctx context.Context, id string) error {
	l := c.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	return c.store.Delete(ctx, metadataKey(id))
}

// ListConversations returns all conversations, most recently updated first.
// Metadata keys never appear as conversations.
func (c *ConversationStore) ListConversations(ctx context.Context) ([]ConversationInfo, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var infos []ConversationInfo
	for _, key := range keys {
		if IsMetadataKey(key) {
			continue
		}
		info := ConversationInfo{ID: key}

		if meta, err := c.Metadata(ctx, key); err == nil {
			info.Topic = meta.Topic
			info.Updated = meta.UpdatedAt
			info.Messages = meta.MessageCount
		} else if messages, err := c.store.Get(ctx, key); err == nil {
			info.Messages = len(messages)
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Updated.After(infos[j].Updated)
	})
	return infos, nil
}

// Export returns a full snapshot suitable for ImportSnapshot.
func (c *ConversationStore) Export(ctx context.Context) (map[string][]protocol.Message, error) {
	return c.store.Export(ctx)
}

// ImportSnapshot replaces all conversations with the snapshot contents.
func (c *ConversationStore) ImportSnapshot(ctx context.Context, snapshot map[string][]protocol.Message) error {
	return c.store.ImportSnapshot(ctx, snapshot)
}

// Close releases the backing store.
func (c *ConversationStore) Close() error {
	return c.store.Close()
}

// updateMetadata loads, mutates and writes back the metadata record. The
// caller must hold the conversation lock. UpdatedAt defaults to now; mutate
// may override it.
func (c *ConversationStore) updateMetadata(ctx context.Context, id string, mutate func(*Metadata)) error {
	now := time.Now().UTC()

	meta := &Metadata{ID: id, CreatedAt: now}
	if messages, err := c.store.Get(ctx, metadataKey(id)); err == nil {
		if existing, err := decodeMetadata(messages); err == nil {
			meta = existing
		}
	}

	meta.UpdatedAt = now
	mutate(meta)

	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, metadataKey(id), encoded)
}

// Metadata is serialized as a single system message so it round-trips
// through any Store implementation unchanged.
func encodeMetadata(meta *Metadata) ([]protocol.Message, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return []protocol.Message{{
		ID:        metadataKey(meta.ID),
		Role:      protocol.RoleSystem,
		Content:   string(raw),
		Timestamp: meta.UpdatedAt,
	}}, nil
}

func decodeMetadata(messages []protocol.Message) (*Metadata, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("empty metadata record")
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(messages[0].Content), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}
