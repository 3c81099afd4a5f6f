package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/llms"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

func TestConversationStoreAppendCreatesMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(NewMemoryStore())

	err := store.AppendMessages(ctx, "conv-1", protocol.NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	meta, err := store.Metadata(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.ID != "conv-1" {
		t.Errorf("meta.ID = %q", meta.ID)
	}
	if meta.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
	if meta.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", meta.MessageCount)
	}
}

func TestConversationStoreListExcludesMetadataKeys(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(NewMemoryStore())

	store.AppendMessages(ctx, "alpha", protocol.NewUserMessage("a"))
	store.AppendMessages(ctx, "beta", protocol.NewUserMessage("b"))
	store.UpdateTopic(ctx, "beta", "the beta topic")

	infos, err := store.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("conversations = %d, want 2 (metadata keys must not leak)", len(infos))
	}
	// beta was updated last, so it sorts first.
	if infos[0].ID != "beta" {
		t.Errorf("first conversation = %q, want beta", infos[0].ID)
	}
	if infos[0].Topic != "the beta topic" {
		t.Errorf("topic = %q", infos[0].Topic)
	}
}

func TestConversationStoreRecordRequestMetrics(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(NewMemoryStore())

	store.AppendMessages(ctx, "conv", protocol.NewUserMessage("q"))

	store.RecordRequestMetrics(ctx, "conv",
		llms.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, CachedTokens: 50, Cost: 0.25},
		2, 1500*time.Millisecond)
	store.RecordRequestMetrics(ctx, "conv",
		llms.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150, CacheReadInputTokens: 90, Cost: 0.5},
		1, 500*time.Millisecond)

	meta, err := store.Metadata(ctx, "conv")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", meta.RequestCount)
	}
	if meta.InputTokens != 220 || meta.OutputTokens != 50 {
		t.Errorf("tokens = %d in / %d out", meta.InputTokens, meta.OutputTokens)
	}
	if meta.CachedTokens != 140 {
		t.Errorf("CachedTokens = %d, want 140", meta.CachedTokens)
	}
	if meta.Cost != 0.75 {
		t.Errorf("Cost = %v, want accumulated 0.75", meta.Cost)
	}
	if meta.ToolCalls != 3 {
		t.Errorf("ToolCalls = %d, want 3", meta.ToolCalls)
	}
	if meta.ResponseTimeMs != 2000 {
		t.Errorf("ResponseTimeMs = %d, want 2000", meta.ResponseTimeMs)
	}
	// The window trio reflects only the latest request.
	want := UsageWindow{Prompt: 120, Completion: 30, Total: 150}
	if meta.ContextWindow != want {
		t.Errorf("ContextWindow = %+v, want %+v", meta.ContextWindow, want)
	}
}

func TestConversationStoreReplacePreservesMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(NewMemoryStore())

	store.AppendMessages(ctx, "conv",
		protocol.NewUserMessage("one"),
		protocol.NewAssistantMessage("two", nil),
	)
	store.UpdateTopic(ctx, "conv", "long discussion")

	summary := []protocol.Message{protocol.NewUserMessage("Previous conversation summary:\n\ncondensed")}
	if err := store.ReplaceMessages(ctx, "conv", summary); err != nil {
		t.Fatalf("ReplaceMessages() error = %v", err)
	}

	messages, err := store.GetConversation(ctx, "conv")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("messages = %d, want 1", len(messages))
	}

	meta, err := store.Metadata(ctx, "conv")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.Topic != "long discussion" {
		t.Errorf("Topic = %q, want preserved", meta.Topic)
	}
	if meta.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1 after replace", meta.MessageCount)
	}
}

func TestConversationStoreDeleteRemovesBothKeys(t *testing.T) {
	ctx := context.Background()
	raw := NewMemoryStore()
	store := NewConversationStore(raw)

	store.AppendMessages(ctx, "conv", protocol.NewUserMessage("hi"))
	if err := store.DeleteConversation(ctx, "conv"); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}

	keys, _ := raw.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("keys after delete = %v, want none", keys)
	}
	if _, err := store.GetConversation(ctx, "conv"); err != ErrConversationNotFound {
		t.Errorf("GetConversation() error = %v, want ErrConversationNotFound", err)
	}
}

func TestConversationStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.AppendMessages(ctx, "conv", protocol.NewUserMessage("m"))
		}()
	}
	wg.Wait()

	messages, err := store.GetConversation(ctx, "conv")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(messages) != 20 {
		t.Errorf("messages = %d, want 20", len(messages))
	}

	meta, _ := store.Metadata(ctx, "conv")
	if meta == nil {
		t.Fatal("metadata missing after concurrent appends")
	}
	if meta.MessageCount != 20 {
		t.Errorf("MessageCount = %d, want 20", meta.MessageCount)
	}
}

func TestConversationStoreSynthesizesMetadata(t *testing.T) {
	ctx := context.Background()
	raw := NewMemoryStore()
	store := NewConversationStore(raw)

	// Messages written straight to the backing store, bypassing the
	// conversation layer, have no metadata record.
	first := protocol.NewUserMessage("hello")
	first.Timestamp = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	last := protocol.NewAssistantMessage("hi there", nil)
	last.Timestamp = time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	if err := raw.Set(ctx, "imported", []protocol.Message{first, last}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	meta, err := store.Metadata(ctx, "imported")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.CreatedAt != first.Timestamp {
		t.Errorf("CreatedAt = %v, want first message timestamp", meta.CreatedAt)
	}
	if meta.UpdatedAt != last.Timestamp {
		t.Errorf("UpdatedAt = %v, want last message timestamp", meta.UpdatedAt)
	}
	if meta.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", meta.MessageCount)
	}

	infos, err := store.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(infos) != 1 || infos[0].Updated.IsZero() {
		t.Errorf("listing = %+v, want one entry with a non-zero Updated", infos)
	}

	if _, err := store.Metadata(ctx, "missing"); err != ErrConversationNotFound {
		t.Errorf("Metadata(missing) error = %v, want ErrConversationNotFound", err)
	}
}

func TestConversationStoreAppendSetsUpdatedAtFromBatch(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(NewMemoryStore())

	message := protocol.NewUserMessage("hi")
	message.Timestamp = time.Date(2025, 2, 14, 9, 30, 0, 0, time.UTC)
	if err := store.AppendMessages(ctx, "conv", message); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	meta, err := store.Metadata(ctx, "conv")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if !meta.UpdatedAt.Equal(message.Timestamp) {
		t.Errorf("UpdatedAt = %v, want the appended message's timestamp %v", meta.UpdatedAt, message.Timestamp)
	}
}
