package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

func TestMemoryStoreBasicOps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Get(ctx, "missing"); err != ErrKeyNotFound {
		t.Errorf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	msg := protocol.NewUserMessage("hello")
	if err := store.Append(ctx, "conv", msg); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	messages, err := store.Get(ctx, "conv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "hello" {
		t.Errorf("messages = %+v", messages)
	}

	// Mutating the returned slice must not affect the store.
	messages[0].Content = "mutated"
	again, _ := store.Get(ctx, "conv")
	if again[0].Content != "hello" {
		t.Error("Get() must return a copy")
	}

	if err := store.Delete(ctx, "conv"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "conv"); err != ErrKeyNotFound {
		t.Errorf("Get() after delete error = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Append(ctx, "a", protocol.NewUserMessage("one"))
	store.Append(ctx, "b", protocol.NewUserMessage("two"), protocol.NewAssistantMessage("three", nil))

	snapshot, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	restored := NewMemoryStore()
	if err := restored.ImportSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}

	messages, err := restored.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("restored b = %d messages, want 2", len(messages))
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Append(ctx, "conv", protocol.NewUserMessage("persisted")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("history file missing after append: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() reopen error = %v", err)
	}
	messages, err := reopened.Get(ctx, "conv")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "persisted" {
		t.Errorf("messages = %+v", messages)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, "conv", protocol.NewUserMessage("m")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "history.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only history.json", names)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFileStore(path); err == nil {
		t.Fatal("NewFileStore() error = nil, want parse failure")
	}
}

func TestSQLiteStoreBasicOps(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Append(ctx, "conv", protocol.NewUserMessage("first")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, "conv", protocol.NewAssistantMessage("second", nil)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	messages, err := store.Get(ctx, "conv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(messages) != 2 || messages[1].Content != "second" {
		t.Errorf("messages = %+v", messages)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "conv" {
		t.Errorf("keys = %v", keys)
	}

	snapshot, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := store.ImportSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}

	restored, err := store.Get(ctx, "conv")
	if err != nil {
		t.Fatalf("Get() after import error = %v", err)
	}
	if len(restored) != 2 {
		t.Errorf("restored = %d messages, want 2", len(restored))
	}
}

func TestSQLiteStoreCreatesParentDirs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions", "new-session", "history.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Append(ctx, "conv", protocol.NewUserMessage("hi")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory not created: %v", err)
	}
}
