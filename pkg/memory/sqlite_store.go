package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// SQLiteStore is a Store backed by a SQLite database. Each key holds its
// message list as a JSON document; appends rewrite the row inside a
// transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed store at path, creating
// parent directories as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS conversations (
			key      TEXT PRIMARY KEY,
			messages TEXT NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]protocol.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM conversations WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	var messages []protocol.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages for key %s: %w", key, err)
	}
	return messages, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, messages []protocol.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (key, messages) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET messages = excluded.messages`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, key string, messages ...protocol.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing []protocol.Message
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT messages FROM conversations WHERE key = ?`, key).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read key %s: %w", key, err)
	}
	if err == nil {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("failed to decode messages for key %s: %w", key, err)
		}
	}

	combined, err := json.Marshal(append(existing, messages...))
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (key, messages) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET messages = excluded.messages`,
		key, string(combined))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations`)
	if err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Export(ctx context.Context) (map[string][]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, messages FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to export store: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string][]protocol.Message)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var messages []protocol.Message
		if err := json.Unmarshal([]byte(raw), &messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages for key %s: %w", key, err)
		}
		snapshot[key] = messages
	}
	return snapshot, rows.Err()
}

func (s *SQLiteStore) ImportSnapshot(ctx context.Context, snapshot map[string][]protocol.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}

	for key, messages := range snapshot {
		raw, err := json.Marshal(messages)
		if err != nil {
			return fmt.Errorf("failed to encode messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (key, messages) VALUES (?, ?)`,
			key, string(raw)); err != nil {
			return fmt.Errorf("failed to write key %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
