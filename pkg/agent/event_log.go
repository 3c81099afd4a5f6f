package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileEventLog appends events to a newline-delimited JSON file, one object
// per line, so a crashed session can still be replayed up to the last write.
type FileEventLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileEventLog opens (or creates) the event log at path, appending to any
// existing content.
func NewFileEventLog(path string) (*FileEventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return &FileEventLog{file: file}, nil
}

// Emit appends the event. Serialization failures are dropped; the log is
// best effort and must never fail a send.
func (l *FileEventLog) Emit(event Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.file.Write(append(raw, '\n'))
}

func (l *FileEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var _ EventSink = (*FileEventLog)(nil)

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(event)
		}
	}
}

// ReadEventLog loads all events from a newline-delimited log file. Lines
// that fail to parse are skipped.
func ReadEventLog(path string) ([]Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range bytes.Split(raw, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
