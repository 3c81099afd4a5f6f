package httpclient

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// LogEntry is one request/response record in the HTTP log.
type LogEntry struct {
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     int       `json:"status,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Recorder appends newline-delimited JSON log entries to a file, rotating it
// when it exceeds maxSize. Writes happen on a background goroutine so the
// request path never blocks; entries are dropped when the buffer is full.
type Recorder struct {
	path    string
	maxSize int64

	entries chan LogEntry
	done    chan struct{}
	once    sync.Once
}

// NewRecorder creates a recorder writing to path. maxSize <= 0 defaults to
// 10 MiB.
func NewRecorder(path string, maxSize int64) *Recorder {
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	r := &Recorder{
		path:    path,
		maxSize: maxSize,
		entries: make(chan LogEntry, 256),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an entry. Never blocks; drops when the buffer is full.
func (r *Recorder) Record(entry LogEntry) {
	select {
	case r.entries <- entry:
	default:
	}
}

// Close flushes pending entries and stops the writer goroutine.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.entries)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		if err := r.write(entry); err != nil {
			// Logging failures must not affect the request path.
			continue
		}
	}
}

func (r *Recorder) write(entry LogEntry) error {
	if info, err := os.Stat(r.path); err == nil && info.Size() >= r.maxSize {
		if err := os.Rename(r.path, r.path+".1"); err != nil {
			return fmt.Errorf("failed to rotate http log: %w", err)
		}
	}

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = file.Write(line)
	return err
}
