// Package metrics tracks per-session usage counters: LLM calls, tool calls,
// token totals and context window utilization. Process-wide telemetry is the
// observability package's job; this package feeds the session header UI and
// the context watchdog.
package metrics

import (
	"sync"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// Snapshot is a point-in-time copy of session counters.
type Snapshot struct {
	LLMCalls      int
	ToolCalls     int
	Requests      int
	PromptTokens  int
	OutputTokens  int
	CachedTokens  int
	TotalCost     float64
	TotalDuration time.Duration

	// LastPromptTokens is the prompt size of the most recent LLM call,
	// used for context window utilization.
	LastPromptTokens int
	ContextWindow    int
}

// Utilization returns the fraction of the context window occupied by the
// last request's prompt, or 0 when the window is unknown.
func (s Snapshot) Utilization() float64 {
	if s.ContextWindow <= 0 {
		return 0
	}
	return float64(s.LastPromptTokens) / float64(s.ContextWindow)
}

// Session accumulates usage for one conversation session. Safe for
// concurrent use.
type Session struct {
	mu       sync.Mutex
	snapshot Snapshot
}

func NewSession() *Session {
	return &Session{}
}

// RecordLLMCall folds one completion's usage into the session counters.
func (s *Session) RecordLLMCall(usage llms.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LLMCalls++
	s.snapshot.PromptTokens += usage.PromptTokens
	s.snapshot.OutputTokens += usage.CompletionTokens
	s.snapshot.CachedTokens += usage.CachedTokens + usage.CacheReadInputTokens
	s.snapshot.TotalCost += usage.Cost
	if usage.PromptTokens > 0 {
		s.snapshot.LastPromptTokens = usage.PromptTokens
	}
}

// RecordToolCall counts one tool execution.
func (s *Session) RecordToolCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.ToolCalls++
}

// RecordRequestComplete counts one full user request and its wall time.
func (s *Session) RecordRequestComplete(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Requests++
	s.snapshot.TotalDuration += duration
}

// SetContextWindow records the active model's context window size.
func (s *Session) SetContextWindow(tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.ContextWindow = tokens
}

// Utilization returns the current context window utilization.
func (s *Session) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Utilization()
}

// Reset zeroes all counters but keeps the context window size. Called after
// an automatic conversation summary replaces the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.snapshot.ContextWindow
	s.snapshot = Snapshot{ContextWindow: window}
}

// Snapshot returns a copy of the current counters.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}
