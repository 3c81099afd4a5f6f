package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/llms"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// EventType tags one orchestrator event.
type EventType string

const (
	EventUserMessage      EventType = "user_message"
	EventAssistantChunk   EventType = "assistant_chunk"
	EventAssistantMessage EventType = "assistant_message"
	EventToolCallDelta    EventType = "tool_call_delta"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallResult   EventType = "tool_call_result"
	EventStreamFinish     EventType = "stream_finish"
	EventDone             EventType = "done"
	EventSystem           EventType = "system"
	EventError            EventType = "error"
	EventLinesClear       EventType = "lines_clear"
	EventHeaderRefresh    EventType = "header_refresh"
)

// Event is one entry in the orchestrator's event stream. IDs are assigned
// monotonically per emitter; consumers may rely on them for ordering within
// a session.
type Event struct {
	ID        uint64    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Content carries message text for UserMessage, AssistantMessage, System
	// and Error events. Delta carries one streamed fragment.
	Content string `json:"content,omitempty"`
	Delta   string `json:"delta,omitempty"`

	Usage     *llms.Usage         `json:"usage,omitempty"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`

	// Tool call fields, set on ToolCallDelta, ToolCallStart and
	// ToolCallResult. A ToolCallDelta carries the argument fragment in Delta.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolStatus string `json:"tool_status,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	FinishReason string `json:"finish_reason,omitempty"`

	// Color is a rendering hint for System events.
	Color string `json:"color,omitempty"`
}

// EventSink receives orchestrator events. Implementations must tolerate
// concurrent Emit calls.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event Event)

func (f EventSinkFunc) Emit(event Event) {
	f(event)
}

// NullSink discards all events.
type NullSink struct{}

func (NullSink) Emit(Event) {}

// emitter stamps events with monotonic ids and timestamps before handing
// them to the sink. The sink is swappable so a session switch does not
// disturb id monotonicity.
type emitter struct {
	mu   sync.Mutex
	sink EventSink
	seq  atomic.Uint64
}

func newEmitter(sink EventSink) *emitter {
	if sink == nil {
		sink = NullSink{}
	}
	return &emitter{sink: sink}
}

func (e *emitter) setSink(sink EventSink) {
	if sink == nil {
		sink = NullSink{}
	}
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

func (e *emitter) emit(event Event) {
	event.ID = e.seq.Add(1)
	event.Timestamp = time.Now().UTC()

	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	sink.Emit(event)
}
