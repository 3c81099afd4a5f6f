package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/orkestra-dev/orkestra/pkg/agent"
)

var ansiColors = map[string]string{
	"yellow": "\033[33m",
	"red":    "\033[31m",
	"green":  "\033[32m",
	"dim":    "\033[2m",
}

const ansiReset = "\033[0m"

// terminalSink renders orchestrator events to the terminal. Streamed deltas
// are written as they arrive; everything else gets its own line.
type terminalSink struct {
	mu  sync.Mutex
	out io.Writer

	// header is reprinted on HeaderRefresh events. Set after the manager
	// exists, since the header shows session state.
	header func() string

	streaming bool
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{out: out}
}

func (s *terminalSink) Emit(event agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case agent.EventAssistantChunk:
		fmt.Fprint(s.out, event.Delta)
		s.streaming = true
	case agent.EventStreamFinish:
		s.endStream()
	case agent.EventAssistantMessage:
		// Non-streaming mode only; streamed content already arrived as deltas.
		if event.Content != "" {
			fmt.Fprintln(s.out, event.Content)
		}
	case agent.EventToolCallStart:
		s.endStream()
		fmt.Fprintf(s.out, "%s⚙ %s%s\n", ansiColors["dim"], event.ToolName, ansiReset)
	case agent.EventToolCallResult:
		fmt.Fprintf(s.out, "%s⚙ %s %s (%dms)%s\n",
			ansiColors["dim"], event.ToolName, event.ToolStatus, event.DurationMs, ansiReset)
	case agent.EventSystem:
		s.endStream()
		color := ansiColors[event.Color]
		reset := ""
		if color != "" {
			reset = ansiReset
		}
		fmt.Fprintf(s.out, "%s• %s%s\n", color, event.Content, reset)
	case agent.EventError:
		s.endStream()
		fmt.Fprintf(s.out, "%sError: %s%s\n", ansiColors["red"], event.Content, ansiReset)
	case agent.EventDone:
		s.endStream()
		if event.Usage != nil && event.Usage.TotalTokens > 0 {
			fmt.Fprintf(s.out, "%s[%d in / %d out]%s\n",
				ansiColors["dim"], event.Usage.PromptTokens, event.Usage.CompletionTokens, ansiReset)
		}
	case agent.EventLinesClear:
		fmt.Fprint(s.out, "\033[2J\033[H")
	case agent.EventHeaderRefresh:
		if s.header != nil {
			fmt.Fprintln(s.out, s.header())
		}
	}
}

// endStream terminates an in-progress streamed line so the next output
// starts on its own line.
func (s *terminalSink) endStream() {
	if s.streaming {
		fmt.Fprintln(s.out)
		s.streaming = false
	}
}
