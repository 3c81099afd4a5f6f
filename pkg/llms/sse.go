package llms

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// openAIStreamFrame is one decoded `data:` frame of an OpenAI-compatible
// chat completion stream.
type openAIStreamFrame struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []openAIToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *openAIError `json:"error"`
}

type openAIToolCallDelta struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

// streamParser aggregates an OpenAI-compatible SSE stream into a
// CompletionResult, invoking stream handlers along the way.
//
// Aggregation rules:
//   - content fragments concatenate; leading newline-only fragments are
//     dropped until the first fragment containing non-newline content
//   - tool-call fragments group by id when present, else by index slot,
//     else by the most recently opened call; a new id arriving in an index
//     slot opens a new call rather than merging
//   - the finish callback fires exactly once, after both a finish reason
//     and usage have been observed
type streamParser struct {
	handlers StreamHandlers

	content    strings.Builder
	sawContent bool

	builders []*toolCallBuilder
	slots    map[int]*toolCallBuilder

	usage         *Usage
	finishReason  string
	finishEmitted bool
}

func newStreamParser(handlers StreamHandlers) *streamParser {
	return &streamParser{
		handlers: handlers,
		slots:    make(map[int]*toolCallBuilder),
	}
}

// run consumes the SSE byte stream until [DONE] or EOF. Frames may split
// across reads; lines are buffered. Invalid JSON frames are skipped.
func (p *streamParser) run(r io.Reader) error {
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if done, frameErr := p.handleLine(line); frameErr != nil {
				return frameErr
			} else if done {
				break
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}

	p.finalize()
	return nil
}

// handleLine processes one raw line. Returns done=true on the [DONE]
// sentinel.
func (p *streamParser) handleLine(line []byte) (bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false, nil
	}
	if !bytes.HasPrefix(line, []byte("data:")) {
		return false, nil
	}
	data := bytes.TrimSpace(line[len("data:"):])

	if bytes.Equal(data, []byte("[DONE]")) {
		return true, nil
	}

	var frame openAIStreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Malformed frames are skipped, never fatal mid-stream.
		return false, nil
	}

	if frame.Error != nil {
		return false, &Error{Kind: KindUnknown, Message: frame.Error.Message}
	}

	p.handleFrame(&frame)
	return false, nil
}

func (p *streamParser) handleFrame(frame *openAIStreamFrame) {
	if frame.Usage != nil {
		usage := frame.Usage.toUsage()
		p.usage = &usage
	}

	if len(frame.Choices) > 0 {
		choice := frame.Choices[0]

		if choice.Delta.Content != "" {
			p.appendContent(choice.Delta.Content)
		}

		for _, delta := range choice.Delta.ToolCalls {
			p.appendToolCall(delta)
		}

		if choice.FinishReason != "" {
			p.finishReason = choice.FinishReason
		}
	}

	p.maybeFinish()
}

// appendContent applies the leading-newline rule and forwards the fragment.
func (p *streamParser) appendContent(fragment string) {
	if !p.sawContent {
		if strings.Trim(fragment, "\n") == "" {
			return
		}
		p.sawContent = true
	}

	p.content.WriteString(fragment)
	if p.handlers.OnChunk != nil {
		p.handlers.OnChunk(fragment, p.usage)
	}
}

// appendToolCall routes a fragment to its tool call: by id when present,
// else by index slot, else to the most recently opened call.
func (p *streamParser) appendToolCall(delta openAIToolCallDelta) {
	var builder *toolCallBuilder

	switch {
	case delta.ID != "" && delta.Index != nil:
		if existing, ok := p.slots[*delta.Index]; ok && existing.id == delta.ID {
			builder = existing
		} else {
			builder = p.openToolCall(delta.ID)
			p.slots[*delta.Index] = builder
		}
	case delta.ID != "":
		for _, b := range p.builders {
			if b.id == delta.ID {
				builder = b
				break
			}
		}
		if builder == nil {
			builder = p.openToolCall(delta.ID)
		}
	case delta.Index != nil:
		if existing, ok := p.slots[*delta.Index]; ok {
			builder = existing
		} else {
			builder = p.openToolCall("")
			p.slots[*delta.Index] = builder
		}
	default:
		if len(p.builders) > 0 {
			builder = p.builders[len(p.builders)-1]
		} else {
			builder = p.openToolCall("")
		}
	}

	if builder.name == "" && delta.Function.Name != "" {
		builder.name = delta.Function.Name
	}
	builder.args.WriteString(delta.Function.Arguments)

	if p.handlers.OnToolCallDelta != nil {
		p.handlers.OnToolCallDelta(ToolCallDelta{
			ID:        builder.id,
			Name:      delta.Function.Name,
			Arguments: delta.Function.Arguments,
		})
	}
}

func (p *streamParser) openToolCall(id string) *toolCallBuilder {
	builder := &toolCallBuilder{id: id}
	p.builders = append(p.builders, builder)
	return builder
}

// maybeFinish emits the finish callback once both finish reason and usage
// have been observed.
func (p *streamParser) maybeFinish() {
	if p.finishEmitted || p.finishReason == "" || p.usage == nil {
		return
	}
	p.finishEmitted = true
	if p.handlers.OnStreamFinish != nil {
		p.handlers.OnStreamFinish(p.finishReason, p.usage)
	}
}

// finalize handles end-of-stream. Usage observed without a finish reason is
// surfaced through a final empty chunk instead of a finish callback.
func (p *streamParser) finalize() {
	if !p.finishEmitted && p.usage != nil && p.finishReason == "" {
		if p.handlers.OnChunk != nil {
			p.handlers.OnChunk("", p.usage)
		}
	}
}

// result returns the aggregated completion.
func (p *streamParser) result() *CompletionResult {
	result := &CompletionResult{
		Content:      p.content.String(),
		FinishReason: p.finishReason,
	}
	if p.usage != nil {
		result.Usage = *p.usage
	}
	for _, builder := range p.builders {
		result.ToolCalls = append(result.ToolCalls, protocol.ToolCall{
			ID:        builder.id,
			Name:      builder.name,
			Arguments: builder.args.String(),
		})
	}
	return result
}
