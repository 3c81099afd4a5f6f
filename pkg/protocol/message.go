package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ContentPartType discriminates multi-part message content.
type ContentPartType string

const (
	ContentPartTypeText     ContentPartType = "text"
	ContentPartTypeImageURL ContentPartType = "image_url"
	ContentPartTypeFile     ContentPartType = "file"
)

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Type      ContentPartType `json:"type"`
	Text      string          `json:"text,omitempty"`
	URL       string          `json:"url,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
	Data      string          `json:"data,omitempty"`
}

// ToolCall is a tool invocation requested by an assistant message.
// Arguments is the serialized JSON argument object as received on the wire.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a conversation. Messages are immutable after
// append; identity is by ID.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Parts     []ContentPart `json:"parts,omitempty"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool-role messages only.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage builds a user message with a fresh id.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewSystemMessage builds a system message with a fresh id.
func NewSystemMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantMessage builds an assistant message carrying content and any
// tool calls.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolMessage builds a tool-result message answering the given tool call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Name:       name,
		Timestamp:  time.Now().UTC(),
	}
}

// Text returns the textual content of the message, flattening parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, part := range m.Parts {
		if part.Type == ContentPartTypeText && part.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return m.Content
	}
	return sb.String()
}

// IsEmpty reports whether the message carries no content, parts or tool calls.
func (m Message) IsEmpty() bool {
	return m.Content == "" && len(m.Parts) == 0 && len(m.ToolCalls) == 0
}
