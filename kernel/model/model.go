package model

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Role identifies message author type.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// PartKind identifies one content part variant.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// ToolCall is a model-emitted tool invocation request. Its ID is unique
// within a session and pairs the call with exactly one ToolResult.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult is a tool execution outcome returned to model context.
type ToolResult struct {
	CallID  string
	Result  json.RawMessage
	IsError bool
}

// Part is an atomic piece of message content.
type Part struct {
	Kind       PartKind
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// Message is a single record in the conversation. Once appended to a
// history store a message is immutable; assistant messages assembled
// from stream deltas are sealed on stream completion.
type Message struct {
	Role      Role
	Parts     []Part
	CreatedAt time.Time
}

// NewText returns a single-part text message.
func NewText(role Role, text string) Message {
	return Message{
		Role:      role,
		Parts:     []Part{{Kind: PartText, Text: text}},
		CreatedAt: time.Now(),
	}
}

// NewToolResult returns a tool-result message pairing one call.
func NewToolResult(result ToolResult) Message {
	res := result
	return Message{
		Role:      RoleToolResult,
		Parts:     []Part{{Kind: PartToolResult, ToolResult: &res}},
		CreatedAt: time.Now(),
	}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	out := ""
	for _, part := range m.Parts {
		if part.Kind == PartText {
			out += part.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts of the message in emission order.
func (m Message) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, part := range m.Parts {
		if part.Kind == PartToolCall && part.ToolCall != nil {
			out = append(out, *part.ToolCall)
		}
	}
	return out
}

// ToolDefinition describes a callable tool for model planning.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// GenerationParams are provider-agnostic sampling knobs.
type GenerationParams struct {
	Model           string
	MaxOutputTokens int
	Temperature     float64
}

// StreamRequest describes one model turn to open.
type StreamRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDefinition
	Params       GenerationParams
}

// Transport opens model streams. The returned body carries server-sent
// events as raw bytes; closing it cancels the in-flight read. Credentials
// and base-URL selection belong to the transport, not its callers.
type Transport interface {
	OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
}
