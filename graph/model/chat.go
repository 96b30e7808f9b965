// Package model defines the conversation types shared by LLM-backed nodes
// and the provider-neutral ChatModel interface.
package model

import (
	"context"
	"encoding/json"
)

// Role tags the variant of a Message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// Message is one turn of a conversation. It is a tagged variant: Role says
// which fields are meaningful.
//
//   - RoleHuman, RoleSystem: Content.
//   - RoleAI: Content and ToolCalls. ToolCalls is always non-nil for
//     messages built with AI, possibly empty.
//   - RoleTool: Content, ToolCallID and Name of the answered call; IsError
//     marks a failed dispatch.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// Human builds a user message.
func Human(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// System builds a system prompt message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AI builds an assistant message with an explicit, possibly empty, list of
// requested tool calls.
func AI(content string, calls ...ToolCall) Message {
	if calls == nil {
		calls = []ToolCall{}
	}
	return Message{Role: RoleAI, Content: content, ToolCalls: calls}
}

// ToolResult builds the reply to a tool call.
func ToolResult(call ToolCall, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
		IsError:    isError,
	}
}

// UnmarshalJSON restores an AI message's ToolCalls as an empty slice when the
// encoded form omitted it, so decoded and constructed messages agree.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Role == RoleAI && p.ToolCalls == nil {
		p.ToolCalls = []ToolCall{}
	}
	*m = Message(p)
	return nil
}

// PendingToolCalls returns the tool calls an AI message is waiting on.
// Other variants never have pending calls.
func (m Message) PendingToolCalls() []ToolCall {
	if m.Role != RoleAI {
		return nil
	}
	return m.ToolCalls
}

// ToolCall is a model's request to run a named tool. Arguments holds the
// raw JSON produced by the model, which is not guaranteed to be valid.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolSpec describes a tool to the model. Schema is a JSON Schema object
// for the tool's arguments.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
}

// ChatOut is a model reply.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Message converts the reply to an AI message.
func (o ChatOut) Message() Message {
	return AI(o.Text, o.ToolCalls...)
}

// ChatModel is implemented by every provider adapter. Implementations must
// honor context cancellation and be safe for concurrent use.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Last returns the final message of msgs and whether there was one.
func Last(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}
