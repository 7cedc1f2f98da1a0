package model

import "time"

// Message roles. User messages never carry tool calls; an assistant
// message's content may be empty only while its turn is still streaming.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message represents one turn in a conversation.
type Message struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Timestamp time.Time        `json:"timestamp,omitzero"`
}

// ToolCall is a tool invocation intent emitted by the model mid-generation,
// before it has been executed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolCallRecord is one completed tool invocation within an assistant turn.
// Created when the model emits the intent, Result filled when the provider
// responds, immutable thereafter.
type ToolCallRecord struct {
	ToolName     string         `json:"name"`
	ProviderName string         `json:"server"`
	Arguments    map[string]any `json:"args,omitempty"`
	Result       string         `json:"result,omitempty"`
}

// Conversation is the persisted unit of chat history, owned by a single
// authenticated user.
type Conversation struct {
	ID         int64     `json:"id"`
	OwnerEmail string    `json:"userEmail"`
	Title      string    `json:"title"`
	Scope      string    `json:"scope,omitempty"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created"`
	UpdatedAt  time.Time `json:"updated"`
}
