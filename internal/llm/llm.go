// Package llm is the provider-neutral model capability used by the agent
// loop: given a system prompt, a message history and an optional tool
// catalog, a Model returns text, tool calls, or both.
package llm

import "context"

// Role of a message in the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is one entry of the history sent to the model. Tool results use
// RoleTool with ToolCallID and Name set.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Schema is a JSON-schema subset used to describe tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Usage counts tokens for one model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Request is one model call. Tools may be empty to force a text answer.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDef
}

// Response is the model's answer.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Model is implemented by every backend.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
