package core

import (
	"time"

	"github.com/google/uuid"
)

// Conversation roles. Every message carries exactly one of these.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Provenance tags recorded on injected or synthesized messages. A message
// without a source was produced by the normal request/response flow.
const (
	SourceFollowUp   = "follow_up"
	SourceSteer      = "steer"
	SourceSkipped    = "skipped"
	SourceCompaction = "compaction"
)

// ToolCall is a single function invocation requested by an assistant
// message. Arguments is the raw JSON payload exactly as the provider
// emitted it; handlers parse it themselves.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one entry in a session's conversation history.
//
// Invariants maintained by the runtime:
//   - a tool message's ToolCallID always matches a ToolCall.ID from an
//     earlier assistant message in the same session;
//   - every tool call produced by an assistant message receives exactly one
//     tool message before the next assistant turn is requested.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Source     string     `json:"source,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()}
}

// NewToolMessage builds the tool result message answering the given call id.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: toolCallID,
		Name:       name,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
}

// HasToolCalls reports whether this assistant message requests tool
// executions.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Usage accumulates provider-reported token counters for a session.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Add accumulates the counters from delta.
func (u *Usage) Add(delta Usage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.TotalTokens += delta.TotalTokens
	u.CacheReadTokens += delta.CacheReadTokens
	u.CacheWriteTokens += delta.CacheWriteTokens
}

// NewID generates a unique identifier (a random UUID string).
func NewID() string { return uuid.NewString() }
