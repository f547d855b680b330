// Package model defines the provider contract: a normalized completion
// request/response pair that the reactive loop speaks and vendor adapters
// (model/openai, model/anthropic) implement.
package model

import (
	"context"

	"github.com/hupe1980/agentspine/core"
)

// Provider names understood by the factory in the agent package.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures one normalized completion call. Messages include the
// leading system message produced by the prompt builder.
type Request struct {
	Model    string
	Messages []core.Message
	Tools    []ToolDefinition

	// ThinkingLevel is an optional reasoning-effort hint; adapters that do
	// not support it ignore it.
	ThinkingLevel string

	// APIKey optionally overrides the adapter's credential for this call
	// (per-turn dynamic credentials).
	APIKey string

	// OnTextDelta enables streaming when non-nil; it receives each text
	// fragment as it arrives.
	OnTextDelta func(delta string)
}

// Response is the adapter-normalized completion outcome.
type Response struct {
	// Message is the full assistant message, including tool calls, ready to
	// append to the session.
	Message core.Message
	// Usage maps directly onto session header counters when reported.
	Usage *core.Usage
}

// Text returns the assistant's text content.
func (r *Response) Text() string { return r.Message.Content }

// ToolCalls returns the tool calls requested by the assistant.
func (r *Response) ToolCalls() []core.ToolCall { return r.Message.ToolCalls }

// Provider generates assistant completions. Implementations must honor ctx
// cancellation on all network I/O.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// Complete performs one model call. When req.OnTextDelta is set the
	// adapter streams and forwards text fragments before returning the
	// final response.
	Complete(ctx context.Context, req Request) (*Response, error)
}
