// Package anthropic adapts the Anthropic Messages API (including streaming
// and tool_use blocks) to the model.Provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/model"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = string(anthropic.ModelClaude3_5Sonnet20241022)

// Thinking budgets per level. Levels other than these disable extended
// thinking.
var thinkingBudgets = map[string]int64{
	"low":    2048,
	"medium": 8192,
	"high":   16384,
}

// Options configure the Anthropic provider adapter.
type Options struct {
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int64
}

// Provider wraps the Anthropic Messages API behind model.Provider.
type Provider struct {
	client anthropic.Client
	opts   Options
}

var _ model.Provider = (*Provider)(nil)

// New creates an Anthropic provider. Credentials default to the environment
// (ANTHROPIC_API_KEY) when not set explicitly.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{Temperature: 0.7, MaxTokens: 4096}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(clientOpts...), opts: opts}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return model.ProviderAnthropic }

// Complete implements model.Provider.
func (p *Provider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := p.buildParams(req)

	var reqOpts []option.RequestOption
	if req.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(req.APIKey))
	}

	if req.OnTextDelta != nil {
		return p.completeStreaming(ctx, params, req.OnTextDelta, reqOpts)
	}
	return p.completeOnce(ctx, params, reqOpts)
}

func (p *Provider) buildParams(req model.Request) anthropic.MessageNewParams {
	modelID := req.Model
	if modelID == "" {
		modelID = DefaultModel
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(modelID),
		Messages:    buildMessages(req.Messages),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if system := systemBlocks(req.Messages); len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	if budget, ok := thinkingBudgets[strings.ToLower(req.ThinkingLevel)]; ok {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params
}

// systemBlocks collects system-role content; Anthropic takes it as a
// top-level parameter rather than a message.
func systemBlocks(messages []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range messages {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

// buildMessages converts runtime messages to Anthropic message params.
// Consecutive tool results collapse into a single user message so roles
// keep alternating the way the API expects.
func buildMessages(messages []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	i := 0
	for i < len(messages) {
		msg := messages[i]
		switch msg.Role {
		case core.RoleSystem:
			i++
		case core.RoleUser:
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
			i++
		case core.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
			i++
		case core.RoleTool:
			var results []anthropic.ContentBlockParamUnion
			for i < len(messages) && messages[i].Role == core.RoleTool {
				results = append(results, anthropic.NewToolResultBlock(messages[i].ToolCallID, messages[i].Content, false))
				i++
			}
			out = append(out, anthropic.NewUserMessage(results...))
		default:
			i++
		}
	}
	return out
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := tdef.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				schema.Properties = properties
			}
			schema.Required = requiredList(params["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, tdef.Function.Name)
	}
	return out
}

func requiredList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (p *Provider) completeOnce(
	ctx context.Context,
	params anthropic.MessageNewParams,
	reqOpts []option.RequestOption,
) (*model.Response, error) {
	resp, err := p.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, wrapError(err)
	}
	assistant := core.Message{Role: core.RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if raw, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(raw)
				}
			}
			assistant.ToolCalls = append(assistant.ToolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	assistant.Content = text.String()
	return &model.Response{Message: assistant, Usage: usageFrom(resp.Usage)}, nil
}

// aggTool accumulates partial input_json_delta fragments for one tool_use
// block during streaming.
type aggTool struct {
	id, name string
	input    strings.Builder
}

func (p *Provider) completeStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	onTextDelta func(string),
	reqOpts []option.RequestOption,
) (*model.Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, params, reqOpts...)

	assistant := core.Message{Role: core.RoleAssistant}
	var text strings.Builder
	var current *aggTool
	usage := &core.Usage{}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			u := event.AsMessageStart().Message.Usage
			usage.InputTokens = int(u.InputTokens)
			usage.CacheReadTokens = int(u.CacheReadInputTokens)
			usage.CacheWriteTokens = int(u.CacheCreationInputTokens)
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				current = &aggTool{id: toolUse.ID, name: toolUse.Name}
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					onTextDelta(delta.Text)
				}
			case "input_json_delta":
				if current != nil {
					current.input.WriteString(delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if current != nil {
				assistant.ToolCalls = append(assistant.ToolCalls, core.ToolCall{
					ID:        current.id,
					Name:      current.name,
					Arguments: current.input.String(),
				})
				current = nil
			}
		case "message_delta":
			usage.OutputTokens = int(event.AsMessageDelta().Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapError(err)
	}

	assistant.Content = text.String()
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if usage.TotalTokens == 0 {
		return &model.Response{Message: assistant}, nil
	}
	return &model.Response{Message: assistant, Usage: usage}, nil
}

func usageFrom(u anthropic.Usage) *core.Usage {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	return &core.Usage{
		InputTokens:      int(u.InputTokens),
		OutputTokens:     int(u.OutputTokens),
		TotalTokens:      int(u.InputTokens + u.OutputTokens),
		CacheReadTokens:  int(u.CacheReadInputTokens),
		CacheWriteTokens: int(u.CacheCreationInputTokens),
	}
}

func wrapError(err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		status = apiErr.StatusCode
	}
	return &model.ProviderError{Provider: model.ProviderAnthropic, Status: status, Err: err}
}
