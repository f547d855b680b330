// Package openai adapts the OpenAI Chat Completions API (including
// streaming and function/tool calling) to the model.Provider contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/model"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = openai.ChatModelGPT4o

// aggCall aggregates partial tool call streaming deltas (id, name,
// arguments) so complete calls can be reconstructed at finish.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI provider adapter.
type Options struct {
	APIKey              string
	BaseURL             string
	Temperature         float64
	MaxCompletionTokens int64
}

// Provider wraps the OpenAI Chat Completions API behind model.Provider.
type Provider struct {
	client openai.Client
	opts   Options
}

var _ model.Provider = (*Provider)(nil)

// New creates an OpenAI provider. Credentials default to the environment
// (OPENAI_API_KEY) when not set explicitly.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{Temperature: 0.7, MaxCompletionTokens: 4096}
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
	return &Provider{client: openai.NewClient(clientOpts...), opts: opts}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return model.ProviderOpenAI }

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

func (p *Provider) buildParams(req model.Request) openai.ChatCompletionNewParams {
	modelID := req.Model
	if modelID == "" {
		modelID = DefaultModel
	}
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               modelID,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Function.Name,
					Description: openai.String(tdef.Function.Description),
					Parameters:  openai.FunctionParameters(tdef.Function.Parameters),
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// buildMessages converts runtime messages into OpenAI chat messages. The
// runtime already orders tool results directly after their assistant
// message, so the conversion is sequential.
func buildMessages(messages []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case core.RoleAssistant:
			if !msg.HasToolCalls() {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: buildToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case core.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		}
	}
	return out
}

func buildToolCalls(calls []core.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, tc := range calls {
		out[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		}
	}
	return out
}

func (p *Provider) completeOnce(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	reqOpts []option.RequestOption,
) (*model.Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &model.ProviderError{Provider: model.ProviderOpenAI, Err: fmt.Errorf("no choices returned")}
	}
	ch0 := resp.Choices[0]
	assistant := core.Message{Role: core.RoleAssistant, Content: ch0.Message.Content}
	for _, tc := range ch0.Message.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return &model.Response{Message: assistant, Usage: usageFrom(resp.Usage)}, nil
}

func (p *Provider) completeStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	onTextDelta func(string),
	reqOpts []option.RequestOption,
) (*model.Response, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)

	var textBuilder strings.Builder
	toolAgg := map[int64]*aggCall{}
	var order []int64
	var usage *core.Usage

	for stream.Next() {
		ck := stream.Current()
		if u := usageFrom(ck.Usage); u != nil {
			usage = u
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				textBuilder.WriteString(ch.Delta.Content)
				onTextDelta(ch.Delta.Content)
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapError(err)
	}

	assistant := core.Message{Role: core.RoleAssistant, Content: textBuilder.String()}
	for _, idx := range order {
		ac := toolAgg[idx]
		assistant.ToolCalls = append(assistant.ToolCalls, core.ToolCall{
			ID:        ac.id,
			Name:      ac.name,
			Arguments: ac.args,
		})
	}
	return &model.Response{Message: assistant, Usage: usage}, nil
}

func usageFrom(u openai.CompletionUsage) *core.Usage {
	if u.TotalTokens == 0 {
		return nil
	}
	return &core.Usage{
		InputTokens:     int(u.PromptTokens),
		OutputTokens:    int(u.CompletionTokens),
		TotalTokens:     int(u.TotalTokens),
		CacheReadTokens: int(u.PromptTokensDetails.CachedTokens),
	}
}

func wrapError(err error) error {
	status := 0
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		status = apiErr.StatusCode
	}
	return &model.ProviderError{Provider: model.ProviderOpenAI, Status: status, Err: err}
}
