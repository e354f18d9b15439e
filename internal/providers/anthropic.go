package providers

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicName             = "anthropic"
	anthropicDefaultMaxTokens = 4096
)

// anthropicMessages is the subset of the SDK Messages service used here.
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	msgs      anthropicMessages
	maxTokens int64
}

// NewAnthropicProvider builds a provider from an API key. baseURL is
// optional and lets the provider talk to an Anthropic-compatible proxy.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return newAnthropicProvider(&client.Messages)
}

func newAnthropicProvider(msgs anthropicMessages) *AnthropicProvider {
	return &AnthropicProvider{msgs: msgs, maxTokens: anthropicDefaultMaxTokens}
}

func (p *AnthropicProvider) Name() string { return anthropicName }

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	msgs, err := anthropicMessagesFrom(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: p.maxTokens,
		Messages:  msgs,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(CleanToolSchemas(anthropicName, req.Tools))
	}

	msg, err := p.msgs.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	out := &Completion{
		Model:      string(msg.Model),
		Provider:   anthropicName,
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			args := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]interface{}{"raw": string(block.Input)}
				}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	return out, nil
}

// anthropicMessagesFrom converts history. Consecutive tool turns are folded
// into one user message of tool_result blocks, as the API requires.
func anthropicMessagesFrom(history []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(history))
	var results []sdk.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, sdk.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range history {
		switch m.Role {
		case RoleTool:
			results = append(results, sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case RoleAssistant:
			flush()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			if m.Content != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		}
	}
	flush()

	if len(out) == 0 {
		return nil, fmt.Errorf("anthropic: at least one message is required")
	}
	return out, nil
}

func anthropicTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{}
		extra := map[string]interface{}{}
		for k, v := range def.Function.Parameters {
			switch k {
			case "type":
			case "properties":
				schema.Properties = v
			case "required":
				schema.Required = stringList(v)
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			schema.ExtraFields = extra
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Function.Name)
		if u.OfTool != nil && def.Function.Description != "" {
			u.OfTool.Description = sdk.String(def.Function.Description)
		}
		out = append(out, u)
	}
	return out
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
