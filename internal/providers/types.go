package providers

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrNoBackend is returned when no configured backend serves a model id.
var ErrNoBackend = errors.New("no model backend for model")

// Client issues one completion request to a model backend.
// Implementations are stateless and safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Provider is a Client bound to one backend.
type Provider interface {
	Client
	Name() string
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  *float64
	MaxTokens    *int
}

// PromptRequest builds the single-turn form: one system prompt and one user prompt.
func PromptRequest(model, systemPrompt, userPrompt string, temperature *float64, maxTokens *int) CompletionRequest {
	return CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: userPrompt}},
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}
}

// Message is one conversation turn.
// Assistant turns may carry ToolCalls; tool turns answer one call by ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
	IsError    bool
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the function part of a ToolDefinition.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage is token accounting for one completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Estimated    bool
}

// Completion is the model's answer.
type Completion struct {
	Text       string
	ToolCalls  []ToolCall
	Model      string
	Provider   string
	Usage      Usage
	StopReason string
}
