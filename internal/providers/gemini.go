package providers

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const geminiName = "gemini"

// geminiModels is the subset of genai.Models used here.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider calls the Google Gemini API.
type GeminiProvider struct {
	models geminiModels
}

// NewGeminiProvider creates a Gemini client for the Developer API.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{models: client.Models}, nil
}

func (p *GeminiProvider) Name() string { return geminiName }

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	contents := geminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: at least one message is required")
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range CleanToolSchemas(geminiName, req.Tools) {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 def.Function.Name,
				Description:          def.Function.Description,
				ParametersJsonSchema: def.Function.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty response")
	}

	cand := resp.Candidates[0]
	out := &Completion{
		Model:      req.Model,
		Provider:   geminiName,
		StopReason: string(cand.FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if cand.Content != nil {
		for i, part := range cand.Content.Parts {
			if part.Text != "" && !part.Thought {
				out.Text += part.Text
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("gemini_call_%d", i)
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
			}
		}
	}
	return out, nil
}

func geminiContents(history []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	var responses []*genai.Part
	flush := func() {
		if len(responses) > 0 {
			out = append(out, &genai.Content{Role: "user", Parts: responses})
			responses = nil
		}
	}

	for _, m := range history {
		switch m.Role {
		case RoleTool:
			key := "result"
			if m.IsError {
				key = "error"
			}
			responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.ToolName,
				Response: map[string]any{key: m.Content},
			}})
		case RoleAssistant:
			flush()
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments}})
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: "model", Parts: parts})
			}
		default:
			flush()
			if m.Content != "" {
				out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
			}
		}
	}
	flush()
	return out
}
