package recipe

import "context"

// DefaultSystemPrompt is used by the placeholder resolver.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// PlaceholderResolver always succeeds with gateway defaults. It stands in
// for a real recipe service during development.
type PlaceholderResolver struct {
	Model          string
	MaxTurns       int
	AllowedTools   []string
	PermissionMode PermissionMode
}

// NewPlaceholderResolver creates a placeholder that allows the given tools.
func NewPlaceholderResolver(allowedTools []string) *PlaceholderResolver {
	return &PlaceholderResolver{
		MaxTurns:     30,
		AllowedTools: allowedTools,
	}
}

func (p *PlaceholderResolver) Resolve(_ context.Context, req Request) *Result {
	maxTurns := p.MaxTurns
	res := &Result{
		Success:        true,
		SystemPrompt:   DefaultSystemPrompt,
		Model:          p.Model,
		MaxTurns:       &maxTurns,
		AllowedTools:   append([]string(nil), p.AllowedTools...),
		PermissionMode: string(p.PermissionMode),
		CompiledPrompt: req.UserInput,
		Metadata: map[string]interface{}{
			"agent_id":  req.AgentID,
			"variables": req.Variables,
		},
	}
	o, err := DecodeOverrides(req.Overrides)
	if err != nil {
		return Failure("%v", err)
	}
	o.Apply(res)
	return res
}
