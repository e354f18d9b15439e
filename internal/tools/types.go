package tools

import (
	"context"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
)

// Tool is the interface all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// MutatingTool reports whether a particular call changes external state.
// Tools that do not implement it are treated as read-only.
type MutatingTool interface {
	Mutating(args map[string]interface{}) bool
}

// RemoteTool marks tools served by an external capability server.
type RemoteTool interface {
	Remote() bool
}

// ToProviderDef converts a Tool to a providers.ToolDefinition for LLM APIs.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// ToProviderDefs converts tools in order.
func ToProviderDefs(tools []Tool) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToProviderDef(t))
	}
	return defs
}
