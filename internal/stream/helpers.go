package stream

import (
	"context"

	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// Status emits a status event. extra keys are merged into the payload.
func (e *Emitter) Status(ctx context.Context, status string, extra map[string]interface{}) error {
	data := map[string]interface{}{"status": status}
	for k, v := range extra {
		data[k] = v
	}
	return e.Emit(ctx, protocol.EventStatus, data)
}

func (e *Emitter) Content(ctx context.Context, text string) error {
	return e.Emit(ctx, protocol.EventContent, map[string]interface{}{"text": text})
}

func (e *Emitter) ToolUse(ctx context.Context, id, tool string, input map[string]interface{}) error {
	data := map[string]interface{}{"tool": tool, "input": input}
	if id != "" {
		data["id"] = id
	}
	return e.Emit(ctx, protocol.EventToolUse, data)
}

func (e *Emitter) ToolResult(ctx context.Context, id, tool, result string, isError bool) error {
	data := map[string]interface{}{"tool": tool, "result": result, "is_error": isError}
	if id != "" {
		data["id"] = id
	}
	return e.Emit(ctx, protocol.EventToolResult, data)
}

func (e *Emitter) RecipeCall(ctx context.Context, recipeID, task string, depth int) error {
	return e.Emit(ctx, protocol.EventRecipeCall, map[string]interface{}{
		"recipe_id": recipeID,
		"task":      task,
		"depth":     depth,
	})
}

func (e *Emitter) Usage(ctx context.Context, u protocol.Usage) error {
	return e.Emit(ctx, protocol.EventUsage, u.Map())
}

// Error emits the terminal error event. An empty layer is omitted from the payload.
func (e *Emitter) Error(ctx context.Context, message, layer string, extra map[string]interface{}) error {
	data := map[string]interface{}{"message": message}
	if layer != "" {
		data["layer"] = layer
	}
	for k, v := range extra {
		data[k] = v
	}
	return e.Emit(ctx, protocol.EventError, data)
}

// Done emits the terminal success event.
func (e *Emitter) Done(ctx context.Context, result string, meta map[string]interface{}) error {
	data := map[string]interface{}{"result": result}
	for k, v := range meta {
		data[k] = v
	}
	return e.Emit(ctx, protocol.EventDone, data)
}

// Debug emits a debug event only when debug is enabled.
func (e *Emitter) Debug(ctx context.Context, data map[string]interface{}) error {
	if !e.debug {
		return nil
	}
	return e.Emit(ctx, protocol.EventDebug, data)
}
