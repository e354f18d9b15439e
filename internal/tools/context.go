package tools

import (
	"context"
	"sync/atomic"
)

type contextKey string

const (
	recipeDepthKey    contextKey = "agentgate_recipe_depth"
	recipeObserverKey contextKey = "agentgate_recipe_observer"
	recipeBudgetKey   contextKey = "agentgate_recipe_budget"
	viewKey           contextKey = "agentgate_view"
	sessionIDKey      contextKey = "agentgate_session_id"
	workspaceKey      contextKey = "agentgate_workspace"
)

// RecipeObserver is told about every execute_recipe call before it resolves.
type RecipeObserver func(recipeID, task string, depth int)

// WithRecipeDepth records how many execute_recipe calls enclose ctx.
func WithRecipeDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, recipeDepthKey, depth)
}

// RecipeDepthFromCtx returns the recipe nesting depth (0 at top level).
func RecipeDepthFromCtx(ctx context.Context) int {
	if v, ok := ctx.Value(recipeDepthKey).(int); ok {
		return v
	}
	return 0
}

// withRecipeBudget shares the remaining nested-resolution allowance of one
// execute_recipe chain with every call below it.
func withRecipeBudget(ctx context.Context, b *atomic.Int32) context.Context {
	return context.WithValue(ctx, recipeBudgetKey, b)
}

func recipeBudgetFromCtx(ctx context.Context) *atomic.Int32 {
	if v, ok := ctx.Value(recipeBudgetKey).(*atomic.Int32); ok {
		return v
	}
	return nil
}

// withView records the view a tool is being executed through.
func withView(ctx context.Context, v *View) context.Context {
	return context.WithValue(ctx, viewKey, v)
}

func viewFromCtx(ctx context.Context) *View {
	if v, ok := ctx.Value(viewKey).(*View); ok {
		return v
	}
	return nil
}

func WithRecipeObserver(ctx context.Context, obs RecipeObserver) context.Context {
	return context.WithValue(ctx, recipeObserverKey, obs)
}

func RecipeObserverFromCtx(ctx context.Context) RecipeObserver {
	if v, ok := ctx.Value(recipeObserverKey).(RecipeObserver); ok {
		return v
	}
	return nil
}

// WithSessionID tags ctx with the executing session. Used as the rate-limit key.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func SessionIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithWorkspace sets the working directory for command tools.
func WithWorkspace(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workspaceKey, dir)
}

func WorkspaceFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceKey).(string); ok {
		return v
	}
	return ""
}
