package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
	"github.com/nextlevelbuilder/agentgate/internal/recipe"
)

const (
	// RecipeToolName is the name the runtime calls the recipe tool by.
	RecipeToolName = "execute_recipe"
	// DefaultMaxRecipeDepth caps nested execute_recipe calls.
	DefaultMaxRecipeDepth = 3
	// DefaultRecipeModel is used when a nested resolution names no model.
	DefaultRecipeModel = "claude-sonnet-4-5-20250929"

	defaultRecipeTimeout = 2 * time.Minute
)

type recipeArgs struct {
	RecipeID        string                 `json:"recipe_id" jsonschema:"required,description=ID of the recipe (agent) to run"`
	TaskDescription string                 `json:"task_description" jsonschema:"required,description=The task for the recipe to perform"`
	Variables       map[string]interface{} `json:"variables,omitempty" jsonschema:"description=Template variables for the recipe"`
	ConfigOverrides map[string]interface{} `json:"config_overrides,omitempty" jsonschema:"description=Configuration overrides (model, temperature, max_tokens)"`
}

// RecipeTool runs another recipe as a sub-task: a fresh resolution followed
// by one direct model call. It never starts an agent runtime.
//
// Nesting depth travels on the context. A call made at depth >= maxDepth
// fails closed with a "recursion limit exceeded" result. The outermost call
// also opens a budget of maxDepth resolutions shared by its whole chain, so
// a model asking for many calls per turn cannot fan out past the limit.
// Depth and budget are consumed on entry, so a nested call whose resolution
// fails still counts.
type RecipeTool struct {
	resolver     recipe.Resolver
	client       providers.Client
	defaultModel string
	maxDepth     int
	timeout      time.Duration
	params       map[string]interface{}
}

// RecipeToolOption configures a RecipeTool.
type RecipeToolOption func(*RecipeTool)

func WithMaxRecipeDepth(n int) RecipeToolOption {
	return func(t *RecipeTool) {
		if n > 0 {
			t.maxDepth = n
		}
	}
}

func WithRecipeTimeout(d time.Duration) RecipeToolOption {
	return func(t *RecipeTool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func NewRecipeTool(resolver recipe.Resolver, client providers.Client, defaultModel string, opts ...RecipeToolOption) *RecipeTool {
	if defaultModel == "" {
		defaultModel = DefaultRecipeModel
	}
	t := &RecipeTool{
		resolver:     resolver,
		client:       client,
		defaultModel: defaultModel,
		maxDepth:     DefaultMaxRecipeDepth,
		timeout:      defaultRecipeTimeout,
		params:       SchemaFor[recipeArgs](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RecipeTool) Name() string { return RecipeToolName }

func (t *RecipeTool) Description() string {
	return "Execute another recipe (agent) to handle a sub-task. The recipe is resolved " +
		"with the given variables and answered by a single model call; its text is returned."
}

func (t *RecipeTool) Parameters() map[string]interface{} { return t.params }

// MaxDepth returns the configured nesting limit.
func (t *RecipeTool) MaxDepth() int { return t.maxDepth }

func (t *RecipeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	var a recipeArgs
	if err := decodeArgs(args, &a); err != nil {
		return ErrorResult(err.Error())
	}
	if strings.TrimSpace(a.RecipeID) == "" || strings.TrimSpace(a.TaskDescription) == "" {
		return ErrorResult("recipe_id and task_description are required")
	}

	depth := RecipeDepthFromCtx(ctx)
	if depth >= t.maxDepth {
		slog.Warn("recipe.depth_exceeded", "recipe", a.RecipeID, "depth", depth, "max", t.maxDepth)
		return ErrorResultf("recursion limit exceeded: execute_recipe nested %d levels deep (max %d)", depth, t.maxDepth)
	}
	nested := depth + 1

	budget := recipeBudgetFromCtx(ctx)
	if budget == nil {
		budget = new(atomic.Int32)
		budget.Store(int32(t.maxDepth))
	}
	if budget.Add(-1) < 0 {
		slog.Warn("recipe.budget_exceeded", "recipe", a.RecipeID, "depth", depth, "max", t.maxDepth)
		return ErrorResultf("recursion limit exceeded: execute_recipe chain already ran %d nested recipes (max %d)", t.maxDepth, t.maxDepth)
	}

	if obs := RecipeObserverFromCtx(ctx); obs != nil {
		obs(a.RecipeID, a.TaskDescription, nested)
	}

	// The nested call is bounded and runs to completion or timeout even
	// if the session is cancelled meanwhile.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()
	callCtx = withRecipeBudget(WithRecipeDepth(callCtx, nested), budget)

	res := t.resolver.Resolve(callCtx, recipe.Request{
		AgentID:   a.RecipeID,
		UserInput: a.TaskDescription,
		Variables: a.Variables,
		Overrides: a.ConfigOverrides,
	})
	if res == nil || !res.Success {
		msg := "unknown error"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		return ErrorResultf("recipe resolution failed for %s: %s", a.RecipeID, msg)
	}

	model := res.Model
	if model == "" {
		model = t.defaultModel
	}
	prompt := res.CompiledPrompt
	if prompt == "" {
		prompt = a.TaskDescription
	}
	req := providers.PromptRequest(model, res.SystemPrompt, prompt, res.Temperature, res.MaxTokens)

	recursive := res.Allows(RecipeToolName)
	if recursive {
		req.Tools = []providers.ToolDefinition{ToProviderDef(t)}
	}

	comp, err := t.client.Complete(callCtx, req)
	if err != nil {
		return ErrorResultf("recipe %s model call failed: %v", a.RecipeID, err).WithError(err)
	}

	if recursive && len(comp.ToolCalls) > 0 {
		comp, err = t.answerToolCalls(callCtx, req, comp)
		if err != nil {
			return ErrorResultf("recipe %s follow-up model call failed: %v", a.RecipeID, err).WithError(err)
		}
	}

	slog.Debug("recipe executed", "recipe", a.RecipeID, "depth", nested, "model", model)
	return NewResult(comp.Text)
}

// answerToolCalls runs the nested execute_recipe calls the model asked for
// (one level deeper) and makes exactly one follow-up call. Tool requests in
// the follow-up answer are not executed.
func (t *RecipeTool) answerToolCalls(ctx context.Context, req providers.CompletionRequest, comp *providers.Completion) (*providers.Completion, error) {
	msgs := append([]providers.Message(nil), req.Messages...)
	msgs = append(msgs, providers.Message{
		Role:      providers.RoleAssistant,
		Content:   comp.Text,
		ToolCalls: comp.ToolCalls,
	})
	view := t.nestedView(ctx)
	for _, call := range comp.ToolCalls {
		var r *Result
		if call.Name != RecipeToolName {
			r = ErrorResultf("tool %s is not available here", call.Name)
		} else {
			r = view.Execute(ctx, RecipeToolName, call.Arguments)
		}
		msgs = append(msgs, providers.Message{
			Role:       providers.RoleTool,
			Content:    r.ForLLM,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			IsError:    r.IsError,
		})
	}

	follow := req
	follow.Messages = msgs
	next, err := t.client.Complete(ctx, follow)
	if err != nil {
		return nil, fmt.Errorf("follow-up: %w", err)
	}
	if next.Text == "" && len(next.ToolCalls) > 0 {
		next.Text = "(recipe stopped: further tool calls are not executed in a nested recipe)"
	}
	return next, nil
}

// nestedView returns the session view the outer call came through, so nested
// calls get the same argument validation, rate limit and scrubbing. Outside a
// session a standalone view with only this tool is used.
func (t *RecipeTool) nestedView(ctx context.Context) *View {
	if v := viewFromCtx(ctx); v != nil {
		if _, ok := v.Get(RecipeToolName); ok {
			return v
		}
	}
	return NewView(t)
}
