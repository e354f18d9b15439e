package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

// scriptedClient answers calls from a fixed script and records requests.
type scriptedClient struct {
	mu       sync.Mutex
	script   []*providers.Completion
	err      error
	block    bool
	requests []providers.CompletionRequest
	inFlight atomic.Int32
}

func (c *scriptedClient) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error) {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	c.mu.Unlock()

	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	if n > len(c.script) {
		return &providers.Completion{Text: "script exhausted"}, nil
	}
	return c.script[n-1], nil
}

type fnTool struct {
	name     string
	mutating bool
	fn       func(ctx context.Context, args map[string]interface{}) *tools.Result
}

func (f fnTool) Name() string        { return f.name }
func (f fnTool) Description() string { return f.name }
func (f fnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (f fnTool) Mutating(map[string]interface{}) bool { return f.mutating }
func (f fnTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return f.fn(ctx, args)
}

func drain(t *testing.T, h Handle) []Activity {
	t.Helper()
	var out []Activity
	timeout := time.After(5 * time.Second)
	for {
		select {
		case a, ok := <-h.Activities():
			if !ok {
				return out
			}
			out = append(out, a)
		case <-timeout:
			t.Fatal("activities channel not closed")
			return out
		}
	}
}

func kinds(acts []Activity) []ActivityKind {
	out := make([]ActivityKind, len(acts))
	for i, a := range acts {
		out[i] = a.Kind
	}
	return out
}

func baseConfig() RunConfig {
	return RunConfig{SessionID: "s1", Prompt: "hi", MaxTurns: 5, Permission: recipe.PermissionFullAccess}
}

func TestNativeSimpleCompletion(t *testing.T) {
	client := &scriptedClient{script: []*providers.Completion{
		{Text: "hello there", Usage: providers.Usage{InputTokens: 10, OutputTokens: 3}},
	}}
	h, err := NewNative(client).Start(context.Background(), baseConfig(), nil)
	require.NoError(t, err)

	acts := drain(t, h)
	assert.Equal(t, []ActivityKind{ActivityText, ActivityUsage, ActivityResult}, kinds(acts))
	final := acts[len(acts)-1]
	assert.Equal(t, "hello there", final.Text)
	assert.Equal(t, int64(13), final.Usage.TotalTokens)
	assert.Equal(t, 1, final.NumTurns)
	assert.Equal(t, StateCompleted, h.State())
}

func TestNativeToolLoop(t *testing.T) {
	var gotSession string
	lookup := fnTool{name: "lookup", fn: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		gotSession = tools.SessionIDFromCtx(ctx)
		return tools.NewResult("found it")
	}}
	client := &scriptedClient{script: []*providers.Completion{
		{Text: "checking", ToolCalls: []providers.ToolCall{{ID: "c1", Name: "lookup", Arguments: map[string]interface{}{}}}},
		{Text: "done"},
	}}

	h, err := NewNative(client).Start(context.Background(), baseConfig(), tools.NewView(lookup))
	require.NoError(t, err)
	acts := drain(t, h)

	assert.Equal(t, []ActivityKind{
		ActivityText, ActivityToolUse, ActivityToolResult, ActivityText, ActivityUsage, ActivityResult,
	}, kinds(acts))
	assert.Equal(t, "found it", acts[2].Text)
	assert.Equal(t, "c1", acts[2].ToolID)
	assert.Equal(t, "s1", gotSession)

	require.Len(t, client.requests, 2)
	second := client.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, providers.RoleTool, second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCallID)
	assert.Len(t, client.requests[0].Tools, 1)
}

func TestNativeToolFailureContinues(t *testing.T) {
	write := fnTool{name: "write", mutating: true, fn: func(context.Context, map[string]interface{}) *tools.Result {
		t.Error("mutating tool must not run in restricted mode")
		return tools.NewResult("")
	}}
	client := &scriptedClient{script: []*providers.Completion{
		{ToolCalls: []providers.ToolCall{
			{ID: "a", Name: "write"},
			{ID: "b", Name: "missing"},
		}},
		{Text: "gave up"},
	}}
	cfg := baseConfig()
	cfg.Permission = recipe.PermissionRestricted

	h, err := NewNative(client).Start(context.Background(), cfg, tools.NewView(write))
	require.NoError(t, err)
	acts := drain(t, h)

	var results []Activity
	for _, a := range acts {
		if a.Kind == ActivityToolResult {
			results = append(results, a)
		}
	}
	require.Len(t, results, 2)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Text, "Error: ")
	assert.True(t, results[1].IsError)
	assert.Contains(t, results[1].Text, "unknown tool")
	assert.Equal(t, ActivityResult, acts[len(acts)-1].Kind)
}

func TestNativeRecipeObserverOrdering(t *testing.T) {
	nested := fnTool{name: "execute_recipe", fn: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		if obs := tools.RecipeObserverFromCtx(ctx); obs != nil {
			obs("summarizer", "sum it", 1)
		}
		return tools.NewResult("42")
	}}
	client := &scriptedClient{script: []*providers.Completion{
		{ToolCalls: []providers.ToolCall{{ID: "r1", Name: "execute_recipe"}}},
		{Text: "the answer is 42"},
	}}

	h, err := NewNative(client).Start(context.Background(), baseConfig(), tools.NewView(nested))
	require.NoError(t, err)
	acts := drain(t, h)

	assert.Equal(t, []ActivityKind{
		ActivityToolUse, ActivityRecipeCall, ActivityToolResult, ActivityText, ActivityUsage, ActivityResult,
	}, kinds(acts))
	assert.Equal(t, "summarizer", acts[1].RecipeID)
	assert.Equal(t, 1, acts[1].Depth)
	assert.Equal(t, "42", acts[2].Text)
}

func TestNativeMaxTurns(t *testing.T) {
	loop := fnTool{name: "loop", fn: func(context.Context, map[string]interface{}) *tools.Result {
		return tools.NewResult("again")
	}}
	call := &providers.Completion{ToolCalls: []providers.ToolCall{{ID: "x", Name: "loop"}}}
	client := &scriptedClient{script: []*providers.Completion{call, call, call}}
	cfg := baseConfig()
	cfg.MaxTurns = 2

	h, err := NewNative(client).Start(context.Background(), cfg, tools.NewView(loop))
	require.NoError(t, err)
	acts := drain(t, h)

	last := acts[len(acts)-1]
	assert.Equal(t, ActivityError, last.Kind)
	assert.Contains(t, last.Text, "max turns (2)")
	assert.Equal(t, StateRunning, last.State)
	assert.Equal(t, StateFailed, h.State())
	assert.Len(t, client.requests, 2)
}

func TestNativeModelError(t *testing.T) {
	client := &scriptedClient{err: errors.New("429 rate_limit_error: slow down")}
	h, err := NewNative(client).Start(context.Background(), baseConfig(), nil)
	require.NoError(t, err)
	acts := drain(t, h)

	require.Len(t, acts, 1)
	assert.Equal(t, ActivityError, acts[0].Kind)
	assert.NotEmpty(t, acts[0].Text)
	assert.Contains(t, acts[0].Diagnostic, "429")
	assert.Equal(t, StateFailed, h.State())
}

func TestNativeStopReleasesRun(t *testing.T) {
	client := &scriptedClient{block: true}
	h, err := NewNative(client, WithNativeStopGrace(500*time.Millisecond)).Start(context.Background(), baseConfig(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, h.Stop())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NoError(t, h.Stop())

	acts := drain(t, h)
	assert.Empty(t, acts)
	assert.Equal(t, StateCancelled, h.State())
	assert.Equal(t, int32(0), client.inFlight.Load())
}

func TestNativeStartFailsOnUnknownModel(t *testing.T) {
	router := providers.NewRouter("")
	cfg := baseConfig()
	cfg.Model = "mystery-model"

	h, err := NewNative(router).Start(context.Background(), cfg, nil)
	assert.Nil(t, h)
	require.ErrorIs(t, err, ErrStartFailed)
	assert.ErrorIs(t, err, providers.ErrNoBackend)
}

func TestNewRunConfig(t *testing.T) {
	turns := 7
	res := &recipe.Result{Success: true, SystemPrompt: "sys", MaxTurns: &turns, PermissionMode: "acceptEdits"}
	cfg := NewRunConfig(res, "do it", Defaults{Model: "gpt-4o", MaxTurns: 20, Workspace: "/ws"})

	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 7, cfg.MaxTurns)
	assert.Equal(t, recipe.PermissionRestricted, cfg.Permission)
	assert.Equal(t, "/ws", cfg.Workspace)
	assert.Equal(t, "do it", cfg.Prompt)

	silent := NewRunConfig(&recipe.Result{Success: true, Model: "claude-x"}, "p", Defaults{})
	assert.Equal(t, "claude-x", silent.Model)
	assert.Equal(t, DefaultMaxTurns, silent.MaxTurns)
	assert.Equal(t, recipe.MostRestrictive, silent.Permission)
}
