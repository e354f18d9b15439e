package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
)

// View is the immutable tool set of one session. With returns a copy, so a
// View can be shared by goroutines of the same session without locking.
type View struct {
	tools       map[string]Tool
	order       []string
	rateLimiter *ToolRateLimiter
	scrubbing   bool
	validators  *validatorCache
}

func newView(tools []Tool, rl *ToolRateLimiter, scrubbing bool) *View {
	v := &View{
		tools:       make(map[string]Tool, len(tools)),
		rateLimiter: rl,
		scrubbing:   scrubbing,
		validators:  newValidatorCache(),
	}
	for _, t := range tools {
		v.put(t)
	}
	return v
}

// NewView builds a standalone view, mainly for tests and nested calls.
func NewView(tools ...Tool) *View {
	return newView(tools, nil, true)
}

func (v *View) put(t Tool) {
	if _, exists := v.tools[t.Name()]; !exists {
		v.order = append(v.order, t.Name())
	}
	v.tools[t.Name()] = t
}

// With returns a new view with extra tools added. Extras replace same-named tools.
func (v *View) With(extra ...Tool) *View {
	nv := &View{
		tools:       make(map[string]Tool, len(v.tools)+len(extra)),
		order:       append([]string(nil), v.order...),
		rateLimiter: v.rateLimiter,
		scrubbing:   v.scrubbing,
		validators:  newValidatorCache(),
	}
	for name, t := range v.tools {
		nv.tools[name] = t
	}
	for _, t := range extra {
		nv.put(t)
	}
	return nv
}

// Get returns a tool by name.
func (v *View) Get(name string) (Tool, bool) {
	t, ok := v.tools[name]
	return t, ok
}

// Names returns tool names in insertion order.
func (v *View) Names() []string {
	return append([]string(nil), v.order...)
}

// Tools returns tools in insertion order.
func (v *View) Tools() []Tool {
	out := make([]Tool, 0, len(v.order))
	for _, name := range v.order {
		out = append(out, v.tools[name])
	}
	return out
}

// Len returns the number of tools in the view.
func (v *View) Len() int {
	return len(v.order)
}

// Definitions returns provider tool definitions in insertion order.
func (v *View) Definitions() []providers.ToolDefinition {
	return ToProviderDefs(v.Tools())
}

// Execute validates args, applies the session rate limit, runs the tool and
// scrubs credentials from its output. It never panics on an unknown name.
func (v *View) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	tool, ok := v.tools[name]
	if !ok {
		return ErrorResult("unknown tool: " + name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	if err := v.validators.validate(tool, args); err != nil {
		return ErrorResultf("invalid arguments for %s: %v", name, err).WithError(err)
	}

	if sessionID := SessionIDFromCtx(ctx); v.rateLimiter != nil && sessionID != "" {
		if err := v.rateLimiter.Allow(sessionID); err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
	}

	start := time.Now()
	result := tool.Execute(withView(ctx, v), args)
	if result == nil {
		result = NewResult("")
	}
	duration := time.Since(start)

	if v.scrubbing && result.ForLLM != "" {
		result.ForLLM = ScrubCredentials(result.ForLLM)
	}

	slog.Debug("tool executed",
		"tool", name,
		"session", SessionIDFromCtx(ctx),
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
	)

	return result
}
