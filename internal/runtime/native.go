package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// NativeName identifies the native engine in config.
const NativeName = "native"

// ErrStartFailed wraps every startup failure returned by Start.
var ErrStartFailed = errors.New("runtime failed to start")

// modelResolver is implemented by clients that can check a model id up front.
type modelResolver interface {
	Resolve(model string) (providers.Provider, string, error)
}

// Native runs a tool-use loop directly over a model client.
type Native struct {
	client  providers.Client
	grace   time.Duration
	pruning PruningConfig
}

// NativeOption configures a Native runtime.
type NativeOption func(*Native)

func WithNativeStopGrace(d time.Duration) NativeOption {
	return func(n *Native) { n.grace = d }
}

func WithPruning(cfg PruningConfig) NativeOption {
	return func(n *Native) { n.pruning = cfg }
}

func NewNative(client providers.Client, opts ...NativeOption) *Native {
	n := &Native{client: client, grace: DefaultStopGrace}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Native) Name() string { return NativeName }

// Start validates the model id and launches the loop.
func (n *Native) Start(ctx context.Context, cfg RunConfig, view *tools.View) (Handle, error) {
	h := &nativeHandle{baseHandle: newBaseHandle(ctx, n.grace), client: n.client, pruning: n.pruning}
	_ = h.sm.transition(StateStarting)

	if r, ok := n.client.(modelResolver); ok {
		if _, _, err := r.Resolve(cfg.Model); err != nil {
			_ = h.sm.transition(StateFailed)
			h.cancel()
			return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
	}
	if view == nil {
		view = tools.NewView()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}

	_ = h.sm.transition(StateRunning)
	go h.run(cfg, view)
	return h, nil
}

type nativeHandle struct {
	*baseHandle
	client  providers.Client
	pruning PruningConfig
}

func (h *nativeHandle) run(cfg RunConfig, view *tools.View) {
	defer h.closeRun()

	ctx := tools.WithSessionID(h.runCtx, cfg.SessionID)
	ctx = tools.WithWorkspace(ctx, cfg.Workspace)
	ctx = tools.WithRecipeObserver(ctx, func(recipeID, task string, depth int) {
		h.emit(Activity{Kind: ActivityRecipeCall, RecipeID: recipeID, Task: task, Depth: depth})
	})

	defs := view.Definitions()
	messages := []providers.Message{{Role: providers.RoleUser, Content: cfg.Prompt}}
	var usage protocol.Usage

	for turn := 1; turn <= cfg.MaxTurns; turn++ {
		comp, err := h.client.Complete(ctx, providers.CompletionRequest{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Messages:     pruneToolResults(messages, h.pruning),
			Tools:        defs,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.fail(providers.DescribeError(err), err.Error())
			return
		}

		usage.Add(protocol.Usage{InputTokens: comp.Usage.InputTokens, OutputTokens: comp.Usage.OutputTokens})
		if comp.Text != "" && !h.emit(Activity{Kind: ActivityText, Text: comp.Text}) {
			return
		}

		if len(comp.ToolCalls) == 0 {
			usage.NumTurns = turn
			final := usage
			h.emit(Activity{Kind: ActivityUsage, Usage: &final})
			h.finish(StateCompleted, Activity{Kind: ActivityResult, Text: comp.Text, Usage: &final, NumTurns: turn})
			return
		}

		messages = append(messages, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   comp.Text,
			ToolCalls: comp.ToolCalls,
		})
		for _, call := range comp.ToolCalls {
			if !h.emit(Activity{Kind: ActivityToolUse, ToolID: call.ID, Tool: call.Name, Input: call.Arguments}) {
				return
			}
			res := h.callTool(ctx, cfg, view, call)
			if !h.emit(Activity{Kind: ActivityToolResult, ToolID: call.ID, Tool: call.Name, Text: res.StreamText(), IsError: res.IsError}) {
				return
			}
			messages = append(messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    res.ForLLM,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				IsError:    res.IsError,
			})
		}
	}

	h.fail(fmt.Sprintf("max turns (%d) reached without a final answer", cfg.MaxTurns), "max_turns")
}

// callTool enforces the session permission mode and runs one call.
func (h *nativeHandle) callTool(ctx context.Context, cfg RunConfig, view *tools.View, call providers.ToolCall) *tools.Result {
	ctx, span := otel.Tracer("agentgate/runtime").Start(ctx, "tool.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name), attribute.String("session.id", cfg.SessionID))

	tool, ok := view.Get(call.Name)
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		return tools.ErrorResult("unknown tool: " + call.Name)
	}
	if err := tools.CheckPermission(cfg.Permission, tool, call.Arguments); err != nil {
		span.SetStatus(codes.Error, "permission denied")
		slog.Info("tool.denied", "tool", call.Name, "session", cfg.SessionID, "mode", cfg.Permission)
		return tools.ErrorResult(err.Error())
	}

	res := view.Execute(ctx, call.Name, call.Arguments)
	if res.IsError {
		span.SetStatus(codes.Error, tools.Truncate(res.ForLLM, 200))
	}
	return res
}
