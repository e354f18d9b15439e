// Package executor is the orchestrator: it validates a request, resolves its
// recipe, starts a runtime with the session's tool view and bridges runtime
// activity into the event stream until exactly one terminal event.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentgate/internal/mcp"
	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/runtime"
	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/internal/stream"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// finalEmitTimeout bounds the cancel notice sent after a session context ends.
const finalEmitTimeout = time.Second

// Session outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Metrics receives orchestration counters. All methods must be safe for
// concurrent use.
type Metrics interface {
	SessionStarted(agentID string)
	SessionFinished(agentID, outcome string, elapsed time.Duration)
	ToolCall(tool string, isError bool)
	RecipeCall(recipeID string, depth int)
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted(string)                         {}
func (noopMetrics) SessionFinished(string, string, time.Duration) {}
func (noopMetrics) ToolCall(string, bool)                         {}
func (noopMetrics) RecipeCall(string, int)                        {}

// Options wires an Executor.
type Options struct {
	Resolver    recipe.Resolver
	Registry    *tools.Registry
	Runtime     runtime.Runtime
	Sessions    *session.Manager
	MCP         *mcp.Manager // optional; adds default attachments
	Defaults    runtime.Defaults
	Guard       *InputGuard // optional
	Metrics     Metrics     // optional
	RateLimiter *tools.ToolRateLimiter
}

// Executor runs Execution Requests. One Execute call owns one session; many
// may run concurrently.
type Executor struct {
	resolver    recipe.Resolver
	registry    *tools.Registry
	runtime     runtime.Runtime
	sessions    *session.Manager
	mcp         *mcp.Manager
	defaults    runtime.Defaults
	guard       *InputGuard
	metrics     Metrics
	rateLimiter *tools.ToolRateLimiter
	tracer      trace.Tracer
}

func New(opts Options) *Executor {
	x := &Executor{
		resolver:    opts.Resolver,
		registry:    opts.Registry,
		runtime:     opts.Runtime,
		sessions:    opts.Sessions,
		mcp:         opts.MCP,
		defaults:    opts.Defaults,
		guard:       opts.Guard,
		metrics:     opts.Metrics,
		rateLimiter: opts.RateLimiter,
		tracer:      otel.Tracer("agentgate/executor"),
	}
	if x.metrics == nil {
		x.metrics = noopMetrics{}
	}
	if x.sessions == nil {
		x.sessions = session.NewManager(0)
	}
	if x.registry == nil {
		x.registry = tools.NewRegistry()
	}
	if x.mcp == nil {
		x.mcp = mcp.NewManager(nil, "")
	}
	return x
}

// Sessions exposes the session table for cancel and listing endpoints.
func (x *Executor) Sessions() *session.Manager { return x.sessions }

// Execute runs req to completion, writing its events to em. em is always
// closed on return, and carries exactly one terminal event unless the
// consumer went away.
func (x *Executor) Execute(ctx context.Context, req *protocol.ExecuteRequest, em *stream.Emitter) {
	defer em.Close()

	if err := req.Validate(); err != nil {
		_ = em.Error(ctx, err.Error(), protocol.LayerValidation, nil)
		x.metrics.SessionFinished(req.AgentID, OutcomeRejected, 0)
		return
	}
	agentID := recipe.NormalizeID(req.AgentID)

	sess, sessCtx, err := x.sessions.Create(ctx, agentID, req.ConversationID)
	if err != nil {
		_ = em.Error(ctx, err.Error(), protocol.LayerSession, nil)
		x.metrics.SessionFinished(agentID, OutcomeRejected, 0)
		return
	}
	started := time.Now()
	x.metrics.SessionStarted(agentID)

	sessCtx, span := x.tracer.Start(sessCtx, "agent.execute", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("session.id", sess.ID),
		attribute.String("conversation.id", sess.ConversationID),
	))

	run := &run{x: x, req: req, em: em, sess: sess, ctx: sessCtx, agentID: agentID}
	status := run.execute()

	// An explicit cancel can land in any phase. Unless the run already
	// reached its terminal event, the stream ends with the session error.
	if sess.CancelledExplicitly() && em.Terminal() == "" {
		status = session.StatusCancelled
		finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalEmitTimeout)
		_ = em.Error(finalCtx, "session cancelled", protocol.LayerSession, map[string]interface{}{"session_id": sess.ID})
		cancel()
	}

	if status != session.StatusCompleted {
		span.SetStatus(codes.Error, string(status))
	}
	span.End()

	x.sessions.End(sess.ID, status)
	x.rateLimiter.Forget(sess.ID)
	x.metrics.SessionFinished(agentID, string(status), time.Since(started))
	slog.Info("session.ended", "session", sess.ID, "agent", agentID, "status", status,
		"events", em.Emitted(), "duration_ms", time.Since(started).Milliseconds())
}

// run is the state of one Execute call.
type run struct {
	x       *Executor
	req     *protocol.ExecuteRequest
	em      *stream.Emitter
	sess    *session.Session
	ctx     context.Context
	agentID string
}

func (r *run) execute() session.Status {
	x := r.x
	userInput := r.req.UserInput.String()

	res := r.resolve(userInput)
	if r.ctx.Err() != nil {
		// Cancelled while resolving; the outcome no longer matters.
		return session.StatusCancelled
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "recipe resolution failed"
		}
		slog.Info("session.resolve_failed", "session", r.sess.ID, "agent", r.agentID, "error", msg)
		_ = r.em.Error(r.ctx, msg, "", nil)
		return session.StatusFailed
	}
	if r.em.DebugEnabled() {
		_ = r.em.Debug(r.ctx, map[string]interface{}{"recipe_result": res})
	}

	prompt := res.CompiledPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = userInput
	}
	if strings.TrimSpace(prompt) == "" {
		_ = r.em.Error(r.ctx, "no prompt available: user_input and compiled_prompt are both empty", protocol.LayerExecutor, nil)
		return session.StatusFailed
	}
	if matches, blocked := x.guard.Check(r.agentID, prompt); blocked {
		_ = r.em.Error(r.ctx, "input rejected by injection guard", protocol.LayerValidation,
			map[string]interface{}{"patterns": matches})
		return session.StatusFailed
	} else if len(matches) > 0 {
		_ = r.em.Debug(r.ctx, map[string]interface{}{"injection_patterns": matches})
	}

	if err := r.em.Status(r.ctx, protocol.StatusInitializing, map[string]interface{}{
		"agent_id":        r.agentID,
		"session_id":      r.sess.ID,
		"conversation_id": r.sess.ConversationID,
	}); err != nil {
		return session.StatusCancelled
	}

	view, attached := r.buildView(res)
	defer func() {
		if err := attached.Close(); err != nil {
			slog.Warn("mcp.close_failed", "session", r.sess.ID, "error", err)
		}
	}()

	cfg := runtime.NewRunConfig(res, prompt, x.defaults)
	cfg.SessionID = r.sess.ID
	cfg.ConversationID = r.sess.ConversationID
	cfg.AgentID = r.agentID
	if r.em.DebugEnabled() {
		_ = r.em.Debug(r.ctx, map[string]interface{}{
			"runtime":    x.runtime.Name(),
			"model":      cfg.Model,
			"max_turns":  cfg.MaxTurns,
			"permission": string(cfg.Permission),
			"tools":      view.Names(),
		})
	}

	handle, err := x.runtime.Start(r.ctx, cfg, view)
	if err != nil && r.ctx.Err() != nil {
		return session.StatusCancelled
	}
	if err != nil {
		slog.Warn("session.runtime_start_failed", "session", r.sess.ID, "error", err)
		msg := err.Error()
		if !errors.Is(err, runtime.ErrStartFailed) {
			msg = "runtime failed to start: " + msg
		}
		_ = r.em.Error(r.ctx, msg, protocol.LayerRuntime, map[string]interface{}{
			"state":      string(runtime.StateFailed),
			"diagnostic": err.Error(),
		})
		return session.StatusFailed
	}
	r.sess.SetRuntime(string(handle.State()))
	slog.Info("session.started", "session", r.sess.ID, "agent", r.agentID,
		"runtime", x.runtime.Name(), "model", cfg.Model, "tools", view.Len())

	if err := r.em.Status(r.ctx, protocol.StatusRunning, nil); err != nil {
		return r.cancel(handle)
	}
	return r.drive(handle)
}

// resolve calls the resolver exactly once. A nil result is a failure.
func (r *run) resolve(userInput string) *recipe.Result {
	ctx, span := r.x.tracer.Start(r.ctx, "recipe.resolve", trace.WithAttributes(attribute.String("agent.id", r.agentID)))
	defer span.End()

	res := r.x.resolver.Resolve(ctx, recipe.Request{
		AgentID:   r.agentID,
		UserInput: userInput,
		Variables: r.req.Variables,
		Overrides: r.req.ConfigOverrides,
	})
	if res == nil {
		res = recipe.Failure("resolver returned no result for %s", r.agentID)
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

// buildView intersects the allowed tools with the registry and adds the
// session-scoped custom and attachment tools.
func (r *run) buildView(res *recipe.Result) (*tools.View, *mcp.Session) {
	view := r.x.registry.View(res.AllowedTools)
	if custom := tools.CustomTools(res.CustomTools); len(custom) > 0 {
		view = view.With(custom...)
	}

	if len(r.x.mcp.Defaults()) == 0 && len(res.MCPServers) == 0 {
		return view, nil
	}
	attached, warnings := r.x.mcp.Connect(r.ctx, res.MCPServers)
	for _, w := range warnings {
		_ = r.em.Status(r.ctx, protocol.StatusWarning, map[string]interface{}{"message": w.Error()})
	}
	if remote := attached.Tools(); len(remote) > 0 {
		view = view.With(remote...)
	}
	return view, attached
}

// drive bridges activities into events 1:1 until the runtime ends or the
// session context is cancelled.
func (r *run) drive(h runtime.Handle) session.Status {
	for {
		select {
		case <-r.ctx.Done():
			return r.cancel(h)

		case a, ok := <-h.Activities():
			if !ok {
				return r.finalStatus(h)
			}
			r.sess.SetRuntime(string(h.State()))
			if err := r.forward(a); err != nil {
				slog.Info("session.consumer_gone", "session", r.sess.ID, "error", err)
				return r.cancel(h)
			}
		}
	}
}

func (r *run) forward(a runtime.Activity) error {
	ctx, em := r.ctx, r.em
	switch a.Kind {
	case runtime.ActivityText:
		return em.Content(ctx, a.Text)
	case runtime.ActivityToolUse:
		return em.ToolUse(ctx, a.ToolID, a.Tool, a.Input)
	case runtime.ActivityToolResult:
		r.x.metrics.ToolCall(a.Tool, a.IsError)
		return em.ToolResult(ctx, a.ToolID, a.Tool, a.Text, a.IsError)
	case runtime.ActivityRecipeCall:
		r.x.metrics.RecipeCall(a.RecipeID, a.Depth)
		return em.RecipeCall(ctx, a.RecipeID, a.Task, a.Depth)
	case runtime.ActivityUsage:
		if a.Usage == nil {
			return nil
		}
		return em.Usage(ctx, *a.Usage)
	case runtime.ActivityStatus:
		return em.Status(ctx, a.Text, a.Data)
	case runtime.ActivityDebug:
		return em.Debug(ctx, a.Data)
	case runtime.ActivityResult:
		meta := map[string]interface{}{
			"conversation_id": r.sess.ConversationID,
			"session_id":      r.sess.ID,
		}
		if a.Usage != nil {
			meta["usage"] = a.Usage.Map()
		}
		if a.NumTurns > 0 {
			meta["num_turns"] = a.NumTurns
		}
		return em.Done(ctx, a.Text, meta)
	case runtime.ActivityError:
		extra := map[string]interface{}{}
		if a.State != "" {
			extra["state"] = string(a.State)
		}
		if a.Diagnostic != "" {
			extra["diagnostic"] = a.Diagnostic
		}
		return em.Error(ctx, a.Text, protocol.LayerRuntime, extra)
	}
	return nil
}

// finalStatus maps the runtime's end state to a session status and makes
// sure a finished stream never lacks a terminal event.
func (r *run) finalStatus(h runtime.Handle) session.Status {
	state := h.State()
	switch state {
	case runtime.StateCompleted:
		if r.em.Terminal() == "" {
			_ = r.em.Done(r.ctx, "", map[string]interface{}{
				"conversation_id": r.sess.ConversationID,
				"session_id":      r.sess.ID,
			})
		}
		return session.StatusCompleted
	case runtime.StateCancelled:
		return session.StatusCancelled
	default:
		if r.em.Terminal() == "" {
			_ = r.em.Error(r.ctx, "runtime ended unexpectedly", protocol.LayerRuntime,
				map[string]interface{}{"state": string(state)})
		}
		return session.StatusFailed
	}
}

func (r *run) cancel(h runtime.Handle) session.Status {
	if err := h.Stop(); err != nil {
		slog.Warn("session.stop_failed", "session", r.sess.ID, "error", err)
	}
	go drain(h)
	slog.Info("session.cancelled", "session", r.sess.ID, "explicit", r.sess.CancelledExplicitly())
	return session.StatusCancelled
}

func drain(h runtime.Handle) {
	for range h.Activities() {
	}
}
