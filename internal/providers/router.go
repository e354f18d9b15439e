package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultModel is used when neither the request nor the router names one.
const DefaultModel = "claude-sonnet-4-5-20250929"

// CallObserver is told about every completed backend call.
type CallObserver func(provider, model string, elapsed time.Duration, err error)

// Router is a Client that dispatches each request to a backend chosen by
// model id prefix. When a proxy is set, every request goes through it.
type Router struct {
	mu           sync.RWMutex
	backends     map[string]Provider
	proxy        Provider
	defaultModel string
	observer     CallObserver
}

func NewRouter(defaultModel string) *Router {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	return &Router{backends: make(map[string]Provider), defaultModel: defaultModel}
}

// Register adds a backend under its Name ("anthropic", "openai", "gemini").
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[p.Name()] = p
}

// SetProxy routes every model through p, keeping model ids unchanged.
func (r *Router) SetProxy(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxy = p
}

// SetDefaultModel changes the model used when a request names none.
func (r *Router) SetDefaultModel(model string) {
	if model == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = model
}

func (r *Router) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// SetObserver installs a hook for call metrics.
func (r *Router) SetObserver(obs CallObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = obs
}

// Backends lists registered backend names, plus "proxy" when one is set.
func (r *Router) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends)+1)
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	if r.proxy != nil {
		names = append(names, "proxy")
	}
	return names
}

// Resolve picks the backend for model and returns the model id to send.
// Provider prefixes such as "anthropic/" are stripped for direct backends.
func (r *Router) Resolve(model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if model == "" {
		model = r.defaultModel
	}
	if r.proxy != nil {
		return r.proxy, model, nil
	}

	backend, id := backendFor(model)
	if backend == "" {
		return nil, model, fmt.Errorf("%w %q", ErrNoBackend, model)
	}
	p, ok := r.backends[backend]
	if !ok {
		return nil, model, fmt.Errorf("%w %q (%s backend not configured)", ErrNoBackend, model, backend)
	}
	return p, id, nil
}

func backendFor(model string) (backend, id string) {
	lower := strings.ToLower(model)
	if prefix, _, ok := strings.Cut(lower, "/"); ok {
		switch prefix {
		case anthropicName, openaiName, geminiName:
			return prefix, model[len(prefix)+1:]
		}
		return "", model
	}
	switch {
	case strings.HasPrefix(lower, "claude"):
		return anthropicName, model
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"),
		strings.HasPrefix(lower, "chatgpt"):
		return openaiName, model
	case strings.HasPrefix(lower, "gemini"):
		return geminiName, model
	}
	return "", model
}

// Complete implements Client.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	p, model, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	req.Model = model

	ctx, span := otel.Tracer("agentgate/providers").Start(ctx, "model.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.provider", p.Name()),
		attribute.String("model.id", model),
		attribute.Int("model.tools", len(req.Tools)),
	)

	start := time.Now()
	comp, err := p.Complete(ctx, req)
	elapsed := time.Since(start)

	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs(p.Name(), model, elapsed, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("model.complete_failed", "provider", p.Name(), "model", model, "error", err)
		return nil, err
	}

	EstimateUsage(req, comp)
	span.SetAttributes(
		attribute.Int64("model.input_tokens", comp.Usage.InputTokens),
		attribute.Int64("model.output_tokens", comp.Usage.OutputTokens),
	)
	slog.Debug("model.complete", "provider", p.Name(), "model", model,
		"duration_ms", elapsed.Milliseconds(), "tool_calls", len(comp.ToolCalls))
	return comp, nil
}
