package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/executor"
	httpapi "github.com/nextlevelbuilder/agentgate/internal/http"
	"github.com/nextlevelbuilder/agentgate/internal/mcp"
	"github.com/nextlevelbuilder/agentgate/internal/providers"
	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/runtime"
	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/internal/telemetry"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

// gateway holds every wired component of a running gateway.
type gateway struct {
	cfg         *config.Config
	router      *providers.Router
	resolver    recipe.Resolver
	fileRecipes *recipe.FileResolver // nil unless recipes.source=file
	redis       *redis.Client
	registry    *tools.Registry
	builtins    *tools.Builtins
	mcp         *mcp.Manager
	sessions    *session.Manager
	executor    *executor.Executor
	metrics     *telemetry.Metrics
	tracing     *telemetry.Tracing
	toolLimiter *tools.ToolRateLimiter
}

// buildRouter registers every backend that has credentials.
func buildRouter(ctx context.Context, cfg *config.Config) (*providers.Router, error) {
	r := providers.NewRouter(cfg.Engine.DefaultModel)
	p := cfg.Providers
	if p.Anthropic.APIKey != "" {
		r.Register(providers.NewAnthropicProvider(p.Anthropic.APIKey, p.Anthropic.BaseURL))
	}
	if p.OpenAI.APIKey != "" {
		r.Register(providers.NewOpenAIProvider("openai", p.OpenAI.APIKey, p.OpenAI.BaseURL))
	}
	if p.Gemini.APIKey != "" {
		g, err := providers.NewGeminiProvider(ctx, p.Gemini.APIKey)
		if err != nil {
			return nil, err
		}
		r.Register(g)
	}
	if p.LiteLLM.Enabled {
		if p.LiteLLM.URL == "" {
			return nil, errors.New("litellm proxy enabled but no proxy URL configured")
		}
		r.SetProxy(providers.NewOpenAIProvider("litellm", p.LiteLLM.APIKey, p.LiteLLM.URL))
	}
	slog.Info("providers.configured", "backends", r.Backends(), "default_model", r.DefaultModel(),
		"proxy", p.LiteLLM.Enabled)
	return r, nil
}

// buildResolver selects the recipe source and wraps it with the cache tiers.
func buildResolver(cfg *config.Config, builtinNames []string) (recipe.Resolver, *recipe.FileResolver, *redis.Client, error) {
	rc := cfg.Recipes
	var (
		base recipe.Resolver
		file *recipe.FileResolver
	)
	switch rc.Source {
	case config.SourceFile:
		f, err := recipe.LoadFile(rc.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load recipes: %w", err)
		}
		base, file = f, f
	case config.SourceHTTP:
		h := recipe.NewHTTPResolver(rc.URL, rc.Token, time.Duration(rc.TimeoutSec)*time.Second)
		if rc.Retries != nil {
			h.Retry.MaxRetries = max(*rc.Retries, 0)
		}
		base = h
	default:
		p := recipe.NewPlaceholderResolver(builtinNames)
		p.Model = cfg.Engine.DefaultModel
		if cfg.Engine.MaxTurns > 0 {
			p.MaxTurns = cfg.Engine.MaxTurns
		}
		if mode, ok := recipe.ParsePermissionMode(cfg.Engine.PermissionMode); ok {
			p.PermissionMode = mode
		}
		base = p
	}

	// File recipes are reloaded in place; caching them would serve stale results.
	if rc.CacheSize <= 0 || file != nil {
		return base, file, nil, nil
	}
	ttl := time.Duration(rc.CacheTTLSec) * time.Second
	tiers := []recipe.Cache{recipe.NewMemoryCache(rc.CacheSize, ttl)}
	var client *redis.Client
	if rc.RedisURL != "" {
		rcache, c, err := recipe.NewRedisCacheFromURL(rc.RedisURL, ttl)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("recipe redis cache: %w", err)
		}
		tiers = append(tiers, rcache)
		client = c
	}
	return recipe.NewCachingResolver(base, tiers...), file, client, nil
}

func databaseSpecs(cfg *config.Config) map[string]tools.DatabaseSpec {
	if len(cfg.Tools.Databases) == 0 {
		return nil
	}
	specs := make(map[string]tools.DatabaseSpec, len(cfg.Tools.Databases))
	for name, db := range cfg.Tools.Databases {
		specs[name] = tools.DatabaseSpec{Driver: db.Driver, DSN: db.DSN, Writable: db.Writable, MaxRows: db.MaxRows}
	}
	return specs
}

// buildRuntime picks the engine named by engine.runtime.
func buildRuntime(cfg *config.Config, client providers.Client) runtime.Runtime {
	if cfg.Engine.Runtime == runtime.ClaudeCLIName {
		opts := []runtime.CLIOption{runtime.WithCLIStopGrace(cfg.Engine.StopGrace()), runtime.WithCLIVersion(Version)}
		if cfg.Engine.CLIPath != "" {
			opts = append(opts, runtime.WithCLIPath(cfg.Engine.CLIPath))
		}
		return runtime.NewClaudeCLI(opts...)
	}
	return runtime.NewNative(client,
		runtime.WithNativeStopGrace(cfg.Engine.StopGrace()),
		runtime.WithPruning(runtime.PruningConfig{ContextWindowTokens: cfg.Engine.ContextWindow}),
	)
}

// buildGateway wires every component from cfg. withTelemetry also starts
// the metrics meter and, when enabled, OTLP tracing.
func buildGateway(ctx context.Context, cfg *config.Config, withTelemetry bool) (*gateway, error) {
	g := &gateway{cfg: cfg}

	router, err := buildRouter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	g.router = router

	g.registry = tools.NewRegistry()
	g.registry.SetScrubbing(cfg.Tools.Scrubbing())
	if n := cfg.Tools.RateLimitPerMinute; n > 0 {
		g.toolLimiter = tools.NewToolRateLimiter(n, time.Minute)
		g.registry.SetRateLimiter(g.toolLimiter)
	}

	// The recipe tool needs the resolver and the resolver's placeholder
	// needs the builtin names, so the recipe tool resolves lazily.
	lazy := &lazyResolver{}
	g.builtins = tools.RegisterBuiltins(g.registry, tools.BuiltinOptions{
		Resolver:       lazy,
		Client:         router,
		DefaultModel:   router.DefaultModel(),
		MaxRecipeDepth: cfg.Tools.MaxRecipeDepth,
		RecipeTimeout:  time.Duration(cfg.Tools.RecipeTimeoutSec) * time.Second,
		Databases:      databaseSpecs(cfg),
		AllowPrivate:   cfg.Tools.AllowPrivateNetworks,
	})

	g.resolver, g.fileRecipes, g.redis, err = buildResolver(cfg, g.registry.Names())
	if err != nil {
		g.Close()
		return nil, err
	}
	lazy.set(g.resolver)

	var defaults []recipe.Attachment
	if cfg.MCP.ConfigPath != "" {
		defaults, err = mcp.LoadConfigFile(cfg.MCP.ConfigPath)
		if err != nil {
			g.Close()
			return nil, err
		}
	}
	g.mcp = mcp.NewManager(defaults, Version)
	g.sessions = session.NewManager(cfg.Engine.MaxConcurrentSessions)

	var metrics executor.Metrics
	if withTelemetry {
		if cfg.Telemetry.MetricsEnabled() {
			g.metrics, err = telemetry.NewMetrics(g.sessions.ActiveCount)
			if err != nil {
				g.Close()
				return nil, err
			}
			router.SetObserver(g.metrics.ModelCall)
			metrics = g.metrics
		}
		if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "" {
			g.tracing, err = telemetry.SetupTracing(ctx, telemetry.TracingConfig{
				Endpoint:    cfg.Telemetry.Endpoint,
				Protocol:    cfg.Telemetry.Protocol,
				Insecure:    cfg.Telemetry.Insecure,
				ServiceName: cfg.Telemetry.ServiceName,
				Version:     Version,
				Headers:     cfg.Telemetry.Headers,
			})
			if err != nil {
				slog.Warn("telemetry.tracing_failed", "error", err)
			}
		}
	}

	g.executor = executor.New(executor.Options{
		Resolver: g.resolver,
		Registry: g.registry,
		Runtime:  buildRuntime(cfg, router),
		Sessions: g.sessions,
		MCP:      g.mcp,
		Defaults: runtime.Defaults{
			Model:     cfg.Engine.DefaultModel,
			MaxTurns:  cfg.Engine.MaxTurns,
			Workspace: cfg.Engine.Workspace,
		},
		Guard:       executor.NewInputGuard(cfg.Engine.InjectionGuard),
		Metrics:     metrics,
		RateLimiter: g.toolLimiter,
	})
	return g, nil
}

// readiness builds the /ready checks.
func (g *gateway) readiness() []httpapi.ReadinessCheck {
	return []httpapi.ReadinessCheck{
		{Name: "model_credentials", Check: func(context.Context) error {
			if g.cfg.Engine.Runtime == runtime.ClaudeCLIName || g.cfg.Providers.HasCredentials() {
				return nil
			}
			return errors.New("no model backend credentials configured")
		}},
		{Name: "workspace", Check: func(context.Context) error {
			ws := g.cfg.Engine.Workspace
			if ws == "" {
				return nil
			}
			info, err := os.Stat(ws)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", ws)
			}
			return nil
		}},
		{Name: "resolver", Check: func(ctx context.Context) error {
			if g.redis != nil {
				if err := g.redis.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			if g.fileRecipes != nil && len(g.fileRecipes.IDs()) == 0 {
				return errors.New("recipe file defines no recipes")
			}
			return nil
		}},
	}
}

// Close releases database, cache and telemetry resources.
func (g *gateway) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.builtins.Close(); err != nil {
		slog.Warn("tools.close_failed", "error", err)
	}
	if g.redis != nil {
		_ = g.redis.Close()
	}
	if err := g.metrics.Shutdown(ctx); err != nil {
		slog.Warn("telemetry.metrics_shutdown_failed", "error", err)
	}
	if err := g.tracing.Shutdown(ctx); err != nil {
		slog.Warn("telemetry.tracing_shutdown_failed", "error", err)
	}
}

// lazyResolver forwards to a resolver set after construction.
type lazyResolver struct {
	next recipe.Resolver
}

func (l *lazyResolver) set(r recipe.Resolver) { l.next = r }

func (l *lazyResolver) Resolve(ctx context.Context, req recipe.Request) *recipe.Result {
	if l.next == nil {
		return recipe.Failure("recipe resolver not configured")
	}
	return l.next.Resolve(ctx, req)
}
