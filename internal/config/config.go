// Package config loads the gateway configuration from a JSON5 file
// overlaid by a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titanous/json5"
)

const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8000
	DefaultMaxBodyBytes = 1 << 20
	DefaultRuntime      = "native"
	DefaultLogLevel     = "info"
)

// Config is the root configuration.
type Config struct {
	LogLevel  string          `json:"log_level,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Engine    EngineConfig    `json:"engine"`
	Providers ProvidersConfig `json:"providers"`
	Recipes   RecipesConfig   `json:"recipes"`
	Tools     ToolsConfig     `json:"tools"`
	MCP       MCPConfig       `json:"mcp"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// GatewayConfig controls the HTTP surface.
type GatewayConfig struct {
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port,omitempty"`
	Token          string   `json:"token,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"` // per client IP; 0 disables
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket origins; empty allows all
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// EngineConfig controls session execution.
type EngineConfig struct {
	Runtime               string `json:"runtime,omitempty"` // native | claude-cli
	DefaultModel          string `json:"default_model,omitempty"`
	MaxTurns              int    `json:"max_turns,omitempty"`
	MaxConcurrentSessions int    `json:"max_concurrent_sessions,omitempty"`
	Workspace             string `json:"workspace,omitempty"`
	PermissionMode        string `json:"permission_mode,omitempty"`
	StopGraceMs           int    `json:"stop_grace_ms,omitempty"`
	CLIPath               string `json:"cli_path,omitempty"`
	InjectionGuard        string `json:"injection_guard,omitempty"` // log | warn | block | off
	ContextWindow         int    `json:"context_window,omitempty"`
}

// StopGrace returns the runtime stop grace period.
func (e EngineConfig) StopGrace() time.Duration {
	return time.Duration(e.StopGraceMs) * time.Millisecond
}

// ProviderConfig holds one backend's credentials.
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// LiteLLMConfig routes every model through an OpenAI-compatible proxy.
type LiteLLMConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	URL     string `json:"url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
	Gemini    ProviderConfig `json:"gemini"`
	LiteLLM   LiteLLMConfig  `json:"litellm"`
}

// HasCredentials reports whether any backend can be reached.
func (p ProvidersConfig) HasCredentials() bool {
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != "" || p.Gemini.APIKey != "" ||
		(p.LiteLLM.Enabled && p.LiteLLM.URL != "")
}

// Recipe sources.
const (
	SourcePlaceholder = "placeholder"
	SourceFile        = "file"
	SourceHTTP        = "http"
)

// RecipesConfig selects and tunes the config resolver.
type RecipesConfig struct {
	Source      string `json:"source,omitempty"` // placeholder | file | http
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
	Token       string `json:"token,omitempty"`
	TimeoutSec  int    `json:"timeout_sec,omitempty"`
	Retries     *int   `json:"retries,omitempty"` // http source; nil = default
	CacheSize   int    `json:"cache_size,omitempty"` // 0 disables caching
	CacheTTLSec int    `json:"cache_ttl_sec,omitempty"`
	RedisURL    string `json:"redis_url,omitempty"`
}

// DatabaseConfig names a database reachable through query_database.
type DatabaseConfig struct {
	Driver   string `json:"driver"` // postgres | sqlite
	DSN      string `json:"dsn"`
	Writable bool   `json:"writable,omitempty"`
	MaxRows  int    `json:"max_rows,omitempty"`
}

type ToolsConfig struct {
	Databases            map[string]DatabaseConfig `json:"databases,omitempty"`
	AllowPrivateNetworks bool                      `json:"allow_private_networks,omitempty"`
	MaxRecipeDepth       int                       `json:"max_recipe_depth,omitempty"`
	RecipeTimeoutSec     int                       `json:"recipe_timeout_sec,omitempty"`
	RateLimitPerMinute   int                       `json:"rate_limit_per_minute,omitempty"` // per session; 0 disables
	ScrubCredentials     *bool                     `json:"scrub_credentials,omitempty"`
}

// Scrubbing reports whether tool output is scrubbed (default true).
func (t ToolsConfig) Scrubbing() bool {
	return t.ScrubCredentials == nil || *t.ScrubCredentials
}

type MCPConfig struct {
	ConfigPath string `json:"config_path,omitempty"`
}

// TelemetryConfig controls tracing export and the metrics endpoint.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // grpc | http
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Metrics     *bool             `json:"metrics,omitempty"`
}

// MetricsEnabled reports whether /metrics is served (default true).
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.Metrics == nil || *t.Metrics
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Gateway: GatewayConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Engine: EngineConfig{
			Runtime:        DefaultRuntime,
			MaxTurns:       50,
			StopGraceMs:    2000,
			InjectionGuard: "warn",
		},
		Recipes: RecipesConfig{
			Source:      SourcePlaceholder,
			TimeoutSec:  30,
			CacheSize:   256,
			CacheTTLSec: 300,
		},
		Tools: ToolsConfig{
			MaxRecipeDepth:   3,
			RecipeTimeoutSec: 120,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "agentgate",
		},
	}
}

// Load reads path (a missing file yields defaults), then applies the
// environment overlay and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv()
	cfg.Engine.Workspace = ExpandHome(cfg.Engine.Workspace)
	cfg.Recipes.Path = ExpandHome(cfg.Recipes.Path)
	cfg.MCP.ConfigPath = ExpandHome(cfg.MCP.ConfigPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	switch c.Engine.Runtime {
	case "native", "claude-cli":
	default:
		errs = append(errs, fmt.Errorf("engine.runtime %q must be native or claude-cli", c.Engine.Runtime))
	}
	switch c.Recipes.Source {
	case SourcePlaceholder:
	case SourceFile:
		if c.Recipes.Path == "" {
			errs = append(errs, errors.New("recipes.path is required for the file source"))
		}
	case SourceHTTP:
		if c.Recipes.URL == "" {
			errs = append(errs, errors.New("recipes.url is required for the http source"))
		}
	default:
		errs = append(errs, fmt.Errorf("recipes.source %q must be placeholder, file or http", c.Recipes.Source))
	}
	for name, db := range c.Tools.Databases {
		if db.Driver != "postgres" && db.Driver != "sqlite" {
			errs = append(errs, fmt.Errorf("tools.databases.%s: driver %q must be postgres or sqlite", name, db.Driver))
		}
		if db.DSN == "" {
			errs = append(errs, fmt.Errorf("tools.databases.%s: dsn is required", name))
		}
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		errs = append(errs, fmt.Errorf("telemetry.protocol %q must be grpc or http", c.Telemetry.Protocol))
	}
	return errors.Join(errs...)
}

// ResolvePath picks the config path: flag, then AGENTGATE_CONFIG, then
// ~/.agentgate/config.json.
func ResolvePath(flag string) string {
	if flag != "" {
		return ExpandHome(flag)
	}
	if v := os.Getenv("AGENTGATE_CONFIG"); v != "" {
		return ExpandHome(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".agentgate", "config.json")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
