// Package recipe defines the Config Resolver contract: it maps an agent id,
// user input, variables and overrides into a Result, and provides the
// resolver implementations the gateway can be configured with.
package recipe

import (
	"context"
	"fmt"
	"strings"
)

// PermissionMode governs which tool calls a session may run.
type PermissionMode string

const (
	PermissionFullAccess  PermissionMode = "full-access"
	PermissionRestricted  PermissionMode = "restricted"
	PermissionConfirmEach PermissionMode = "confirm-each"
)

// MostRestrictive is used whenever a resolver is silent on permissions.
const MostRestrictive = PermissionConfirmEach

// ParsePermissionMode accepts the canonical names and the legacy CLI aliases.
func ParsePermissionMode(s string) (PermissionMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full-access", "full_access", "bypasspermissions":
		return PermissionFullAccess, true
	case "restricted", "acceptedits":
		return PermissionRestricted, true
	case "confirm-each", "confirm_each", "default", "prompt":
		return PermissionConfirmEach, true
	default:
		return "", false
	}
}

// Request is the input of one resolution.
type Request struct {
	AgentID   string                 `json:"agent_id"`
	UserInput string                 `json:"user_input,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Overrides map[string]interface{} `json:"config_overrides,omitempty"`
}

// Result is the sole contract returned by a Resolver. When Success is false
// only Error is meaningful.
type Result struct {
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	SystemPrompt   string                 `json:"system_prompt,omitempty"`
	Model          string                 `json:"model,omitempty"`
	Temperature    *float64               `json:"temperature,omitempty"`
	MaxTokens      *int                   `json:"max_tokens,omitempty"`
	MaxTurns       *int                   `json:"max_turns,omitempty"`
	AllowedTools   []string               `json:"allowed_tools,omitempty"`
	CustomTools    []CustomTool           `json:"custom_tools,omitempty"`
	MCPServers     []Attachment           `json:"mcp_servers,omitempty"`
	PermissionMode string                 `json:"permission_mode,omitempty"`
	CompiledPrompt string                 `json:"compiled_prompt,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Failure builds a failed Result.
func Failure(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Permission returns the resolved mode, or MostRestrictive when the
// resolver left it empty or unrecognized.
func (r *Result) Permission() PermissionMode {
	if m, ok := ParsePermissionMode(r.PermissionMode); ok {
		return m
	}
	return MostRestrictive
}

// Allows reports whether name is in the allowed tool list.
func (r *Result) Allows(name string) bool {
	for _, n := range r.AllowedTools {
		if n == name {
			return true
		}
	}
	return false
}

// CustomTool is a session-scoped command-template tool.
type CustomTool struct {
	Name           string                 `json:"name" yaml:"name"`
	Description    string                 `json:"description" yaml:"description"`
	Parameters     map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Command        string                 `json:"command" yaml:"command"`
	TimeoutSeconds int                    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	WorkingDir     string                 `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Env            map[string]string      `json:"env,omitempty" yaml:"env,omitempty"`
}

// Attachment transports.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// Attachment describes an external capability server whose tools join a session.
type Attachment struct {
	Name       string            `json:"name" yaml:"name"`
	Transport  string            `json:"transport,omitempty" yaml:"transport,omitempty"`
	Command    string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args       []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty" yaml:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (a Attachment) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// TransportKind infers the transport when it is not set explicitly.
func (a Attachment) TransportKind() string {
	switch {
	case a.Transport != "":
		return a.Transport
	case a.Command != "":
		return TransportStdio
	default:
		return TransportStreamableHTTP
	}
}

// Resolver maps a Request to a Result. Implementations must be safe for
// concurrent use and never return nil: failures are Results with Success=false.
type Resolver interface {
	Resolve(ctx context.Context, req Request) *Result
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, req Request) *Result

func (f ResolverFunc) Resolve(ctx context.Context, req Request) *Result {
	return f(ctx, req)
}
