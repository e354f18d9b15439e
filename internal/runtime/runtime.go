// Package runtime wraps agent-execution engines behind a uniform
// start/drive/stop lifecycle. Two engines are provided: a native tool-use
// loop over the model client and the claude CLI in headless mode.
package runtime

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

const (
	// DefaultMaxTurns bounds a run when the recipe sets no max turns.
	DefaultMaxTurns = 50
	// DefaultStopGrace is how long Stop waits before a hard kill.
	DefaultStopGrace = 2 * time.Second
)

// ActivityKind enumerates runtime activity notifications.
type ActivityKind string

const (
	ActivityStatus     ActivityKind = "status"
	ActivityText       ActivityKind = "text"
	ActivityToolUse    ActivityKind = "tool_use"
	ActivityToolResult ActivityKind = "tool_result"
	ActivityRecipeCall ActivityKind = "recipe_call"
	ActivityUsage      ActivityKind = "usage"
	ActivityDebug      ActivityKind = "debug"
	ActivityResult     ActivityKind = "result"
	ActivityError      ActivityKind = "error"
)

// Activity is one native notification from a running engine.
type Activity struct {
	Kind ActivityKind

	// Text holds the text fragment, final result, status or error message.
	Text string

	ToolID  string
	Tool    string
	Input   map[string]interface{}
	IsError bool

	RecipeID string
	Task     string
	Depth    int

	Usage    *protocol.Usage
	NumTurns int

	// State and Diagnostic describe a failure.
	State      State
	Diagnostic string

	Data map[string]interface{}
}

// IsTerminal reports whether the activity ends the run.
func (a Activity) IsTerminal() bool {
	return a.Kind == ActivityResult || a.Kind == ActivityError
}

// RunConfig is the engine-neutral configuration of one run.
type RunConfig struct {
	SessionID      string
	ConversationID string
	AgentID        string
	Model          string
	SystemPrompt   string
	Prompt         string
	Temperature    *float64
	MaxTokens      *int
	MaxTurns       int
	Permission     recipe.PermissionMode
	Workspace      string
	Metadata       map[string]interface{}
}

// Defaults fill in what a resolution left unset.
type Defaults struct {
	Model     string
	MaxTurns  int
	Workspace string
}

// NewRunConfig translates a successful resolution into a RunConfig.
// prompt is the already-selected prompt (compiled prompt or raw input).
func NewRunConfig(res *recipe.Result, prompt string, d Defaults) RunConfig {
	cfg := RunConfig{
		Model:        res.Model,
		SystemPrompt: res.SystemPrompt,
		Prompt:       prompt,
		Temperature:  res.Temperature,
		MaxTokens:    res.MaxTokens,
		MaxTurns:     d.MaxTurns,
		Permission:   res.Permission(),
		Workspace:    d.Workspace,
		Metadata:     res.Metadata,
	}
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if res.MaxTurns != nil && *res.MaxTurns > 0 {
		cfg.MaxTurns = *res.MaxTurns
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return cfg
}

// Runtime starts runs of one engine.
type Runtime interface {
	Name() string
	// Start moves a new run through starting to running. A startup failure
	// leaves the run failed and is returned as an error.
	Start(ctx context.Context, cfg RunConfig, view *tools.View) (Handle, error)
}

// Handle is a live run.
type Handle interface {
	// Activities yields notifications in arrival order and is closed when
	// the run ends. The last activity of a finished run is terminal.
	Activities() <-chan Activity
	// Stop cancels the run and releases its resources. Idempotent.
	Stop() error
	State() State
}
