package runtime

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/mcp"
	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

// ClaudeCLIName identifies the claude CLI engine in config.
const ClaudeCLIName = "claude-cli"

const (
	defaultCLIPath  = "claude"
	cliToolPrefix   = "mcp__" + mcp.ServerName + "__"
	stderrTailBytes = 4096
	maxCLILineBytes = 10 * 1024 * 1024
)

// ClaudeCLI spawns the claude CLI in headless stream-json mode. Gateway
// tools reach the CLI through a per-run loopback MCP server.
type ClaudeCLI struct {
	path    string
	grace   time.Duration
	env     []string
	version string
}

// CLIOption configures a ClaudeCLI runtime.
type CLIOption func(*ClaudeCLI)

// WithCLIPath sets the CLI binary (looked up on PATH).
func WithCLIPath(path string) CLIOption {
	return func(c *ClaudeCLI) {
		if path != "" {
			c.path = path
		}
	}
}

func WithCLIStopGrace(d time.Duration) CLIOption {
	return func(c *ClaudeCLI) { c.grace = d }
}

// WithCLIEnv adds KEY=VALUE pairs to the child environment.
func WithCLIEnv(env ...string) CLIOption {
	return func(c *ClaudeCLI) { c.env = append(c.env, env...) }
}

func WithCLIVersion(v string) CLIOption {
	return func(c *ClaudeCLI) { c.version = v }
}

func NewClaudeCLI(opts ...CLIOption) *ClaudeCLI {
	c := &ClaudeCLI{path: defaultCLIPath, grace: DefaultStopGrace}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClaudeCLI) Name() string { return ClaudeCLIName }

// CLIPermissionMode maps a session permission mode onto the CLI's flag value.
func CLIPermissionMode(m recipe.PermissionMode) string {
	switch m {
	case recipe.PermissionFullAccess:
		return "bypassPermissions"
	case recipe.PermissionRestricted:
		return "acceptEdits"
	default:
		return "default"
	}
}

func (c *ClaudeCLI) Start(ctx context.Context, cfg RunConfig, view *tools.View) (Handle, error) {
	h := &cliHandle{baseHandle: newBaseHandle(ctx, c.grace), stderr: &tailBuffer{max: stderrTailBytes}}
	_ = h.sm.transition(StateStarting)

	startFail := func(err error) (Handle, error) {
		_ = h.sm.transition(StateFailed)
		h.cancel()
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	path, err := exec.LookPath(c.path)
	if err != nil {
		return startFail(fmt.Errorf("claude CLI not found: %w", err))
	}
	if view == nil {
		view = tools.NewView()
	}

	server, err := mcp.ServeView(view, mcp.ServerOptions{
		Version:    c.version,
		Permission: cfg.Permission,
		Decorate: func(rctx context.Context) context.Context {
			rctx = tools.WithSessionID(rctx, cfg.SessionID)
			rctx = tools.WithWorkspace(rctx, cfg.Workspace)
			return tools.WithRecipeObserver(rctx, func(recipeID, task string, depth int) {
				h.emit(Activity{Kind: ActivityRecipeCall, RecipeID: recipeID, Task: task, Depth: depth})
			})
		},
	})
	if err != nil {
		return startFail(err)
	}
	mcpConfig, err := server.ClientConfig()
	if err != nil {
		_ = server.Close()
		return startFail(err)
	}

	cmd := exec.Command(path, cliArgs(cfg, view, string(mcpConfig))...)
	cmd.Dir = cfg.Workspace
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Stdin = strings.NewReader(cfg.Prompt)
	cmd.Stderr = h.stderr
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = server.Close()
		return startFail(err)
	}
	if err := cmd.Start(); err != nil {
		_ = server.Close()
		return startFail(fmt.Errorf("spawn claude CLI: %w", err))
	}

	h.terminate = func() error { return terminateGroup(cmd) }
	h.kill = func() error { return killGroup(cmd) }
	_ = h.sm.transition(StateRunning)
	slog.Info("runtime.cli_started", "session", cfg.SessionID, "pid", cmd.Process.Pid, "model", cfg.Model)

	go h.run(cmd, bufio.NewScanner(stdout), server)
	return h, nil
}

func cliArgs(cfg RunConfig, view *tools.View, mcpConfig string) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(cfg.MaxTurns),
		"--permission-mode", CLIPermissionMode(cfg.Permission),
		"--mcp-config", mcpConfig,
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", cfg.SystemPrompt)
	}
	if names := view.Names(); len(names) > 0 {
		allowed := make([]string, len(names))
		for i, n := range names {
			allowed[i] = cliToolPrefix + n
		}
		args = append(args, "--allowedTools", strings.Join(allowed, ","))
	}
	return args
}

type cliHandle struct {
	*baseHandle
	stderr *tailBuffer
}

func (h *cliHandle) run(cmd *exec.Cmd, scanner *bufio.Scanner, server *mcp.ToolServer) {
	defer h.closeRun()
	defer server.Close()

	scanner.Buffer(make([]byte, 64*1024), maxCLILineBytes)
	tr := newCLITranslator(cliToolPrefix)
	var terminal *Activity

	for scanner.Scan() {
		acts, err := tr.translate(scanner.Bytes())
		if err != nil {
			slog.Debug("runtime.cli_unparsed_line", "error", err)
			continue
		}
		for _, a := range acts {
			if a.IsTerminal() {
				terminal = &a
				continue
			}
			h.emit(a)
		}
	}

	waitErr := cmd.Wait()
	if h.runCtx.Err() != nil {
		return
	}

	switch {
	case terminal != nil && terminal.Kind == ActivityResult:
		h.finish(StateCompleted, *terminal)
	case terminal != nil:
		h.fail(terminal.Text, joinDiagnostic(terminal.Diagnostic, exitDiagnostic(waitErr, h.stderr.String())))
	default:
		h.fail("claude CLI exited without a result", exitDiagnostic(waitErr, h.stderr.String()))
	}
}

func exitDiagnostic(waitErr error, stderr string) string {
	var parts []string
	if waitErr != nil {
		parts = append(parts, waitErr.Error())
	} else {
		parts = append(parts, "exit status 0")
	}
	if s := strings.TrimSpace(stderr); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ": ")
}

func joinDiagnostic(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
