package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/nextlevelbuilder/agentgate/internal/recipe"
)

const defaultCommandTimeout = 60 * time.Second

var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-z]*r[a-z]*f?\s+/(\s|$)`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
}

// CommandTool is a session-scoped tool defined by a recipe. Its command
// template uses {{.name}} placeholders; the rendered line is split with
// shell quoting rules and run directly, without a shell.
type CommandTool struct {
	def    recipe.CustomTool
	params map[string]interface{}
}

// NewCommandTool builds a tool from a recipe's custom tool definition.
func NewCommandTool(def recipe.CustomTool) *CommandTool {
	params := def.Parameters
	if params == nil {
		params = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	return &CommandTool{def: def, params: params}
}

func (t *CommandTool) Name() string                       { return t.def.Name }
func (t *CommandTool) Description() string                { return t.def.Description }
func (t *CommandTool) Parameters() map[string]interface{} { return t.params }

// Mutating is always true: the command's effects are unknown.
func (t *CommandTool) Mutating(map[string]interface{}) bool { return true }

func (t *CommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	line := renderCommand(t.def.Command, args)
	for _, pattern := range denyPatterns {
		if pattern.MatchString(line) {
			return ErrorResultf("command denied by safety policy: matches pattern %s", pattern.String())
		}
	}

	argv, err := shellwords.Parse(line)
	if err != nil {
		return ErrorResultf("parse command: %v", err)
	}
	if len(argv) == 0 {
		return ErrorResult("empty command")
	}

	timeout := time.Duration(t.def.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = WorkspaceFromCtx(ctx)
	if t.def.WorkingDir != "" {
		cmd.Dir = t.def.WorkingDir
	}
	if len(t.def.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range t.def.Env {
			cmd.Env = append(cmd.Env, k+"="+os.ExpandEnv(v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	out := stdout.String()
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrorResultf("command timed out after %s", timeout)
		}
		if out == "" {
			out = err.Error()
		}
		return ErrorResult(out).WithError(err)
	}
	if out == "" {
		out = "(command completed with no output)"
	}
	return NewResult(out)
}

var placeholderPattern = regexp.MustCompile(`\{\{\.([\w-]+)\}\}`)

// renderCommand substitutes {{.key}} placeholders with single-quoted values
// in one pass over the template. Substituted text is never rescanned, so a
// value that itself looks like a placeholder stays literal. Placeholders
// without an argument are left as written.
func renderCommand(tmpl string, args map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		val, ok := args[key]
		if !ok {
			return m
		}
		return shellEscape(fmt.Sprint(val))
	})
}

// shellEscape wraps a value in single quotes, escaping embedded single quotes.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
