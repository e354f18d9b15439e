//go:build unix

package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

// fakeCLI writes an executable shell script standing in for the claude CLI.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestClaudeCLISuccess(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := fakeCLI(t, `echo "$@" > `+argsFile+`
cat > /dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}'
echo '{"type":"result","subtype":"success","result":"hi","num_turns":1,"usage":{"input_tokens":3,"output_tokens":1}}'`)

	cfg := baseConfig()
	cfg.Model = "claude-sonnet-4-5"
	cfg.SystemPrompt = "be brief"
	cfg.Permission = recipe.PermissionRestricted
	view := tools.NewView(fnTool{name: "lookup", fn: func(context.Context, map[string]interface{}) *tools.Result {
		return tools.NewResult("")
	}})

	h, err := NewClaudeCLI(WithCLIPath(script)).Start(context.Background(), cfg, view)
	require.NoError(t, err)
	acts := drain(t, h)

	assert.Equal(t, []ActivityKind{ActivityText, ActivityUsage, ActivityResult}, kinds(acts))
	assert.Equal(t, "hi", acts[2].Text)
	assert.Equal(t, StateCompleted, h.State())

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(raw)
	assert.Contains(t, args, "--output-format stream-json")
	assert.Contains(t, args, "--model claude-sonnet-4-5")
	assert.Contains(t, args, "--permission-mode acceptEdits")
	assert.Contains(t, args, "--allowedTools mcp__agentgate__lookup")
	assert.Contains(t, args, "--max-turns 5")
}

func TestClaudeCLICrash(t *testing.T) {
	script := fakeCLI(t, `echo "segfault in engine" >&2
exit 3`)

	h, err := NewClaudeCLI(WithCLIPath(script)).Start(context.Background(), baseConfig(), nil)
	require.NoError(t, err)
	acts := drain(t, h)

	require.Len(t, acts, 1)
	assert.Equal(t, ActivityError, acts[0].Kind)
	assert.Equal(t, StateRunning, acts[0].State)
	assert.Contains(t, acts[0].Diagnostic, "exit status 3")
	assert.Contains(t, acts[0].Diagnostic, "segfault in engine")
	assert.Equal(t, StateFailed, h.State())
}

func TestClaudeCLIStopKillsProcessGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := fakeCLI(t, `trap '' TERM
sleep 30 &
echo $! > `+pidFile+`
wait`)

	h, err := NewClaudeCLI(WithCLIPath(script), WithCLIStopGrace(300*time.Millisecond)).
		Start(context.Background(), baseConfig(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(pidFile)
		return err == nil && strings.TrimSpace(string(b)) != ""
	}, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	_ = h.Stop()
	drain(t, h)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateCancelled, h.State())
}

func TestClaudeCLIMissingBinary(t *testing.T) {
	h, err := NewClaudeCLI(WithCLIPath(filepath.Join(t.TempDir(), "nope"))).Start(context.Background(), baseConfig(), nil)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrStartFailed)
}

func TestCLIPermissionMode(t *testing.T) {
	assert.Equal(t, "bypassPermissions", CLIPermissionMode(recipe.PermissionFullAccess))
	assert.Equal(t, "acceptEdits", CLIPermissionMode(recipe.PermissionRestricted))
	assert.Equal(t, "default", CLIPermissionMode(recipe.PermissionConfirmEach))
}
