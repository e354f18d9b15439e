package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTool is a minimal tool for testing the registry.
type mockTool struct {
	name     string
	params   map[string]interface{}
	mutating bool
	remote   bool
	execFn   func(ctx context.Context, args map[string]interface{}) *Result
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock tool" }
func (m *mockTool) Parameters() map[string]interface{} {
	if m.params != nil {
		return m.params
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (m *mockTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if m.execFn != nil {
		return m.execFn(ctx, args)
	}
	return NewResult("ok")
}
func (m *mockTool) Mutating(map[string]interface{}) bool { return m.mutating }
func (m *mockTool) Remote() bool                         { return m.remote }

func names(ts []Tool) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name()
	}
	return out
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{name: "test_tool"})

	got, ok := reg.Get("test_tool")
	require.True(t, ok)
	assert.Equal(t, "test_tool", got.Name())

	_, ok = reg.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{name: "t", execFn: func(context.Context, map[string]interface{}) *Result { return NewResult("first") }})
	reg.Register(&mockTool{name: "t", execFn: func(context.Context, map[string]interface{}) *Result { return NewResult("second") }})

	assert.Equal(t, 1, reg.Count())
	res := reg.View([]string{"t"}).Execute(context.Background(), "t", nil)
	assert.Equal(t, "second", res.ForLLM)
}

func TestRegistry_UnregisterAndCount(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{name: "t1"})
	reg.Register(&mockTool{name: "t2"})
	assert.Equal(t, 2, reg.Count())

	reg.Unregister("t1")
	_, ok := reg.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, []string{"t2"}, reg.Names())
}

func TestRegistry_AllSorted(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		reg.Register(&mockTool{name: n})
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names(reg.All()))
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"a", "b", "c"} {
		reg.Register(&mockTool{name: n})
	}
	reg.RegisterGroup("pair", []string{"b", "a", "ghost"})

	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"request order", []string{"c", "a"}, []string{"c", "a"}},
		{"unknown skipped", []string{"nope", "b"}, []string{"b"}},
		{"duplicates removed", []string{"a", "a", " a "}, []string{"a"}},
		{"group expanded in place", []string{"c", "group:pair"}, []string{"c", "b", "a"}},
		{"unknown group", []string{"group:missing"}, []string{}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(reg.Resolve(tt.input)))
		})
	}

	reg.UnregisterGroup("pair")
	assert.Empty(t, reg.Resolve([]string{"group:pair"}))
}

func TestRegistry_ResolveIsIntersection(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	pool := []string{"a", "b", "c", "d", "e", "f"}
	reg := NewRegistry()
	for _, n := range pool[:3] {
		reg.Register(&mockTool{name: n})
	}

	properties.Property("resolved tools are registered, requested, unique and ordered", prop.ForAll(
		func(idx []int) bool {
			req := make([]string, len(idx))
			for i, j := range idx {
				req[i] = pool[j]
			}
			got := names(reg.Resolve(req))

			seen := map[string]bool{}
			last := -1
			for _, n := range got {
				if _, ok := reg.Get(n); !ok || seen[n] {
					return false
				}
				seen[n] = true
				pos := indexOf(req, n)
				if pos < 0 || pos < last {
					return false
				}
				last = pos
			}
			for _, n := range req {
				if _, ok := reg.Get(n); ok && !seen[n] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(pool)-1)),
	))

	properties.TestingRun(t)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestView_ExecuteUnknownTool(t *testing.T) {
	v := NewRegistry().View([]string{"missing"})
	res := v.Execute(context.Background(), "missing", nil)
	require.True(t, res.IsError)
	assert.Equal(t, "Error: unknown tool: missing", res.StreamText())
}

func TestView_ScrubsCredentials(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{
		name: "leaky",
		execFn: func(context.Context, map[string]interface{}) *Result {
			return NewResult("key is sk-abcdefghijklmnopqrstuvwxyz1234567890")
		},
	})

	res := reg.View([]string{"leaky"}).Execute(context.Background(), "leaky", nil)
	assert.Equal(t, "key is [REDACTED]", res.ForLLM)

	reg.SetScrubbing(false)
	res = reg.View([]string{"leaky"}).Execute(context.Background(), "leaky", nil)
	assert.Contains(t, res.ForLLM, "sk-abc")
}

func TestView_RateLimitPerSession(t *testing.T) {
	reg := NewRegistry()
	reg.SetRateLimiter(NewToolRateLimiter(2, time.Minute))
	reg.Register(&mockTool{name: "rl"})
	v := reg.View([]string{"rl"})

	s1 := WithSessionID(context.Background(), "session-1")
	for i := 0; i < 2; i++ {
		res := v.Execute(s1, "rl", nil)
		require.False(t, res.IsError, "call %d: %s", i, res.ForLLM)
	}
	res := v.Execute(s1, "rl", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "rate limit")

	res = v.Execute(WithSessionID(context.Background(), "session-2"), "rl", nil)
	assert.False(t, res.IsError)

	for i := 0; i < 5; i++ {
		res := v.Execute(context.Background(), "rl", nil)
		assert.False(t, res.IsError, "calls without a session id are not limited")
	}
}

func TestView_ValidatesArguments(t *testing.T) {
	called := false
	tool := &mockTool{
		name: "strict",
		params: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"count": map[string]interface{}{"type": "integer"},
			},
			"required": []interface{}{"count"},
		},
		execFn: func(context.Context, map[string]interface{}) *Result {
			called = true
			return NewResult("ran")
		},
	}
	v := NewView(tool)

	res := v.Execute(context.Background(), "strict", map[string]interface{}{})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "invalid arguments for strict")
	assert.False(t, called)

	res = v.Execute(context.Background(), "strict", map[string]interface{}{"count": "three"})
	assert.True(t, res.IsError)

	res = v.Execute(context.Background(), "strict", map[string]interface{}{"count": 3})
	assert.False(t, res.IsError)
	assert.True(t, called)
}

func TestView_WithDoesNotMutateOriginal(t *testing.T) {
	base := NewView(&mockTool{name: "a"}, &mockTool{name: "b"})
	extended := base.With(&mockTool{name: "c"}, &mockTool{name: "a"})

	assert.Equal(t, []string{"a", "b"}, base.Names())
	assert.Equal(t, []string{"a", "b", "c"}, extended.Names())
	assert.Equal(t, 3, extended.Len())
	assert.Len(t, extended.Definitions(), 3)

	_, ok := base.Get("c")
	assert.False(t, ok)
}

func TestView_NilResultBecomesEmpty(t *testing.T) {
	v := NewView(&mockTool{name: "nil", execFn: func(context.Context, map[string]interface{}) *Result { return nil }})
	res := v.Execute(context.Background(), "nil", nil)
	require.NotNil(t, res)
	assert.False(t, res.IsError)
}

func TestResult_StreamText(t *testing.T) {
	assert.Equal(t, "fine", NewResult("fine").StreamText())
	assert.Equal(t, "Error: boom", ErrorResult("boom").StreamText())

	long := strings.Repeat("é", MaxStreamResultChars+10)
	assert.Equal(t, MaxStreamResultChars, len([]rune(NewResult(long).StreamText())))

	err := fmt.Errorf("cause")
	assert.Equal(t, err, ErrorResultf("failed: %d", 1).WithError(err).Err)
}
