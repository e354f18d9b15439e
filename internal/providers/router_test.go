package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name string
	mu   sync.Mutex
	got  []CompletionRequest
	err  error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{Text: f.name + ":" + req.Model, Usage: Usage{InputTokens: 1, OutputTokens: 1}}, nil
}

func newTestRouter() (*Router, map[string]*fakeProvider) {
	r := NewRouter("")
	fakes := map[string]*fakeProvider{}
	for _, n := range []string{anthropicName, openaiName, geminiName} {
		f := &fakeProvider{name: n}
		fakes[n] = f
		r.Register(f)
	}
	return r, fakes
}

func TestRouter_RoutesByPrefix(t *testing.T) {
	r, _ := newTestRouter()

	tests := []struct {
		model    string
		provider string
		sent     string
	}{
		{"", anthropicName, DefaultModel},
		{"claude-haiku-4-5", anthropicName, "claude-haiku-4-5"},
		{"anthropic/claude-opus-4-1", anthropicName, "claude-opus-4-1"},
		{"gpt-4o-mini", openaiName, "gpt-4o-mini"},
		{"o3-mini", openaiName, "o3-mini"},
		{"openai/gpt-4.1", openaiName, "gpt-4.1"},
		{"gemini-2.0-flash", geminiName, "gemini-2.0-flash"},
		{"Gemini/gemini-2.5-pro", geminiName, "gemini-2.5-pro"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			comp, err := r.Complete(context.Background(), PromptRequest(tt.model, "", "hi", nil, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.provider+":"+tt.sent, comp.Text)
		})
	}
}

func TestRouter_UnknownModel(t *testing.T) {
	r, _ := newTestRouter()

	_, err := r.Complete(context.Background(), PromptRequest("llama-3-70b", "", "hi", nil, nil))
	assert.ErrorIs(t, err, ErrNoBackend)

	_, err = r.Complete(context.Background(), PromptRequest("mistral/large", "", "hi", nil, nil))
	assert.ErrorIs(t, err, ErrNoBackend)

	empty := NewRouter("")
	_, err = empty.Complete(context.Background(), PromptRequest("gpt-4o", "", "hi", nil, nil))
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.Contains(t, err.Error(), "openai backend not configured")
}

func TestRouter_ProxyTakesEverything(t *testing.T) {
	r, fakes := newTestRouter()
	proxy := &fakeProvider{name: "litellm"}
	r.SetProxy(proxy)

	comp, err := r.Complete(context.Background(), PromptRequest("llama-3-70b", "", "hi", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "litellm:llama-3-70b", comp.Text)

	_, err = r.Complete(context.Background(), PromptRequest("anthropic/claude-x", "", "hi", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-x", proxy.got[1].Model, "proxy receives the model id unchanged")
	assert.Empty(t, fakes[anthropicName].got)
	assert.Contains(t, r.Backends(), "proxy")
}

func TestRouter_DefaultModelAndObserver(t *testing.T) {
	r, fakes := newTestRouter()
	r.SetDefaultModel("gpt-4o")
	r.SetDefaultModel("")
	assert.Equal(t, "gpt-4o", r.DefaultModel())

	var calls []string
	r.SetObserver(func(provider, model string, elapsed time.Duration, err error) {
		calls = append(calls, provider+"/"+model)
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	})

	_, err := r.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Len(t, fakes[openaiName].got, 1)

	fakes[openaiName].err = errors.New("boom")
	_, err = r.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.Error(t, err)
	assert.Equal(t, []string{"openai/gpt-4o", "openai/gpt-4o"}, calls)
}

func TestRouter_Backends(t *testing.T) {
	r, _ := newTestRouter()
	assert.Equal(t, []string{anthropicName, geminiName, openaiName}, r.Backends())
}

func TestDescribeError(t *testing.T) {
	tests := map[string]string{
		"429 Too Many Requests":                       "rate limit",
		"anthropic: overloaded_error":                 "overloaded",
		"401 invalid x-api-key authentication_error":  "authentication",
		"prompt is too long: 210000 tokens":           "Context overflow",
		"Your credit balance is too low":              "billing",
		"model_not_found: gpt-9":                      "not available",
		"something odd":                               "Model request failed.",
	}
	for raw, want := range tests {
		assert.Contains(t, DescribeError(errors.New(raw)), want, raw)
	}
	assert.Empty(t, DescribeError(nil))
	assert.Contains(t, DescribeError(context.DeadlineExceeded), "timed out")
}
