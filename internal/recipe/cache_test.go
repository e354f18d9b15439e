package recipe

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	calls atomic.Int32
	fn    func(req Request) *Result
}

func (c *countingResolver) Resolve(_ context.Context, req Request) *Result {
	c.calls.Add(1)
	return c.fn(req)
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func TestCachingResolverCachesSuccessOnly(t *testing.T) {
	inner := &countingResolver{fn: func(req Request) *Result {
		if req.AgentID == "missing" {
			return Failure("not found")
		}
		return &Result{Success: true, SystemPrompt: "sys"}
	}}
	c := NewCachingResolver(inner, NewMemoryCache(16, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, c.Resolve(ctx, Request{AgentID: "writer", Variables: map[string]interface{}{"a": 1}}).Success)
	}
	assert.EqualValues(t, 1, inner.calls.Load())

	for i := 0; i < 2; i++ {
		assert.False(t, c.Resolve(ctx, Request{AgentID: "missing"}).Success)
	}
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestCachingResolverBackfillsFromRedis(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{}}
	inner := &countingResolver{fn: func(Request) *Result { return &Result{Success: true, Model: "m"} }}

	first := NewCachingResolver(inner, NewMemoryCache(4, time.Minute), NewRedisCache(rdb, "", time.Minute))
	require.True(t, first.Resolve(context.Background(), Request{AgentID: "w"}).Success)

	// A second replica with an empty memory tier is served by redis.
	second := NewCachingResolver(inner, NewMemoryCache(4, time.Minute), NewRedisCache(rdb, "", time.Minute))
	res := second.Resolve(context.Background(), Request{AgentID: "W "})
	require.True(t, res.Success)
	assert.Equal(t, "m", res.Model)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCacheKeyIsOrderIndependent(t *testing.T) {
	a, err := CacheKey(Request{AgentID: "x", Variables: map[string]interface{}{"a": 1, "b": 2}})
	require.NoError(t, err)
	b, err := CacheKey(Request{AgentID: "X", Variables: map[string]interface{}{"b": 2, "a": 1}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
