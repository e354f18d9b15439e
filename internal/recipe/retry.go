package recipe

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryPolicy controls exponential backoff for transient resolver failures.
type RetryPolicy struct {
	MaxRetries int           // 0 = no retry
	BaseDelay  time.Duration // first backoff
	MaxDelay   time.Duration // backoff ceiling
}

// DefaultRetryPolicy retries twice, starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// do runs fn until it reports a non-retryable outcome, the retries run out or
// ctx ends. It returns the last result and the number of attempts made.
func (p RetryPolicy) do(ctx context.Context, fn func() (*Result, bool)) (*Result, int) {
	var res *Result
	for attempt := 0; ; attempt++ {
		var retry bool
		res, retry = fn()
		if !retry || attempt >= p.MaxRetries {
			return res, attempt + 1
		}
		t := time.NewTimer(backoffWithJitter(p.BaseDelay, p.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return res, attempt + 1
		case <-t.C:
		}
	}
}

// backoffWithJitter computes min(base * 2^attempt, max) with ±25% jitter.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}

// retryableStatus reports gateway-style statuses worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
