package recipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxResolverResponse = 4 << 20

// HTTPResolver delegates resolution to a remote service: it POSTs the
// Request as JSON and expects a Result back. Network errors and 429/502/503/504
// responses are retried per Retry.
type HTTPResolver struct {
	URL    string
	Token  string
	Client *http.Client
	Retry  RetryPolicy
}

// NewHTTPResolver creates a remote resolver with the given timeout (30s if zero).
func NewHTTPResolver(url, token string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResolver{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: timeout},
		Retry:  DefaultRetryPolicy(),
	}
}

func (h *HTTPResolver) Resolve(ctx context.Context, req Request) *Result {
	body, err := json.Marshal(req)
	if err != nil {
		return Failure("encode resolver request: %v", err)
	}
	res, attempts := h.Retry.do(ctx, func() (*Result, bool) {
		return h.attempt(ctx, body)
	})
	if attempts > 1 {
		slog.Debug("recipe.http_retried", "agent_id", req.AgentID, "attempts", attempts, "success", res.Success)
	}
	return res
}

// attempt performs one round trip and reports whether a failure is transient.
func (h *HTTPResolver) attempt(ctx context.Context, body []byte) (*Result, bool) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return Failure("build resolver request: %v", err), false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if h.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return Failure("resolver unreachable: %v", err), ctx.Err() == nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResolverResponse))
	if err != nil {
		return Failure("read resolver response: %v", err), ctx.Err() == nil
	}

	var res Result
	decodeErr := json.Unmarshal(data, &res)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retry := retryableStatus(resp.StatusCode)
		if decodeErr == nil && res.Error != "" {
			return Failure("%s", res.Error), retry
		}
		if msg := errorDetail(data); msg != "" {
			return Failure("%s", msg), retry
		}
		return Failure("resolver returned HTTP %d", resp.StatusCode), retry
	}
	if decodeErr != nil {
		return Failure("decode resolver response: %v", decodeErr), false
	}
	if !res.Success {
		if res.Error == "" {
			res.Error = "resolution failed"
		}
		return &Result{Success: false, Error: res.Error}, false
	}
	return &res, false
}

// errorDetail pulls a message out of common error bodies ({"detail"} / {"message"}).
func errorDetail(data []byte) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return ""
	}
	return fmt.Sprintf("resolver error: %s", text)
}
