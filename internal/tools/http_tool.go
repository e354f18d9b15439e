package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	APIToolName = "call_api"

	apiDefaultTimeout = 30
	apiMaxTimeout     = 120
	apiMaxBodyChars   = 10000
	apiMaxRedirects   = 5
)

type apiArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=The URL to call"`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method,enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE,default=GET"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=Request headers"`
	Body    interface{}       `json:"body,omitempty" jsonschema:"description=Request body (sent as JSON unless a string)"`
	Timeout int               `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds,default=30"`
}

// APITool makes HTTP requests to external services.
type APITool struct {
	allowPrivate bool
	params       map[string]interface{}
}

// NewAPITool creates the call_api tool. allowPrivate disables the SSRF guard.
func NewAPITool(allowPrivate bool) *APITool {
	return &APITool{allowPrivate: allowPrivate, params: SchemaFor[apiArgs]()}
}

func (t *APITool) Name() string { return APIToolName }

func (t *APITool) Description() string {
	return "Make an HTTP request to an external API and return the status, headers and body."
}

func (t *APITool) Parameters() map[string]interface{} { return t.params }

// Mutating treats every method except GET, HEAD and OPTIONS as a write.
func (t *APITool) Mutating(args map[string]interface{}) bool {
	m, _ := args["method"].(string)
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (t *APITool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	var a apiArgs
	if err := decodeArgs(args, &a); err != nil {
		return ErrorResult(err.Error())
	}
	if a.URL == "" {
		return ErrorResult("url is required")
	}
	method := strings.ToUpper(a.Method)
	if method == "" {
		method = http.MethodGet
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = apiDefaultTimeout
	}
	if timeout > apiMaxTimeout {
		timeout = apiMaxTimeout
	}

	if !t.allowPrivate {
		if err := checkSSRF(a.URL); err != nil {
			return ErrorResultf("request blocked: %v", err)
		}
	}

	var body io.Reader
	contentType := ""
	if a.Body != nil && method != http.MethodGet && method != http.MethodHead {
		switch b := a.Body.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return ErrorResultf("encode body: %v", err)
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.URL, body)
	if err != nil {
		return ErrorResultf("HTTP request failed: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	slog.Info("call_api", "url", a.URL, "method", method)

	resp, err := t.client().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorResultf("request to %s timed out after %ds", a.URL, timeout)
		}
		return ErrorResultf("HTTP request failed: %v", err).WithError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, apiMaxBodyChars*4))
	if err != nil {
		return ErrorResultf("read body: %v", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	out, _ := json.MarshalIndent(map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        Truncate(string(raw), apiMaxBodyChars),
	}, "", "  ")
	return NewResult(string(out))
}

func (t *APITool) client() *http.Client {
	redirects := 0
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > apiMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", apiMaxRedirects)
			}
			if !t.allowPrivate {
				if err := checkSSRF(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
			}
			return nil
		},
	}
}
