package providers

import (
	"context"
	"errors"
	"strings"
)

// DescribeError turns a backend error into a short user-facing diagnostic.
// Raw API payloads are never returned.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoBackend) {
		return "Model configuration error: " + err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Model request timed out. Please try again."
	}
	lower := strings.ToLower(err.Error())

	switch {
	case isContextOverflow(lower):
		return "Context overflow: the request is too large for this model."
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "429", "quota exceeded", "resource_exhausted"):
		return "Model API rate limit reached. Please try again later."
	case strings.Contains(lower, "overloaded"):
		return "The model service is temporarily overloaded. Please try again in a moment."
	case containsAny(lower, "billing", "insufficient credits", "credit balance", "payment required", "402"):
		return "Model API billing error: the API key may have run out of credits."
	case containsAny(lower, "invalid api key", "invalid_api_key", "unauthorized", "forbidden", "authentication", "401", "403", "access denied"):
		return "Model API authentication error. Check the API key configuration."
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return "Model request timed out. Please try again."
	case containsAny(lower, "not a valid model", "model not found", "model_not_found", "does not exist"):
		return "Model configuration error: the requested model is not available."
	}
	return "Model request failed."
}

func isContextOverflow(lower string) bool {
	return containsAny(lower,
		"request_too_large",
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"exceeds model context window",
	) || (strings.Contains(lower, "context") &&
		containsAny(lower, "overflow", "too large", "too long", "exceeded"))
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
