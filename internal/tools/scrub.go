package tools

import "regexp"

// Credential patterns scrubbed from tool output before it reaches the model
// or the event stream.
var credentialPatterns = []*regexp.Regexp{
	// Anthropic, then OpenAI
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),
	regexp.MustCompile(`sk-(proj-)?[a-zA-Z0-9]{20,}`),
	// GitHub tokens
	regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{40,}`),
	// Google API keys
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
	// Slack
	regexp.MustCompile(`xox[abprs]-[0-9A-Za-z-]{10,}`),
	// AWS
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
	// PEM private keys
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
	// Connection strings with inline passwords
	regexp.MustCompile(`(?i)\b(postgres(ql)?|mysql|redis|mongodb(\+srv)?)://[^:\s/]+:[^@\s]+@`),
	// Generic key=value patterns
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer|authorization)\s*[:=]\s*["']?\S{8,}["']?`),
}

const redactedPlaceholder = "[REDACTED]"

// ScrubCredentials replaces known credential patterns in text with [REDACTED].
func ScrubCredentials(text string) string {
	if text == "" {
		return text
	}
	for _, pat := range credentialPatterns {
		text = pat.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
