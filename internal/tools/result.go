package tools

import (
	"fmt"
	"unicode/utf8"
)

// MaxStreamResultChars bounds tool output copied into tool_result events.
const MaxStreamResultChars = 5000

// Result is the unified return type from tool execution.
// Failures are values: IsError marks them and Err keeps the cause for logs.
type Result struct {
	ForLLM  string `json:"for_llm"`
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func ErrorResultf(format string, args ...interface{}) *Result {
	return ErrorResult(fmt.Sprintf(format, args...))
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// StreamText renders the result for a tool_result event: errors are
// prefixed with "Error: " and long output is truncated.
func (r *Result) StreamText() string {
	text := r.ForLLM
	if r.IsError {
		text = "Error: " + text
	}
	return Truncate(text, MaxStreamResultChars)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
