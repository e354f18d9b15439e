package executor

import (
	"log/slog"
	"regexp"
	"strings"
)

// Guard actions, set by engine.injection_action:
//   - "log":   info-level logging
//   - "warn":  warning-level logging and a debug event (default)
//   - "block": reject the request before the runtime starts
//   - "off":   no scanning
const (
	GuardLog   = "log"
	GuardWarn  = "warn"
	GuardBlock = "block"
	GuardOff   = "off"
)

type guardPattern struct {
	name    string
	pattern *regexp.Regexp
}

// InputGuard scans prompts for known injection patterns.
type InputGuard struct {
	action   string
	patterns []guardPattern
}

// NewInputGuard creates a guard with the built-in patterns. Unknown actions
// fall back to warn.
func NewInputGuard(action string) *InputGuard {
	action = strings.ToLower(strings.TrimSpace(action))
	switch action {
	case GuardLog, GuardWarn, GuardBlock, GuardOff:
	default:
		action = GuardWarn
	}
	return &InputGuard{action: action, patterns: defaultGuardPatterns()}
}

// Action returns the configured action.
func (g *InputGuard) Action() string { return g.action }

// Scan returns the names of matched patterns.
func (g *InputGuard) Scan(message string) []string {
	if message == "" || g.action == GuardOff {
		return nil
	}
	var matches []string
	for _, gp := range g.patterns {
		if gp.pattern.MatchString(message) {
			matches = append(matches, gp.name)
		}
	}
	return matches
}

// Check scans message, logs according to the action and reports whether the
// request must be rejected.
func (g *InputGuard) Check(agentID, message string) (matches []string, blocked bool) {
	if g == nil {
		return nil, false
	}
	matches = g.Scan(message)
	if len(matches) == 0 {
		return nil, false
	}
	switch g.action {
	case GuardLog:
		slog.Info("security.injection_detected", "agent", agentID, "patterns", matches)
	case GuardBlock:
		slog.Warn("security.injection_blocked", "agent", agentID, "patterns", matches)
		return matches, true
	default:
		slog.Warn("security.injection_detected", "agent", agentID, "patterns", matches)
	}
	return matches, false
}

func defaultGuardPatterns() []guardPattern {
	return []guardPattern{
		{
			name:    "ignore_instructions",
			pattern: regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|rules?|prompts?|directives?|guidelines?)`),
		},
		{
			name:    "role_override",
			pattern: regexp.MustCompile(`(?i)(you are now|from now on you are|pretend you are|act as if you are|imagine you are)\s+`),
		},
		{
			name:    "system_tags",
			pattern: regexp.MustCompile(`(?i)</?system>|\[SYSTEM\]|\[INST\]|<<SYS>>|<\|im_start\|>system`),
		},
		{
			name:    "instruction_injection",
			pattern: regexp.MustCompile(`(?i)(new instructions?:|override:|system prompt:|<\|system\|>)`),
		},
		{
			name:    "null_bytes",
			pattern: regexp.MustCompile(`\x00`),
		},
		{
			name:    "delimiter_escape",
			pattern: regexp.MustCompile(`(?i)(end of system|begin user input|</?(instructions?|rules|prompt|context)>)`),
		},
	}
}
