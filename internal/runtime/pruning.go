package runtime

import (
	"fmt"
	"unicode/utf8"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
)

// Tool-result pruning defaults.
const (
	defaultContextWindow        = 200000
	defaultKeepLastAssistants   = 3
	defaultSoftTrimRatio        = 0.3
	defaultHardClearRatio       = 0.5
	defaultMinPrunableToolChars = 50000
	defaultSoftTrimMaxChars     = 4000
	defaultSoftTrimHeadChars    = 1500
	defaultSoftTrimTailChars    = 1500
	defaultHardClearPlaceholder = "[Old tool result content cleared]"
	charsPerTokenEstimate       = 4
)

// PruningConfig tunes how old tool results are shrunk as a native run's
// history grows. Zero values take the defaults.
type PruningConfig struct {
	Disabled             bool
	ContextWindowTokens  int
	KeepLastAssistants   int
	SoftTrimRatio        float64
	HardClearRatio       float64
	MinPrunableToolChars int
	SoftTrimMaxChars     int
	SoftTrimHeadChars    int
	SoftTrimTailChars    int
	DisableHardClear     bool
	HardClearPlaceholder string
}

func (c PruningConfig) withDefaults() PruningConfig {
	if c.ContextWindowTokens <= 0 {
		c.ContextWindowTokens = defaultContextWindow
	}
	if c.KeepLastAssistants <= 0 {
		c.KeepLastAssistants = defaultKeepLastAssistants
	}
	if c.SoftTrimRatio <= 0 || c.SoftTrimRatio > 1 {
		c.SoftTrimRatio = defaultSoftTrimRatio
	}
	if c.HardClearRatio <= 0 || c.HardClearRatio > 1 {
		c.HardClearRatio = defaultHardClearRatio
	}
	if c.MinPrunableToolChars <= 0 {
		c.MinPrunableToolChars = defaultMinPrunableToolChars
	}
	if c.SoftTrimMaxChars <= 0 {
		c.SoftTrimMaxChars = defaultSoftTrimMaxChars
	}
	if c.SoftTrimHeadChars <= 0 {
		c.SoftTrimHeadChars = defaultSoftTrimHeadChars
	}
	if c.SoftTrimTailChars <= 0 {
		c.SoftTrimTailChars = defaultSoftTrimTailChars
	}
	if c.HardClearPlaceholder == "" {
		c.HardClearPlaceholder = defaultHardClearPlaceholder
	}
	return c
}

// pruneToolResults trims old tool results to keep a long native run inside
// the model's context window.
//
// Two passes:
//  1. Soft trim: keep head + tail of long tool results, drop the middle.
//  2. Hard clear: replace whole tool results with a placeholder.
//
// Tool results at or after the last KeepLastAssistants assistant turns are
// never touched. Returns a new slice if anything changed, else msgs.
func pruneToolResults(msgs []providers.Message, cfg PruningConfig) []providers.Message {
	if cfg.Disabled || len(msgs) == 0 {
		return msgs
	}
	s := cfg.withDefaults()
	charWindow := s.ContextWindowTokens * charsPerTokenEstimate

	cutoffIndex := findAssistantCutoff(msgs, s.KeepLastAssistants)
	if cutoffIndex < 0 {
		return msgs
	}

	totalChars := 0
	for _, m := range msgs {
		totalChars += estimateMessageChars(m)
	}
	ratio := float64(totalChars) / float64(charWindow)
	if ratio < s.SoftTrimRatio {
		return msgs
	}

	var prunable []int
	for i := 0; i < cutoffIndex; i++ {
		if msgs[i].Role == providers.RoleTool && msgs[i].Content != "" {
			prunable = append(prunable, i)
		}
	}
	if len(prunable) == 0 {
		return msgs
	}

	var result []providers.Message
	for _, idx := range prunable {
		msg := msgs[idx]
		msgChars := estimateMessageChars(msg)
		if msgChars <= s.SoftTrimMaxChars {
			continue
		}
		if result == nil {
			result = make([]providers.Message, len(msgs))
			copy(result, msgs)
		}

		trimmed := fmt.Sprintf("%s\n...\n%s\n\n[Tool result trimmed: kept first %d chars and last %d chars of %d chars.]",
			takeHead(msg.Content, s.SoftTrimHeadChars), takeTail(msg.Content, s.SoftTrimTailChars),
			s.SoftTrimHeadChars, s.SoftTrimTailChars, msgChars)
		msg.Content = trimmed
		result[idx] = msg
		totalChars += utf8.RuneCountInString(trimmed) - msgChars
	}

	output := msgs
	if result != nil {
		output = result
	}

	ratio = float64(totalChars) / float64(charWindow)
	if ratio < s.HardClearRatio || s.DisableHardClear {
		return output
	}

	prunableChars := 0
	for _, idx := range prunable {
		prunableChars += estimateMessageChars(output[idx])
	}
	if prunableChars < s.MinPrunableToolChars {
		return output
	}

	if result == nil {
		result = make([]providers.Message, len(msgs))
		copy(result, msgs)
		output = result
	}
	for _, idx := range prunable {
		if ratio < s.HardClearRatio {
			break
		}
		msg := output[idx]
		before := estimateMessageChars(msg)
		msg.Content = s.HardClearPlaceholder
		output[idx] = msg
		totalChars += utf8.RuneCountInString(s.HardClearPlaceholder) - before
		ratio = float64(totalChars) / float64(charWindow)
	}
	return output
}

// findAssistantCutoff returns the index of the Nth-from-last assistant
// message, or -1 if there are fewer than N.
func findAssistantCutoff(msgs []providers.Message, keepLast int) int {
	if keepLast <= 0 {
		return len(msgs)
	}
	remaining := keepLast
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == providers.RoleAssistant {
			remaining--
			if remaining == 0 {
				return i
			}
		}
	}
	return -1
}

func estimateMessageChars(m providers.Message) int {
	return utf8.RuneCountInString(m.Content)
}

func takeHead(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func takeTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
