package runtime

import (
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/agentgate/internal/tools"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// cliLine is one line of the claude CLI stream-json output.
type cliLine struct {
	Type         string      `json:"type"`
	Subtype      string      `json:"subtype"`
	SessionID    string      `json:"session_id"`
	Model        string      `json:"model"`
	Message      *cliMessage `json:"message"`
	Result       string      `json:"result"`
	IsError      bool        `json:"is_error"`
	NumTurns     int         `json:"num_turns"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	DurationMS   int64       `json:"duration_ms"`
	Usage        *cliUsage   `json:"usage"`
}

type cliMessage struct {
	Content []cliBlock `json:"content"`
}

type cliBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text"`
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Input     map[string]interface{} `json:"input"`
	ToolUseID string                 `json:"tool_use_id"`
	Content   json.RawMessage        `json:"content"`
	IsError   bool                   `json:"is_error"`
}

type cliUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

// cliTranslator turns stream-json lines into activities. It remembers tool
// names by call id because tool results only carry the id.
type cliTranslator struct {
	toolPrefix string
	toolNames  map[string]string
}

func newCLITranslator(toolPrefix string) *cliTranslator {
	return &cliTranslator{toolPrefix: toolPrefix, toolNames: map[string]string{}}
}

func (t *cliTranslator) translate(raw []byte) ([]Activity, error) {
	var line cliLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, err
	}

	switch line.Type {
	case "system":
		if line.Subtype != "init" {
			return nil, nil
		}
		return []Activity{{Kind: ActivityDebug, Data: map[string]interface{}{
			"cli_session_id": line.SessionID,
			"model":          line.Model,
		}}}, nil

	case "assistant":
		if line.Message == nil {
			return nil, nil
		}
		var out []Activity
		for _, b := range line.Message.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					out = append(out, Activity{Kind: ActivityText, Text: b.Text})
				}
			case "tool_use":
				name := strings.TrimPrefix(b.Name, t.toolPrefix)
				t.toolNames[b.ID] = name
				out = append(out, Activity{Kind: ActivityToolUse, ToolID: b.ID, Tool: name, Input: b.Input})
			}
		}
		return out, nil

	case "user":
		if line.Message == nil {
			return nil, nil
		}
		var out []Activity
		for _, b := range line.Message.Content {
			if b.Type != "tool_result" {
				continue
			}
			res := &tools.Result{ForLLM: blockText(b.Content), IsError: b.IsError}
			out = append(out, Activity{
				Kind:    ActivityToolResult,
				ToolID:  b.ToolUseID,
				Tool:    t.toolNames[b.ToolUseID],
				Text:    res.StreamText(),
				IsError: b.IsError,
			})
		}
		return out, nil

	case "result":
		usage := protocol.Usage{CostUSD: line.TotalCostUSD, NumTurns: line.NumTurns}
		if line.Usage != nil {
			usage.InputTokens = line.Usage.InputTokens + line.Usage.CacheReadInputTokens + line.Usage.CacheCreationInputTokens
			usage.OutputTokens = line.Usage.OutputTokens
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens

		if line.IsError || (line.Subtype != "" && line.Subtype != "success") {
			msg := line.Result
			if msg == "" {
				msg = "claude CLI run ended with " + line.Subtype
			}
			return []Activity{
				{Kind: ActivityUsage, Usage: &usage},
				{Kind: ActivityError, Text: msg, Diagnostic: line.Subtype},
			}, nil
		}
		return []Activity{
			{Kind: ActivityUsage, Usage: &usage},
			{Kind: ActivityResult, Text: line.Result, Usage: &usage, NumTurns: line.NumTurns},
		}, nil
	}
	return nil, nil
}

// blockText flattens tool_result content, which is either a string or a
// list of content blocks.
func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []cliBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
