package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

const defaultCallTimeout = 60 * time.Second

// toolCaller is the part of an MCP client a bridged tool needs.
type toolCaller interface {
	CallTool(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
}

// BridgeTool adapts a remote MCP tool into the tools.Tool interface.
type BridgeTool struct {
	serverName     string
	toolName       string // name on the remote server
	registeredName string // "<prefix><server>__<tool>"
	description    string
	inputSchema    map[string]interface{}
	client         toolCaller
	timeout        time.Duration
	connected      *atomic.Bool
}

// NewBridgeTool creates a BridgeTool from an MCP tool definition.
func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, client toolCaller, prefix string, timeout time.Duration, connected *atomic.Bool) *BridgeTool {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &BridgeTool{
		serverName:     serverName,
		toolName:       mcpTool.Name,
		registeredName: BridgedName(prefix, serverName, mcpTool.Name),
		description:    mcpTool.Description,
		inputSchema:    inputSchemaToMap(mcpTool),
		client:         client,
		timeout:        timeout,
		connected:      connected,
	}
}

// BridgedName builds the session-visible name of a remote tool.
func BridgedName(prefix, server, tool string) string {
	return prefix + sanitizeName(server) + "__" + sanitizeName(tool)
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (t *BridgeTool) Name() string                       { return t.registeredName }
func (t *BridgeTool) Description() string                { return t.description }
func (t *BridgeTool) Parameters() map[string]interface{} { return t.inputSchema }

// Remote marks the tool as served by an external capability server.
func (t *BridgeTool) Remote() bool { return true }

// ServerName returns the name of the MCP server this tool belongs to.
func (t *BridgeTool) ServerName() string { return t.serverName }

// OriginalName returns the tool name on the remote server.
func (t *BridgeTool) OriginalName() string { return t.toolName }

func (t *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if t.connected != nil && !t.connected.Load() {
		return tools.ErrorResultf("MCP server %q is disconnected", t.serverName)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.toolName
	req.Params.Arguments = args

	result, err := t.client.CallTool(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return tools.ErrorResultf("MCP tool %q timeout after %s", t.registeredName, t.timeout)
		}
		return tools.ErrorResultf("MCP tool %q error: %v", t.registeredName, err).WithError(err)
	}

	text := extractTextContent(result)
	if result.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

// inputSchemaToMap converts a tool's input schema to a parameters map.
// Raw schemas are preferred when the server sent one.
func inputSchemaToMap(tool mcpgo.Tool) map[string]interface{} {
	if len(tool.RawInputSchema) > 0 {
		var m map[string]interface{}
		if err := json.Unmarshal(tool.RawInputSchema, &m); err == nil && m != nil {
			return m
		}
	}
	schema := tool.InputSchema
	m := map[string]interface{}{"type": schema.Type}
	if schema.Type == "" {
		m["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	} else {
		m["properties"] = map[string]interface{}{}
	}
	if len(schema.Required) > 0 {
		req := make([]interface{}, len(schema.Required))
		for i, r := range schema.Required {
			req[i] = r
		}
		m["required"] = req
	}
	if schema.AdditionalProperties != nil {
		m["additionalProperties"] = schema.AdditionalProperties
	}
	return m
}

// extractTextContent concatenates all text content from a CallToolResult.
func extractTextContent(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}
