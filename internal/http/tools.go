package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

// mcpListTimeout bounds connecting to default attachments for /tools.
const mcpListTimeout = 10 * time.Second

type toolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Source      string                 `json:"source"`
}

// handleTools serves GET /tools: registered tools plus the tools of the
// default capability attachments that are reachable right now.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	all := s.opts.Registry.All()
	out := make([]toolInfo, 0, len(all))
	for _, t := range all {
		out = append(out, describeTool(t, "builtin"))
	}

	var warnings []string
	if len(s.opts.MCP.Defaults()) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), mcpListTimeout)
		defer cancel()
		attached, errs := s.opts.MCP.Connect(ctx, nil)
		for _, err := range errs {
			warnings = append(warnings, err.Error())
		}
		for _, t := range attached.Tools() {
			source := "mcp"
			if bt, ok := t.(interface{ ServerName() string }); ok {
				source = "mcp:" + bt.ServerName()
			}
			out = append(out, describeTool(t, source))
		}
		if err := attached.Close(); err != nil {
			slog.Warn("mcp.close_failed", "error", err)
		}
	}

	body := map[string]interface{}{"tools": out, "count": len(out)}
	if len(warnings) > 0 {
		body["warnings"] = warnings
	}
	writeJSON(w, http.StatusOK, body)
}

func describeTool(t tools.Tool, source string) toolInfo {
	return toolInfo{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
		Source:      source,
	}
}
