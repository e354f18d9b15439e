package mcp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

// ServerName is the MCP server name a CLI runtime sees for gateway tools.
const ServerName = "agentgate"

// ToolServer exposes a session's tool view over streamable HTTP on a
// loopback listener. Every request must carry the server's bearer token.
type ToolServer struct {
	url      string
	token    string
	httpSrv  *http.Server
	listener net.Listener
	done     chan struct{}
}

// ServerOptions configures a ToolServer.
type ServerOptions struct {
	Version    string
	Permission recipe.PermissionMode
	// Decorate carries session values (id, recipe depth, observer) into
	// each tool call context.
	Decorate func(context.Context) context.Context
}

// ServeView starts serving view on 127.0.0.1 with an ephemeral port.
func ServeView(view *tools.View, opts ServerOptions) (*ToolServer, error) {
	mcpSrv := server.NewMCPServer(ServerName, opts.Version, server.WithToolCapabilities(false))
	for _, t := range view.Tools() {
		params := t.Parameters()
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		schema, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name(), err)
		}
		mcpSrv.AddTool(mcpgo.NewToolWithRawSchema(t.Name(), t.Description(), schema), viewHandler(view, t, opts.Permission))
	}

	var httpOpts []server.StreamableHTTPOption
	if opts.Decorate != nil {
		decorate := opts.Decorate
		httpOpts = append(httpOpts, server.WithHTTPContextFunc(func(ctx context.Context, _ *http.Request) context.Context {
			return decorate(ctx)
		}))
	}
	streamable := server.NewStreamableHTTPServer(mcpSrv, httpOpts...)

	token, err := newServerToken()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen loopback: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/mcp", requireToken(token, streamable))

	ts := &ToolServer{
		url:      "http://" + ln.Addr().String() + "/mcp",
		token:    token,
		httpSrv:  &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		listener: ln,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(ts.done)
		if err := ts.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("mcp.tool_server_error", "error", err)
		}
	}()
	slog.Debug("mcp.tool_server_started", "url", ts.url, "tools", view.Len())
	return ts, nil
}

func newServerToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate tool server token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func requireToken(token string, next http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			slog.Warn("mcp.tool_server_unauthorized", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func viewHandler(view *tools.View, t tools.Tool, mode recipe.PermissionMode) server.ToolHandlerFunc {
	name := t.Name()
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args := req.GetArguments()
		if err := tools.CheckPermission(mode, t, args); err != nil {
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		res := view.Execute(ctx, name, args)
		if res.IsError {
			return mcpgo.NewToolResultError(res.ForLLM), nil
		}
		return mcpgo.NewToolResultText(res.ForLLM), nil
	}
}

// URL returns the streamable HTTP endpoint.
func (s *ToolServer) URL() string { return s.url }

// AuthHeaders returns the headers a client must send on every request.
func (s *ToolServer) AuthHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

// ClientConfig returns an mcpServers document pointing at this server, in the
// shape CLI runtimes accept for --mcp-config. It embeds the bearer token.
func (s *ToolServer) ClientConfig() ([]byte, error) {
	return json.Marshal(map[string]any{
		"mcpServers": map[string]any{
			ServerName: map[string]any{"type": "http", "url": s.url, "headers": s.AuthHeaders()},
		},
	})
}

// Close stops the listener and waits for the serve loop to exit.
func (s *ToolServer) Close() error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)
	<-s.done
	return err
}
