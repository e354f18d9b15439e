// Package mcp connects sessions to external MCP capability servers and
// serves a session's own tools over MCP for CLI runtimes.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

const (
	// DefaultToolPrefix is used when an attachment sets no tool_prefix.
	DefaultToolPrefix = "mcp_"

	protocolVersion  = "2024-11-05"
	connectTimeout   = 30 * time.Second
	maxParallelDials = 8
)

// Manager owns the gateway-level default attachments and opens per-session
// connection sets.
type Manager struct {
	defaults      []recipe.Attachment
	clientName    string
	clientVersion string
}

// NewManager creates a Manager with the given default attachments.
func NewManager(defaults []recipe.Attachment, version string) *Manager {
	return &Manager{defaults: defaults, clientName: "agentgate", clientVersion: version}
}

// Defaults returns the default attachments.
func (m *Manager) Defaults() []recipe.Attachment {
	if m == nil {
		return nil
	}
	return m.defaults
}

// Session is the set of live connections held by one session.
type Session struct {
	conns []*connection
	tools []tools.Tool
}

type connection struct {
	name      string
	client    *mcpclient.Client
	connected *atomic.Bool
}

// Tools returns the bridged tools of every connected server.
func (s *Session) Tools() []tools.Tool {
	if s == nil {
		return nil
	}
	return s.tools
}

// Servers returns the names of the connected servers.
func (s *Session) Servers() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.conns))
	for i, c := range s.conns {
		names[i] = c.name
	}
	return names
}

// Close closes every connection. Safe to call on a nil Session.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.conns {
		c.connected.Store(false)
		if err := c.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	s.conns = nil
	return errors.Join(errs...)
}

// Connect dials the default attachments merged with extra (extra wins on a
// name clash). Disabled entries are skipped. Failed servers are reported as
// warnings; the returned Session is always usable.
func (m *Manager) Connect(ctx context.Context, extra []recipe.Attachment) (*Session, []error) {
	atts := Merge(m.Defaults(), extra)
	sess := &Session{}
	if len(atts) == 0 {
		return sess, nil
	}

	var (
		mu       sync.Mutex
		warnings []error
		g        errgroup.Group
	)
	g.SetLimit(maxParallelDials)
	for _, att := range atts {
		g.Go(func() error {
			conn, bridged, err := m.dial(ctx, att)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("mcp.connect_failed", "server", att.Name, "transport", att.TransportKind(), "error", err)
				warnings = append(warnings, fmt.Errorf("mcp server %q: %w", att.Name, err))
				return nil
			}
			slog.Info("mcp.connected", "server", att.Name, "tools", len(bridged))
			sess.conns = append(sess.conns, conn)
			sess.tools = append(sess.tools, bridged...)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(sess.tools, func(i, j int) bool { return sess.tools[i].Name() < sess.tools[j].Name() })
	return sess, warnings
}

// Merge combines attachment lists by name, later lists overriding earlier
// ones, and drops disabled or unnamed entries.
func Merge(lists ...[]recipe.Attachment) []recipe.Attachment {
	index := map[string]int{}
	var out []recipe.Attachment
	for _, list := range lists {
		for _, a := range list {
			if a.Name == "" {
				continue
			}
			if i, ok := index[a.Name]; ok {
				out[i] = a
				continue
			}
			index[a.Name] = len(out)
			out = append(out, a)
		}
	}
	enabled := out[:0]
	for _, a := range out {
		if a.IsEnabled() {
			enabled = append(enabled, a)
		}
	}
	return enabled
}

func (m *Manager) dial(ctx context.Context, att recipe.Attachment) (*connection, []tools.Tool, error) {
	client, err := newClient(att)
	if err != nil {
		return nil, nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if att.TransportKind() != recipe.TransportStdio {
		if err := client.Start(dialCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("start: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: m.clientName, Version: m.clientVersion}
	if _, err := client.Initialize(dialCtx, initReq); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(dialCtx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}

	prefix := att.ToolPrefix
	if prefix == "" {
		prefix = DefaultToolPrefix
	}
	connected := &atomic.Bool{}
	connected.Store(true)

	bridged := make([]tools.Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		bridged = append(bridged, NewBridgeTool(att.Name, t, client, prefix, time.Duration(att.TimeoutSec)*time.Second, connected))
	}
	return &connection{name: att.Name, client: client, connected: connected}, bridged, nil
}

func newClient(att recipe.Attachment) (*mcpclient.Client, error) {
	switch att.TransportKind() {
	case recipe.TransportStdio:
		if att.Command == "" {
			return nil, errors.New("stdio transport requires a command")
		}
		env := os.Environ()
		for k, v := range att.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(att.Command, env, att.Args...)
	case recipe.TransportSSE:
		if att.URL == "" {
			return nil, errors.New("sse transport requires a url")
		}
		return mcpclient.NewSSEMCPClient(att.URL, mcpclient.WithHeaders(att.Headers))
	case recipe.TransportStreamableHTTP:
		if att.URL == "" {
			return nil, errors.New("streamable-http transport requires a url")
		}
		return mcpclient.NewStreamableHttpClient(att.URL, transport.WithHTTPHeaders(att.Headers))
	default:
		return nil, fmt.Errorf("unsupported transport %q", att.Transport)
	}
}

// fileConfig is the on-disk shape of the gateway MCP config.
type fileConfig struct {
	Servers []recipe.Attachment `json:"servers"`
}

// LoadConfigFile reads {"servers":[...]} and expands ${VAR} references in
// url, headers and env values.
func LoadConfigFile(path string) ([]recipe.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	for i := range fc.Servers {
		s := &fc.Servers[i]
		s.URL = os.ExpandEnv(s.URL)
		s.Headers = expandMap(s.Headers)
		s.Env = expandMap(s.Env)
	}
	return fc.Servers, nil
}

func expandMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
