// Package http is the gateway's HTTP surface: the execute endpoint in
// NDJSON, buffered and WebSocket form, session control, tool listing and
// operational endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nextlevelbuilder/agentgate/internal/mcp"
	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/internal/stream"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// DefaultMaxBodyBytes caps execute request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Executor runs one Execution Request into an emitter.
type Executor interface {
	Execute(ctx context.Context, req *protocol.ExecuteRequest, em *stream.Emitter)
	Sessions() *session.Manager
}

// ReadinessCheck is one named /ready check. A nil error means ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options wires a Server.
type Options struct {
	Executor       Executor
	Registry       *tools.Registry
	MCP            *mcp.Manager // optional; default attachments listed by /tools
	Token          string
	RateLimiter    *RateLimiter // optional
	MaxBodyBytes   int64
	AllowedOrigins []string
	Metrics        http.Handler // optional; mounted at /metrics
	Readiness      []ReadinessCheck
	Version        string
	EventBuffer    int
}

// Server routes gateway requests.
type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 32
	}
	return &Server{opts: opts}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: real ip -> recover -> logging -> rate limit -> auth
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if s.opts.RateLimiter != nil {
		r.Use(s.opts.RateLimiter.Middleware)
	}
	r.Use(requireToken(s.opts.Token))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	r.Get("/tools", s.handleTools)

	r.Route("/agent", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Get("/ws", s.handleWebSocket)
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/{id}/cancel", s.handleCancelSession)
		r.Post("/conversations/{id}/cancel", s.handleCancelConversation)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within the grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway.listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	slog.Info("gateway.shutting_down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http.request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{"error": protocol.NewError(code, message)})
}
