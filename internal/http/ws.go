package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentgate/internal/stream"
)

// wsFirstMessageWait bounds how long a client may take to send its request.
const wsFirstMessageWait = 30 * time.Second

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin allows every origin when none are configured, and requests
// without an Origin header (non-browser clients).
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}
	if u, err := url.Parse(origin); err == nil && slices.Contains(s.opts.AllowedOrigins, u.Host) {
		return true
	}
	slog.Warn("security.ws_origin_rejected", "origin", origin)
	return false
}

// handleWebSocket serves GET /agent/ws. The first client frame is the
// Execution Request; each event is sent as one text frame. Closing the
// socket cancels the session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Info("ws.upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.opts.MaxBodyBytes + 1)
	conn.SetReadDeadline(time.Now().Add(wsFirstMessageWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		slog.Info("ws.read_request_failed", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	req, err := readLimited(data, s.opts.MaxBodyBytes)
	if err != nil {
		frame, _ := json.Marshal(validationEvent(err.Error()))
		conn.SetWriteDeadline(time.Now().Add(wsFirstMessageWait))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Any further read outcome (close frame, error) means the client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	em := stream.NewEmitter(s.opts.EventBuffer, stream.WithDebug(req.Debug))
	go s.opts.Executor.Execute(ctx, req, em)

	if err := stream.WriteWebSocket(conn, em.Events()); err != nil {
		slog.Info("ws.consumer_gone", "conversation", req.ConversationID, "error", err)
		cancel()
		em.Detach()
		for range em.Events() {
		}
	}
}
