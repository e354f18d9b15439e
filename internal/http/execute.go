package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentgate/internal/stream"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// HeaderConversationID carries the session's conversation id on execute responses.
const HeaderConversationID = "X-Conversation-ID"

// decodeRequest strictly decodes an Execution Request. Unknown fields and
// trailing data are rejected.
func decodeRequest(r io.Reader) (*protocol.ExecuteRequest, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var req protocol.ExecuteRequest
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid request body: unexpected data after JSON object")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	return &req, nil
}

func validationEvent(msg string) protocol.Event {
	return protocol.Event{Event: protocol.EventError, Data: map[string]interface{}{
		"message": msg,
		"layer":   protocol.LayerValidation,
	}}
}

// handleExecute serves POST /agent/execute.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		slog.Info("execute.rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, validationEvent(err.Error()))
		return
	}

	em := stream.NewEmitter(s.opts.EventBuffer, stream.WithDebug(req.Debug))
	go s.opts.Executor.Execute(r.Context(), req, em)

	w.Header().Set(HeaderConversationID, req.ConversationID)
	if !req.Streaming() {
		s.writeBuffered(w, em)
		return
	}

	w.Header().Set("Content-Type", stream.ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := stream.WriteNDJSON(w, em.Events()); err != nil {
		slog.Info("execute.consumer_gone", "conversation", req.ConversationID, "error", err)
		em.Detach()
		for range em.Events() {
		}
	}
}

// writeBuffered waits for the terminal event and returns it as one object.
func (s *Server) writeBuffered(w http.ResponseWriter, em *stream.Emitter) {
	_, terminal, ok := stream.Collect(em.Events())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, protocol.Event{Event: protocol.EventError, Data: map[string]interface{}{
			"message": "session ended without a result",
			"layer":   protocol.LayerTransport,
		}})
		return
	}
	writeJSON(w, statusFor(terminal), terminal)
}

// statusFor maps a terminal event to the buffered response status.
func statusFor(ev protocol.Event) int {
	if ev.Event == protocol.EventDone {
		return http.StatusOK
	}
	layer, _ := ev.Data["layer"].(string)
	switch layer {
	case protocol.LayerValidation:
		return http.StatusBadRequest
	case "", protocol.LayerResolver, protocol.LayerExecutor:
		return http.StatusUnprocessableEntity
	case protocol.LayerSession:
		return http.StatusServiceUnavailable
	case protocol.LayerRuntime:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// readLimited is used by the WebSocket handler for its first frame.
func readLimited(data []byte, limit int64) (*protocol.ExecuteRequest, error) {
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return decodeRequest(bytes.NewReader(data))
}
