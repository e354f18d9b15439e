package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nextlevelbuilder/agentgate/internal/session"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.opts.Executor.Sessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions.List(),
		"active":   sessions.ActiveCount(),
	})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.opts.Executor.Sessions().Cancel(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "session not found: "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cancelled": []string{id}})
}

func (s *Server) handleCancelConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled := s.opts.Executor.Sessions().CancelConversation(id)
	if len(cancelled) == 0 {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "no active sessions for conversation: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cancelled": cancelled})
}
