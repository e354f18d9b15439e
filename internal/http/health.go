package http

import (
	"context"
	"net/http"
	"time"
)

// readyCheckTimeout bounds every readiness check.
const readyCheckTimeout = 5 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.opts.Version,
	})
}

// handleReady runs every readiness check; any failure makes the gateway
// not ready (503).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	ready := true
	checks := make(map[string]string, len(s.opts.Readiness))
	for _, c := range s.opts.Readiness {
		if err := c.Check(ctx); err != nil {
			ready = false
			checks[c.Name] = err.Error()
			continue
		}
		checks[c.Name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "checks": checks})
}
