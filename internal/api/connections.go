package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/oauthflow"
)

// handleOAuthStart redirects the browser to the provider's consent page
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	p, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.respondErr(w, err)
		return
	}

	authURL, err := s.flow.StartFlow(r.Context(), p)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleOAuthCallback completes the flow and sends the browser back to the
// app with the authorization parameters stripped. The outcome reaches the
// user as a notice.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !oauthflow.HasCallback(q) {
		s.respondError(w, http.StatusBadRequest, "missing authorization response")
		return
	}

	s.flow.CompleteFlow(r.Context(), oauthflow.CallbackParamsFromQuery(q))
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleListConnections returns the connection state of every provider
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.syncer.Status(r.Context()).Providers)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	p, err := core.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.respondErr(w, err)
		return
	}

	if err := s.syncer.Disconnect(r.Context(), p); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":   "disconnected",
		"provider": string(p),
	})
}
