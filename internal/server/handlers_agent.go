package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomchat/loom/internal/session"
	"github.com/loomchat/loom/pkg/types"
)

// listAgents returns the session's registered agent specs.
func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": sess.Materializer().Agents()})
}

// registerAgents upserts agent specs via durable log events.
func (s *Server) registerAgents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Agents []types.AgentSpec `json:"agents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if len(body.Agents) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "agents required")
		return
	}
	for _, spec := range body.Agents {
		if spec.ID == "" || spec.Endpoint == "" {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "agent id and endpoint required")
			return
		}
	}

	if err := sess.RegisterAgents(r.Context(), body.Agents...); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": sess.Materializer().Agents()})
}

// removeAgent appends a removal event for a registered agent.
func (s *Server) removeAgent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if err := sess.RemoveAgent(r.Context(), agentID); err != nil {
		if errors.Is(err, session.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
