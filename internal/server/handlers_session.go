package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomchat/loom/internal/session"
	"github.com/loomchat/loom/pkg/types"
)

// listSessions returns the live sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

// createSession handles PUT /sessions/{sessionID}: create-or-get.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID required")
		return
	}

	sess, err := s.registry.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"streamUrl": fmt.Sprintf("/sessions/%s/events", sess.ID),
	})
}

// getSession returns session info.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// deleteSession tears down a session; the underlying log data survives.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.registry.Delete(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resetSession appends the advisory reset control event.
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		ClearPresence bool `json:"clearPresence"`
	}
	if r.Body != nil {
		// An empty body means default options.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := s.registry.Reset(r.Context(), sessionID, body.ClearPresence); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": sessionID})
}

// forkSession creates a new session carrying the agent roster and an
// optional chunk prefix.
func (s *Server) forkSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		AtMessageID  string `json:"atMessageId"`
		NewSessionID string `json:"newSessionId"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	sess, err := s.registry.Fork(r.Context(), sessionID, body.AtMessageID, body.NewSessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, session.ErrSessionExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "target session already exists")
		default:
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"parentId":  sessionID,
	})
}

// stopGeneration aborts one in-flight generation, or all of them when no
// messageId is given.
func (s *Server) stopGeneration(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		MessageID string `json:"messageId"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	stopped := sess.StopGeneration(body.MessageID)
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

// getMessages returns the materialized message list.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": sess.Materializer().Messages()})
}

// getModelMessages returns the flattened LLM-ready history.
func (s *Server) getModelMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": sess.Materializer().ModelMessages()})
}

// sendMessage appends a user message, which is what trips the trigger
// engine.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		ActorID string `json:"actorId"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content required")
		return
	}
	if body.ActorID == "" {
		body.ActorID = "anonymous"
	}

	messageID, err := sess.AppendUserMessage(r.Context(), body.ActorID, body.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messageId": messageID})
}

// getPresence returns the materialized presence records.
func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presence": sess.Materializer().Presence()})
}

// updatePresence appends a presence heartbeat upsert.
func (s *Server) updatePresence(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var rec types.PresenceRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if rec.ActorID == "" || rec.DeviceID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "actorID and deviceID required")
		return
	}
	if rec.Status == "" {
		rec.Status = types.StatusOnline
	}

	if err := sess.UpdatePresence(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// session resolves the routed session or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
