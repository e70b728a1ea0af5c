package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomchat/loom/pkg/types"
)

// resolveApproval handles POST /approvals/{toolUseID}: an operator allowing
// or denying a pending tool use.
func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request) {
	toolUseID := chi.URLParam(r, "toolUseID")

	var body struct {
		Approved     bool           `json:"approved"`
		UpdatedInput map[string]any `json:"updatedInput"`
		Message      string         `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	var decision types.Decision
	if body.Approved {
		decision = types.Allow(body.UpdatedInput)
	} else {
		message := body.Message
		if message == "" {
			message = "denied by operator"
		}
		decision = types.Deny(message)
	}

	if !s.approvals.Resolve(toolUseID, decision) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no pending approval for toolUseID")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// resolveAnswers handles POST /answers/{toolUseID}: always resolves as an
// allow carrying the answers merged into updatedInput.
func (s *Server) resolveAnswers(w http.ResponseWriter, r *http.Request) {
	toolUseID := chi.URLParam(r, "toolUseID")

	var body struct {
		Answers       map[string]any `json:"answers"`
		OriginalInput map[string]any `json:"originalInput"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	if !s.approvals.ResolveAnswers(toolUseID, body.Answers, body.OriginalInput) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no pending approval for toolUseID")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// listApprovals returns outstanding approval requests.
func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.approvals.Pending()})
}
