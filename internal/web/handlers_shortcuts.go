package web

import "net/http"

func (s *Server) handleAPIListShortcuts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Shortcuts())
}

type toggleShortcutsRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAPIToggleShortcuts(w http.ResponseWriter, r *http.Request) {
	var req toggleShortcutsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.state.SetToolEnabled(req.Enabled); err != nil {
		s.writeError(w, "toggle shortcuts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.state.Shortcuts())
}

type bindShortcutRequest struct {
	ScriptID string `json:"script_id"`
}

func (s *Server) handleAPIBindShortcut(w http.ResponseWriter, r *http.Request) {
	var req bindShortcutRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.state.Bind(r.PathValue("letter"), req.ScriptID); err != nil {
		s.writeError(w, "bind shortcut", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.state.Shortcuts())
}

func (s *Server) handleAPIUnbindShortcut(w http.ResponseWriter, r *http.Request) {
	if err := s.state.Unbind(r.PathValue("letter")); err != nil {
		s.writeError(w, "unbind shortcut", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.state.Shortcuts())
}

// handleAPIPressShortcut toggles the letter's script. A null execution_id
// means the press stopped a running execution or the run finished at once.
func (s *Server) handleAPIPressShortcut(w http.ResponseWriter, r *http.Request) {
	execID, err := s.state.Press(r.Context(), r.PathValue("letter"))
	if err != nil {
		s.writeError(w, "press shortcut", err)
		return
	}
	var resp runResponse
	if execID != "" {
		resp.ExecutionID = &execID
	}
	s.writeJSON(w, http.StatusOK, resp)
}
