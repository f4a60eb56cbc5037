package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"scriptroom/internal/broadcast"
	"scriptroom/internal/script"
	"scriptroom/internal/session"
	"scriptroom/internal/transport"
)

// defaultScriptName names added scripts whose source carries no name.
const defaultScriptName = "New Script"

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Scripts())
}

func (s *Server) handleAPIGetScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sc, scope, err := s.state.Get(id)
	if err != nil {
		s.writeError(w, "get script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, session.Entry{
		Stored:     sc,
		Scope:      scope,
		Executions: s.state.Registry().List(id),
	})
}

// handleAPIAddScript accepts a JSON record or header-annotated source.
func (s *Server) handleAPIAddScript(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	rec, err := script.ParseRecord(string(body))
	if err != nil {
		s.writeError(w, "parse script", err)
		return
	}
	if rec.Name == "" {
		rec.Name = defaultScriptName
	}
	// URLs are only ever set by import.
	rec.URL = ""
	s.addRecord(w, r, rec)
}

type importScriptRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAPIImportScript(w http.ResponseWriter, r *http.Request) {
	var req importScriptRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	rec, err := script.Import(r.Context(), s.httpClient, req.URL)
	if err != nil {
		s.logger.Warn("import failed", "url", req.URL, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.addRecord(w, r, rec)
}

func (s *Server) addRecord(w http.ResponseWriter, r *http.Request, rec script.Record) {
	if err := s.check(rec); err != nil {
		s.writeError(w, "validate script", err)
		return
	}
	sc, err := s.state.Add(r.Context(), rec)
	if err != nil {
		s.writeError(w, "add script", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sc)
}

// check runs the configured validator, reporting failures as validation
// errors.
func (s *Server) check(rec script.Record) error {
	if s.validate == nil {
		return nil
	}
	if err := s.validate(rec); err != nil {
		return fmt.Errorf("%w: %v", script.ErrValidation, err)
	}
	return nil
}

func (s *Server) handleAPIUpdateScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p script.Patch
	if !s.decodeBody(w, r, &p) {
		return
	}
	if p.Code != nil || p.Language != nil || p.Parameters != nil {
		sc, _, err := s.state.Get(id)
		if err != nil {
			s.writeError(w, "update script", err)
			return
		}
		merged := sc.Record
		if p.Code != nil {
			merged.Code = *p.Code
		}
		if p.Language != nil {
			merged.Language = *p.Language
		}
		if p.Parameters != nil {
			merged.Parameters = p.Parameters
		}
		if !sc.ReadOnly() {
			if err := s.check(merged); err != nil {
				s.writeError(w, "validate script", err)
				return
			}
		}
	}
	if err := s.state.Update(r.Context(), id, p); err != nil {
		s.writeError(w, "update script", err)
		return
	}
	sc, _, _ := s.state.Get(id)
	s.writeJSON(w, http.StatusOK, sc)
}

// handleAPIDeleteScript deletes local scripts for anyone and shared ones
// for GMs only.
func (s *Server) handleAPIDeleteScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, scope, err := s.state.Get(id)
	if err != nil {
		s.writeError(w, "delete script", err)
		return
	}
	if scope == session.ScopeShared && !s.requireGM(w, "delete script") {
		return
	}
	if err := s.state.Delete(r.Context(), id); err != nil {
		s.writeError(w, "delete script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runResponse struct {
	ExecutionID *string `json:"execution_id"`
}

func (s *Server) handleAPIRunScript(w http.ResponseWriter, r *http.Request) {
	execID, err := s.state.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, "run script", err)
		return
	}
	var resp runResponse
	if execID != "" {
		resp.ExecutionID = &execID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIShareScript(w http.ResponseWriter, r *http.Request) {
	if !s.requireGM(w, "share script") {
		return
	}
	if err := s.state.Share(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, "share script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIUnshareScript(w http.ResponseWriter, r *http.Request) {
	if !s.requireGM(w, "unshare script") {
		return
	}
	if err := s.state.Unshare(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, "unshare script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPICopyScript(w http.ResponseWriter, r *http.Request) {
	sc, err := s.state.CopyToNew(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, "copy script", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sc)
}

// handleAPIRefreshScript re-imports a script from its url.
func (s *Server) handleAPIRefreshScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sc, _, err := s.state.Get(id)
	if err != nil {
		s.writeError(w, "refresh script", err)
		return
	}
	if !sc.ReadOnly() {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "script was not imported"})
		return
	}
	rec, err := script.Import(r.Context(), s.httpClient, sc.URL)
	if err != nil {
		s.logger.Warn("refresh import failed", "script", id, "url", sc.URL, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if err := s.state.Refresh(r.Context(), id, rec); err != nil {
		s.writeError(w, "refresh script", err)
		return
	}
	sc, _, _ = s.state.Get(id)
	s.writeJSON(w, http.StatusOK, sc)
}

type setParameterRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleAPISetParameter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid parameter index"})
		return
	}
	var req setParameterRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	p, err := s.state.SetParameterValue(r.Context(), id, index, req.Value)
	if err != nil {
		s.writeError(w, "set parameter", err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAPIListExecutions(w http.ResponseWriter, r *http.Request) {
	execs := s.state.Registry().Snapshot()
	if execs == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, execs)
}

// handleAPIStopExecution stops through the protocol so UI-initiated stops
// take the same path as remote ones.
func (s *Server) handleAPIStopExecution(w http.ResponseWriter, r *http.Request) {
	msg := broadcast.Message{
		Type:        broadcast.TypeStopExecution,
		ID:          r.PathValue("id"),
		ExecutionID: r.PathValue("eid"),
	}
	if err := broadcast.Send(r.Context(), s.msgr, msg, transport.DestinationLocal); err != nil {
		s.writeError(w, "stop execution", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type broadcastRequest struct {
	broadcast.Message
	// Send selects who receives the message; LOCAL when empty.
	Send transport.Destination `json:"send,omitempty"`
}

func (s *Server) handleAPIBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	dest := req.Send
	if dest == "" {
		dest = transport.DestinationLocal
	}
	if !dest.Valid() {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid destination %q", dest)})
		return
	}
	if err := broadcast.Send(r.Context(), s.msgr, req.Message, dest); err != nil {
		s.writeError(w, "broadcast", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
