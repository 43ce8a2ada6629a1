package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/dispatch"
	"github.com/opsfleet/commandeer/internal/registry"
	"github.com/opsfleet/commandeer/internal/session"
	"github.com/opsfleet/commandeer/internal/store"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Agents:        len(s.reg.Snapshot("")),
	})
}

// handleSubmit handles POST /command. The body is a command draft;
// the response carries the command after the dispatch attempt, so
// the caller sees SENT, REJECTED, or PENDING (queued) immediately.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var draft command.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cmd, err := s.dispatcher.Submit(r.Context(), draft)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidDraft):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrSessionNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, session.ErrSessionClosed),
			errors.Is(err, session.ErrAgentMismatch):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, registry.ErrUnknownZone),
			errors.Is(err, registry.ErrNoAvailableAgent):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("command submission failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "command submission failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, cmd)
}

// handleGetCommand handles GET /command/{commandID}.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "commandID")

	cmd, err := s.commands.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "command not found")
			return
		}
		s.logger.Error("command lookup failed", "command_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "command lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, cmd)
}

// handleListCommands handles GET /commands with optional query filters:
// zone, agent, type (repeatable), status (repeatable), session.
// Filters are conjunctive; an absent filter matches everything.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if sessionID := q.Get("session"); sessionID != "" {
		cmds, err := s.commands.ListBySession(r.Context(), sessionID)
		if err != nil {
			s.logger.Error("command list failed", "session_id", sessionID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "command list failed")
			return
		}
		respondJSON(w, http.StatusOK, CommandListResponse{Commands: cmds, Count: len(cmds)})
		return
	}

	var path *command.AgentPath
	if zone := q.Get("zone"); zone != "" {
		path = &command.AgentPath{Zone: zone, Agent: q.Get("agent")}
	} else if q.Get("agent") != "" {
		s.writeError(w, http.StatusBadRequest, "agent filter requires zone")
		return
	}

	var types []command.Type
	for _, raw := range q["type"] {
		t := command.Type(strings.ToUpper(raw))
		if !command.KnownType(t) {
			s.writeError(w, http.StatusBadRequest, "unknown command type: "+raw)
			return
		}
		types = append(types, t)
	}

	var statuses []command.Status
	for _, raw := range q["status"] {
		st := command.Status(strings.ToUpper(raw))
		if !command.KnownStatus(st) {
			s.writeError(w, http.StatusBadRequest, "unknown command status: "+raw)
			return
		}
		statuses = append(statuses, st)
	}

	cmds, err := s.commands.List(r.Context(), path, types, statuses)
	if err != nil {
		s.logger.Error("command list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "command list failed")
		return
	}

	respondJSON(w, http.StatusOK, CommandListResponse{Commands: cmds, Count: len(cmds)})
}

// handleReport handles POST /command/{commandID}/report: an agent
// reporting a status change, optionally with captured outputs.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "commandID")

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Status = command.Status(strings.ToUpper(string(req.Status)))

	cmd, err := s.dispatcher.ReportStatus(r.Context(), id, req.Status, req.Outputs)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "command not found")
		case errors.Is(err, command.ErrAlreadyTerminal),
			errors.Is(err, command.ErrIllegalTransition):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("status report failed", "command_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "status report failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, cmd)
}

// handleListAgents handles GET /agents with an optional zone filter.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	snapshot := s.reg.Snapshot(r.URL.Query().Get("zone"))

	resp := AgentListResponse{Agents: make([]AgentInfo, 0, len(snapshot))}
	for _, a := range snapshot {
		resp.Agents = append(resp.Agents, AgentInfo{
			Zone:      a.Path.Zone,
			Agent:     a.Path.Agent,
			URL:       a.URL,
			Reserved:  a.Reserved,
			SessionID: a.SessionID,
		})
	}
	resp.Count = len(resp.Agents)

	respondJSON(w, http.StatusOK, resp)
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
