// Package adminapi provides the bearer-JWT-protected HTTP administration
// surface for the atrace daemon: STATUS queries, patch ENABLE/DISABLE, and
// TRACE RUN session management. It is an additional management surface and
// does not replace the external line protocol (spec.md §6).
package adminapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tripwire/atrace/daemon"
	"github.com/tripwire/atrace/internal/audit"
)

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server holds the dependencies needed by the admin HTTP handlers. It owns
// the set of TRACE RUN sessions it has created, keyed by a server-issued
// session ID, so that DELETE /sessions/{id} can look the session back up.
type Server struct {
	dispatcher *daemon.Dispatcher
	broadcast  *daemon.Broadcaster
	index      *daemon.MetadataIndex
	audit      *audit.Logger

	sessions sync.Map // map[string]*daemon.Subscriber
}

// NewServer creates a new Server. audit may be nil, in which case
// administrative actions are not logged (useful in tests).
func NewServer(dispatcher *daemon.Dispatcher, broadcast *daemon.Broadcaster, index *daemon.MetadataIndex, auditLog *audit.Logger) *Server {
	return &Server{dispatcher: dispatcher, broadcast: broadcast, index: index, audit: auditLog}
}

// logAction appends an administrative action to the audit trail. Failures
// are not surfaced to the HTTP caller: a stalled audit log must never block
// an operator's ability to enable/disable tracing or stop a runaway RUN
// session.
func (s *Server) logAction(action string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"action": action, "detail": detail})
	if err != nil {
		return
	}
	_, _ = s.audit.Append(payload)
}

// handleHealthz responds to GET /healthz. No authentication required, so
// orchestrators and load balancers can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus responds to GET /status with the engine-wide counters and
// per-function patch report (spec.md §6).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

// handleListPatches responds to GET /patches with just the per-function
// patch rows from the status report.
func (s *Server) handleListPatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Status().Patches)
}

// patchToggleRequest is the body of POST /patches/{name}.
type patchToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// handleTogglePatch responds to POST /patches/{name}, enabling or disabling
// the named function.
func (s *Server) handleTogglePatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing function name")
		return
	}

	var req patchToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	if req.Enabled {
		err = s.dispatcher.Enable(name)
	} else {
		err = s.dispatcher.Disable(r.Context(), name)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logAction("patch_toggle", map[string]any{"function": name, "enabled": req.Enabled})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createSessionRequest is the body of POST /sessions. Command carries the
// raw TRACE RUN grammar spec.md §6 defines: "[CD=path] [filters] -- cmd...".
type createSessionRequest struct {
	Command string `json:"command"`
}

// createSessionResponse is the body returned by POST /sessions.
type createSessionResponse struct {
	ID string `json:"id"`
}

// handleCreateSession responds to POST /sessions by spawning a new TRACE
// RUN session (spec.md §6's RUN operation).
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	id := uuid.NewString()
	sub := s.broadcast.Register(id, daemon.NewSession())

	if err := s.dispatcher.StartRun(r.Context(), sub, s.index, req.Command); err != nil {
		s.broadcast.Unregister(id)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.sessions.Store(id, sub)
	s.logAction("run_start", map[string]any{"session_id": id, "command": req.Command, "started_at": time.Now().UTC().Format(time.RFC3339)})
	writeJSON(w, http.StatusCreated, createSessionResponse{ID: id})
}

// handleStopSession responds to DELETE /sessions/{id} by issuing STOP
// against the identified session (spec.md §6's STOP operation).
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, ok := s.sessions.Load(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session id")
		return
	}
	sub := v.(*daemon.Subscriber)

	s.dispatcher.Stop(sub)
	s.sessions.Delete(id)
	s.broadcast.Unregister(id)

	s.logAction("session_stop", map[string]any{"session_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
