package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/threadbridge/internal/session"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// StatusResponse summarizes manager capacity.
type StatusResponse struct {
	Active      int `json:"active"`
	MaxSessions int `json:"maxSessions"`
}

// SessionDetail is a session with its recent history.
type SessionDetail struct {
	types.SessionInfo
	History []session.HistoryEntry `json:"history"`
}

// getStatus handles GET /status
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Active:      s.sessions.Count(),
		MaxSessions: s.sessions.MaxSessions(),
	})
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.sessions.List()
	if infos == nil {
		infos = []types.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, SessionDetail{
		SessionInfo: sess.Info(),
		History:     sess.History(),
	})
}

// killSession handles DELETE /session/{sessionID}
func (s *Server) killSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessions.Kill)
}

// stopSession handles POST /session/{sessionID}/stop
func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessions.Stop)
}

// interruptSession handles POST /session/{sessionID}/interrupt
func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessions.Interrupt)
}

// restartSession handles POST /session/{sessionID}/restart
func (s *Server) restartSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessions.Restart)
}

// pauseSession handles POST /session/{sessionID}/pause
func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessions.Pause)
}

func (s *Server) sessionOp(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	if err := op(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}
