package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/session"
)

// PostMessageRequest is the body of a user message.
type PostMessageRequest struct {
	UserID string `json:"userID"`
	Text   string `json:"text"`
}

// ReactionRequest is the body of a reaction change.
type ReactionRequest struct {
	UserID string `json:"userID"`
	Emoji  string `json:"emoji"`
}

// listThreads handles GET /thread
func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	threads := s.chat.Threads()
	if threads == nil {
		threads = []string{}
	}
	writeJSON(w, http.StatusOK, threads)
}

// getThread handles GET /thread/{threadID}
func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.ThreadHistory(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []platform.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// createThread handles POST /thread
func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	s.post(w, r, "")
}

// postMessage handles POST /thread/{threadID}/message
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	s.post(w, r, chi.URLParam(r, "threadID"))
}

func (s *Server) post(w http.ResponseWriter, r *http.Request, threadID string) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "userID and text are required")
		return
	}

	msg, err := s.chat.Post(r.Context(), threadID, req.UserID, req.Text)
	if err != nil {
		var capErr *session.CapacityError
		if errors.As(err, &capErr) {
			// The message is in the thread; only the session was refused.
			writeErrorWithDetails(w, http.StatusTooManyRequests, ErrCodeCapacityExceeded, err.Error(), map[string]any{
				"threadID": msg.ThreadID,
				"postID":   msg.ID,
				"active":   capErr.Active,
				"limit":    capErr.Limit,
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// addReaction handles POST /post/{postID}/reaction
func (s *Server) addReaction(w http.ResponseWriter, r *http.Request) {
	s.react(w, r, true)
}

// removeReaction handles DELETE /post/{postID}/reaction
func (s *Server) removeReaction(w http.ResponseWriter, r *http.Request) {
	s.react(w, r, false)
}

func (s *Server) react(w http.ResponseWriter, r *http.Request, added bool) {
	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.UserID == "" || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "userID and emoji are required")
		return
	}
	emoji := strings.Trim(req.Emoji, ":")
	if err := s.chat.React(r.Context(), chi.URLParam(r, "postID"), req.UserID, emoji, added); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}
