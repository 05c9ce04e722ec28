package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coldforge/renderfarm/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// mapAuthError translates an auth package sentinel error to this package's
// taxonomy before writeError classifies it.
func mapAuthError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrBadCredentials):
		return ErrUnauthorized
	case errors.Is(err, auth.ErrSessionNotFound):
		return ErrNotFound
	case errors.Is(err, auth.ErrTaskNotFound), errors.Is(err, auth.ErrTaskNotOwned):
		return ErrUnauthorized // indistinguishable from "task does not exist" across sessions
	case errors.Is(err, auth.ErrBadFrameRange):
		return ErrBadRequest
	case errors.Is(err, auth.ErrTaskNotPacked):
		return ErrBadRequest
	default:
		return err
	}
}

// handleLogin: GET /login?username=&password= -> {"session_id": "<hex>"}.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	username := r.URL.Query().Get("username")
	password := r.URL.Query().Get("password")

	sessionID, err := s.mgr.Login(r.Context(), username, password)
	if err != nil {
		writeError(w, mapAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

// handleSessionList: GET /session/list?username=&password= -> {"sessions": [...]}.
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	username := r.URL.Query().Get("username")
	password := r.URL.Query().Get("password")

	sessions, err := s.mgr.ListSessions(r.Context(), username, password)
	if err != nil {
		writeError(w, mapAuthError(err))
		return
	}

	type sessionBody struct {
		SessionID    string `json:"session_id"`
		Username     string `json:"username"`
		CreationTime string `json:"creation_time"`
	}
	out := make([]sessionBody, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionBody{SessionID: sess.SessionID, Username: sess.Username, CreationTime: sess.CreationTime})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleSessionRemove: GET /session/remove?username=&password=&session_id= -> {"session_id": "<hex>"}.
func (s *Server) handleSessionRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	username := r.URL.Query().Get("username")
	password := r.URL.Query().Get("password")
	sessionID := r.URL.Query().Get("session_id")

	if err := s.mgr.RemoveSession(r.Context(), username, password, sessionID); err != nil {
		writeError(w, mapAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}
