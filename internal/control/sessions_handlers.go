package control

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vibetunnel/core/internal/session"
)

// Input limits.
const (
	maxNameBytes    = 256
	maxInputBytes   = 1 << 20
	maxCommandArgv  = 64
	maxDecodeBudget = maxInputBytes + 4096
)

type createSessionRequest struct {
	Command            []string          `json:"command"`
	WorkingDir         string            `json:"workingDir"`
	Name               string            `json:"name,omitempty"`
	Cols               int               `json:"cols,omitempty"`
	Rows               int               `json:"rows,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	SessionID          string            `json:"sessionId,omitempty"`
	TitleMode          string            `json:"titleMode,omitempty"`
	PreventTitleChange bool              `json:"preventTitleChange,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDecodeBudget)).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Command) == 0 || len(req.Command) > maxCommandArgv {
		apiError(w, "command must have 1-64 tokens", http.StatusBadRequest)
		return
	}
	if len(req.Name) > maxNameBytes {
		apiError(w, "name exceeds 256 bytes", http.StatusBadRequest)
		return
	}

	mode := session.TitleMode(req.TitleMode)
	switch mode {
	case "", session.TitleNone, session.TitleStatic, session.TitleDynamic:
		if mode == "" {
			mode = session.TitleNone
		}
	default:
		apiError(w, "invalid titleMode", http.StatusBadRequest)
		return
	}

	sess, err := s.cfg.Registry.Create(session.Spec{
		ID:                 req.SessionID,
		Name:               req.Name,
		Command:            req.Command,
		WorkingDir:         req.WorkingDir,
		Cols:               req.Cols,
		Rows:               req.Rows,
		Env:                req.Env,
		TitleMode:          mode,
		PreventTitleChange: req.PreventTitleChange,
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if s.cfg.Events != nil {
		s.cfg.Events.Publish(eventSessionCreated(sess.ID))
	}
	jsonResponse(w, map[string]string{"sessionId": sess.ID}, http.StatusOK)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.cfg.Registry.List(), http.StatusOK)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.cfg.Registry.Get(id)
	if !ok {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, sess, http.StatusOK)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.cfg.Registry.Get(id); !ok {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}
	if err := s.cfg.Registry.Kill(id, sigTerm); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req inputRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDecodeBudget)).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Text) == 0 {
		apiError(w, "input must not be empty", http.StatusBadRequest)
		return
	}
	if len(req.Text) > maxInputBytes {
		apiError(w, "input exceeds 1 MiB", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Registry.Write(id, []byte(req.Text)); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Registry.Resize(id, req.Cols, req.Rows); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	act, err := s.cfg.Registry.Activity(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	sess, _ := s.cfg.Registry.Get(id)
	jsonResponse(w, map[string]interface{}{
		"isActive":  act.IsActive,
		"timestamp": act.LastOutputAt,
		"session":   sess,
	}, http.StatusOK)
}

func (s *Server) handleAllActivity(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.cfg.Registry.AllActivity(), http.StatusOK)
}
