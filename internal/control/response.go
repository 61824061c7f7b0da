package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vibetunnel/core/internal/session"
)

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func apiError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, map[string]string{"error": message}, status)
}

// writeSessionError maps a session package domain error to its HTTP
// status code.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		apiError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrIDCollision):
		apiError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrExited):
		apiError(w, err.Error(), http.StatusGone)
	case errors.Is(err, session.ErrInvalidWorkingDir),
		errors.Is(err, session.ErrInvalidCommand),
		errors.Is(err, session.ErrInvalidResize):
		apiError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrSpawnFailed):
		apiError(w, err.Error(), http.StatusInternalServerError)
	default:
		apiError(w, err.Error(), http.StatusInternalServerError)
	}
}
