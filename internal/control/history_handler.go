package control

import (
	"net/http"
	"strconv"
)

// handleHistory serves the durable exited-session index backed by
// internal/historydb, distinct from GET /api/sessions (which only
// lists sessions the in-memory Registry still holds).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		jsonResponse(w, []interface{}{}, http.StatusOK)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.cfg.History.List(limit)
	if err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries, http.StatusOK)
}
