package server

import (
	"net/http"

	"github.com/lazypower/nanobrain/internal/engine"
)

// handleGetContext returns the budgeted summary wrapped for session
// injection by the start hook. With ?session_id= the memories shown open
// the session's pending turn.
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	summary, ids, err := s.engine.SessionContext(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	resp := map[string]any{
		"context": "<context>\n" + summary + "</context>\n",
		"tokens":  engine.EstimateTokens(summary),
	}
	if len(ids) > 0 {
		resp["memory_ids"] = ids
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Summary(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(summary))
}

func (s *Server) handleWriteSummary(w http.ResponseWriter, r *http.Request) {
	path, err := s.engine.WriteSummary(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}
