package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lsst-ts/ts-standardscripts/internal/history"
)

// maxListLimit caps the limit query parameter.
const maxListLimit = 1000

// handleListExecutions returns recorded runs, newest first.
// Query parameters: script, state, limit.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		fail(w, r, http.StatusServiceUnavailable, "execution history is not configured")
		return
	}

	q := r.URL.Query()
	f := history.Filter{Script: q.Get("script"), State: q.Get("state")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			fail(w, r, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		f.Limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), f)
	if err != nil {
		s.logger.Error("listing executions", "error", err)
		fail(w, r, http.StatusInternalServerError, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"executions": runs,
		"count":      len(runs),
	})
}

// handleGetExecution returns one recorded run.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		fail(w, r, http.StatusServiceUnavailable, "execution history is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.history.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			fail(w, r, http.StatusNotFound, "execution not found")
			return
		}
		s.logger.Error("getting execution", "id", id, "error", err)
		fail(w, r, http.StatusInternalServerError, "failed to get execution")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
