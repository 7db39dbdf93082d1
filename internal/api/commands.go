package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/ddc-bridge/internal/audit"
)

// handleListCommands returns the command log, newest first.
//
// Query parameters:
//   - display: only commands for this display index
//   - stage: published, applied, rejected, failed
//   - source: mqtt, api
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeUnavailable(w, "command log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Stage:  q.Get("stage"),
		Source: q.Get("source"),
	}

	if v := q.Get("display"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "display must be a non-negative integer")
			return
		}
		filter.Display = &n
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
