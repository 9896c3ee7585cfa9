package server

import (
	"fmt"
	"net/http"
	"strconv"
)

func (s *Server) listJournal(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, invalid("INVALID_REQUEST", fmt.Errorf("limit %q must be a non-negative integer", raw)))
			return
		}
		limit = parsed
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
