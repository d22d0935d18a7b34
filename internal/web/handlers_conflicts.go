package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/upcguard/internal/core"
)

// handleListConflicts returns one page of an analysis's conflicts, ranked
// by cost, with suggestions attached.
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	f, err := parseConflictFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	page, err := s.service.ListConflicts(r.Context(), chi.URLParam(r, "analysisID"), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.GetConflict(r.Context(), chi.URLParam(r, "conflictID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

type statusRequest struct {
	Status string `json:"status"`
}

// handleUpdateConflict moves a conflict along its workflow.
func (s *Server) handleUpdateConflict(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFieldSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil || body.Status == "" {
		respondError(w, r, fmt.Errorf("%w: body must be {\"status\": ...}", errBadRequest))
		return
	}

	to := core.ConflictStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	v, err := s.service.UpdateConflictStatus(r.Context(), chi.URLParam(r, "conflictID"), to)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}
