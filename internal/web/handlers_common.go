package web

// This file contains shared request parsing helpers and the run lookup
// handlers.

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/upcguard/internal/core"
)

const (
	defaultRunListSize = 50
	maxRunListSize     = 500
)

// parseIntParam parses a non-negative integer query parameter with a
// default value.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return i, nil
}

// parseConflictFilter reads kind, severity, status, limit and offset.
func parseConflictFilter(r *http.Request) (core.ConflictFilter, error) {
	q := r.URL.Query()
	var f core.ConflictFilter

	if v := q.Get("kind"); v != "" {
		f.Kind = core.ConflictKind(strings.ToUpper(v))
		if !f.Kind.Valid() {
			return f, fmt.Errorf("%w: unknown kind %q", errBadRequest, v)
		}
	}
	if v := q.Get("severity"); v != "" {
		sev, err := core.ParseSeverity(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		f.Severity = sev
	}
	if v := q.Get("status"); v != "" {
		f.Status = core.ConflictStatus(strings.ToUpper(v))
		if !f.Status.Valid() {
			return f, fmt.Errorf("%w: unknown status %q", errBadRequest, v)
		}
	}

	var err error
	if f.Limit, err = parseIntParam(r, "limit", core.DefaultConflictPageSize); err != nil {
		return f, err
	}
	if f.Offset, err = parseIntParam(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

// handleListAnalyses returns the most recent analyses, newest first.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", defaultRunListSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if limit == 0 || limit > maxRunListSize {
		limit = maxRunListSize
	}

	runs, err := s.service.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*core.AnalysisRun{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"analyses": runs})
}

// handleGetAnalysis returns the latest state of one analysis.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), chi.URLParam(r, "analysisID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// handleStatus reports run slot usage for monitoring.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"runs": s.service.RunLimiterStatus(),
	})
}
