package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

// maxFieldSize bounds the non-file multipart parts.
const maxFieldSize = 64 << 10

// handleUpload spools a multipart upload and starts its analysis.
// Parts: "file" (required), "mapping" and "thresholds" (optional JSON).
// The file is streamed to disk, never buffered in memory.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+maxFieldSize*4)

	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: expected multipart/form-data", errBadRequest))
		return
	}

	req := core.AnalysisRequest{OwnsSource: true}
	handedOff := false
	defer func() {
		if req.Path != "" && !handedOff {
			os.Remove(req.Path)
		}
	}()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			respondError(w, r, uploadErr(err))
			return
		}

		switch part.FormName() {
		case "file":
			if req.Path != "" {
				part.Close()
				respondError(w, r, fmt.Errorf("%w: more than one file", errBadRequest))
				return
			}
			path, size, err := core.SpoolUpload(s.service.SpoolDir(), part.FileName(), part, maxSize)
			if err != nil {
				part.Close()
				respondError(w, r, uploadErr(err))
				return
			}
			req.FileName = filepath.Base(part.FileName())
			req.Path = path
			req.Size = size
		case "mapping":
			var m schema.Mapping
			if err := decodePart(part, &m); err != nil {
				part.Close()
				respondError(w, r, fmt.Errorf("%w: mapping: %v", errBadRequest, err))
				return
			}
			req.Mapping = m
		case "thresholds":
			var t core.Thresholds
			if err := decodePart(part, &t); err != nil {
				part.Close()
				respondError(w, r, fmt.Errorf("%w: thresholds: %v", errBadRequest, err))
				return
			}
			req.Thresholds = &t
		}
		part.Close()
	}

	if req.Path == "" {
		respondError(w, r, errNoFile)
		return
	}

	// The service owns the spooled file from here, even on error.
	handedOff = true
	run, err := s.service.StartAnalysis(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/analyses/"+run.ID)
	writeJSON(w, r, http.StatusAccepted, run)
}

// uploadErr turns a body size overrun into ErrFileTooLarge.
func uploadErr(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: %v", core.ErrFileTooLarge, err)
	}
	if errors.Is(err, core.ErrFileTooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func decodePart(r io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxFieldSize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// mappingRequest is the body of a mapping correction.
type mappingRequest struct {
	Mapping schema.Mapping `json:"mapping"`
}

// handleResumeWithMapping resumes a NEEDS_MAPPING analysis.
func (s *Server) handleResumeWithMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analysisID")

	var body mappingRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFieldSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(body.Mapping) == 0 {
		respondError(w, r, fmt.Errorf("%w: mapping is required", schema.ErrInvalidMapping))
		return
	}

	run, err := s.service.ResumeWithMapping(r.Context(), id, body.Mapping)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, run)
}

// handleCancelAnalysis cancels an analysis that has not finished.
func (s *Server) handleCancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analysisID")

	if err := s.service.CancelRun(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleAnalysisProgress streams progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter or the
// Last-Event-ID header. The event ID is the progress percentage.
func (s *Server) handleAnalysisProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "analysisID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"))
		return
	}

	progressCh, err := s.service.SubscribeProgress(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			// Skip what the client already has, but never the final event.
			if ev.ProgressPercent <= lastEventID && !ev.Terminal() {
				continue
			}
			lastEventID = ev.ProgressPercent

			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", ev.ProgressPercent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
