package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kundimport/internal/importer"
)

// progressResponse decorates a progress snapshot with the derived percent.
type progressResponse struct {
	importer.Progress
	Percent int `json:"percent"`
}

func toProgressResponse(p importer.Progress) progressResponse {
	return progressResponse{Progress: p, Percent: p.Percent()}
}

// handleStartImport accepts a multipart file upload and starts an import
// session for the organization.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if _, err := uuid.Parse(orgID); err != nil {
		respondBadRequest(w, "invalid organization id")
		return
	}

	exists, err := s.store.OrganizationExists(r.Context(), orgID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !exists {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:   "organization not found",
			Message: "organization not found",
			Code:    "ORG001",
		})
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+4096)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		respondBadRequest(w, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondBadRequest(w, "no file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	sessionID, err := s.service.Start(r.Context(), orgID, header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, map[string]string{"sessionId": sessionID})
}

// handleSessionProgress returns the current progress snapshot.
func (s *Server) handleSessionProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Progress(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, toProgressResponse(p))
}

// handleProgressStream streams progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter: the event id is
// the progress percentage, so reconnecting clients skip events they have
// already seen.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	var lastEventID int
	if lastEventIDStr != "" {
		lastEventID, _ = strconv.Atoi(lastEventIDStr)
	}

	progressCh, err := s.service.Subscribe(sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.service.Unsubscribe(sessionID, progressCh)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				rc.Flush()
				return
			}

			currentPercent := progress.Percent()
			if lastEventIDStr != "" && currentPercent <= lastEventID {
				continue
			}

			data, _ := json.Marshal(toProgressResponse(progress))
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", currentPercent, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleSessionSummary returns the review view: counts, capped error and
// warning lists, and duplicate flags.
func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.Summary(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sum)
}

// excludeRequest is the body for POST .../exclude.
type excludeRequest struct {
	Rows []int `json:"rows"`
}

// handleExcludeRows removes rows from the importable set during review.
func (s *Server) handleExcludeRows(w http.ResponseWriter, r *http.Request) {
	var req excludeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if len(req.Rows) == 0 {
		respondBadRequest(w, "no rows given")
		return
	}

	if err := s.service.Exclude(chi.URLParam(r, "sessionID"), req.Rows); err != nil {
		s.respondError(w, r, err)
		return
	}

	sum, err := s.service.Summary(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sum)
}

// handleCommit persists the reviewed session.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Commit(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		// A partial failure still reports what was persisted.
		if result != nil && result.Imported > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(result)
			return
		}
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleCancel abandons a session before anything is persisted.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

// handleSessionResult returns the final outcome of a finished session.
func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}
